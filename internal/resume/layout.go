// Package resume lays passed tasks out into template sections. Selection,
// ordering and truncation are pure; persistence and versioning live in the
// engine.
package resume

import (
	"sort"

	"proofgate/internal/config"
	"proofgate/internal/domain"
)

// Candidate pairs a passed task with the exact attempt that earned the pass.
// Every resume entry is derived from one candidate, which is what makes each
// line traceable to a validated proof.
type Candidate struct {
	Task    domain.Task
	Attempt domain.Attempt
}

type Entry struct {
	Section  string
	Position int
	Task     domain.Task
	Attempt  domain.Attempt
}

// Layout distributes candidates into the template's sections, sorted by each
// section's configured key and truncated to its entry cap. A candidate may
// appear in several sections if their proof-type filters overlap.
func Layout(tpl config.Template, candidates []Candidate) []Entry {
	var out []Entry
	for _, section := range tpl.Sections {
		var picked []Candidate
		for _, c := range candidates {
			if sectionAccepts(section, c.Task.ProofType) {
				picked = append(picked, c)
			}
		}
		sortCandidates(picked, section.SortBy)
		if len(picked) > section.MaxEntries {
			picked = picked[:section.MaxEntries]
		}
		for i, c := range picked {
			out = append(out, Entry{Section: section.ID, Position: i + 1, Task: c.Task, Attempt: c.Attempt})
		}
	}
	return out
}

func sectionAccepts(s config.Section, proofType string) bool {
	for _, pt := range s.ProofTypes {
		if pt == proofType {
			return true
		}
	}
	return false
}

func sortCandidates(cs []Candidate, key string) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch key {
		case "score":
			as, bs := bestScore(a.Task), bestScore(b.Task)
			if as != bs {
				return as > bs
			}
		case "date":
			at, bt := passedAt(a.Task), passedAt(b.Task)
			if at != bt {
				return at < bt
			}
		default: // weight
			if a.Task.Weight != b.Task.Weight {
				return a.Task.Weight > b.Task.Weight
			}
		}
		return a.Task.ID < b.Task.ID
	})
}

func bestScore(t domain.Task) float64 {
	if t.BestScore == nil {
		return 0
	}
	return *t.BestScore
}

func passedAt(t domain.Task) string {
	if t.FirstPassedAt == nil {
		return ""
	}
	return *t.FirstPassedAt
}
