// Package eligibility computes whether a learner may generate output
// artifacts. Core tasks are a hard gate; support tasks contribute a weighted
// average. The result always carries full diagnostic detail; no caller ever
// receives a bare boolean.
package eligibility

import (
	"fmt"
	"time"

	"proofgate/internal/domain"
	"proofgate/internal/validator"
)

type RemainingTask struct {
	TaskID    string `json:"task_id"`
	Objective string `json:"objective"`
}

type CoreStatus struct {
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	AllPassed bool            `json:"all_passed"`
	Remaining []RemainingTask `json:"remaining"`
}

type SupportTask struct {
	TaskID    string  `json:"task_id"`
	Objective string  `json:"objective"`
	BestScore float64 `json:"best_score"`
	Weight    int     `json:"weight"`
	Passed    bool    `json:"passed"`
}

type SupportStatus struct {
	WeightedScore float64       `json:"weighted_score"`
	RequiredScore float64       `json:"required_score"`
	Passed        bool          `json:"passed"`
	Tasks         []SupportTask `json:"tasks"`
}

type OverrideInfo struct {
	ID            string `json:"id"`
	Justification string `json:"justification"`
	GrantedBy     string `json:"granted_by"`
	GrantedAt     string `json:"granted_at"`
}

type Evaluation struct {
	IsEligible bool          `json:"is_eligible"`
	Override   *OverrideInfo `json:"override,omitempty"`
	Core       CoreStatus    `json:"core_status"`
	Support    SupportStatus `json:"support_status"`
	Message    string        `json:"message"`
}

// Evaluate derives eligibility from the task set and an optional override.
// An active, unexpired override unconditionally grants eligibility and is
// always disclosed in the result.
func Evaluate(tasks []domain.Task, override *domain.Override, requiredScore float64, now time.Time) Evaluation {
	ev := Evaluation{}
	ev.Support.RequiredScore = requiredScore

	var weightSum, scoreSum float64
	for _, t := range tasks {
		if t.IsCore {
			ev.Core.Total++
			if t.Passed() {
				ev.Core.Completed++
			} else {
				ev.Core.Remaining = append(ev.Core.Remaining, RemainingTask{TaskID: t.ID, Objective: t.Objective})
			}
			continue
		}
		if t.ProofType == validator.ProofNone {
			continue
		}
		score := 0.0
		if t.Passed() && t.BestScore != nil {
			score = *t.BestScore
		}
		weightSum += float64(t.Weight)
		scoreSum += score * float64(t.Weight)
		ev.Support.Tasks = append(ev.Support.Tasks, SupportTask{
			TaskID:    t.ID,
			Objective: t.Objective,
			BestScore: score,
			Weight:    t.Weight,
			Passed:    t.Passed(),
		})
	}
	ev.Core.AllPassed = ev.Core.Completed == ev.Core.Total
	if weightSum > 0 {
		ev.Support.WeightedScore = scoreSum / weightSum
	} else {
		// No support tasks means nothing to average; the gate is core-only.
		ev.Support.WeightedScore = 100
	}
	ev.Support.Passed = ev.Support.WeightedScore >= requiredScore
	ev.IsEligible = ev.Core.AllPassed && ev.Support.Passed

	if ov := activeOverride(override, now); ov != nil {
		ev.IsEligible = true
		ev.Override = &OverrideInfo{
			ID:            ov.ID,
			Justification: ov.Justification,
			GrantedBy:     ov.GrantedBy,
			GrantedAt:     ov.GrantedAt,
		}
		ev.Message = fmt.Sprintf("Eligible by manual override granted by %s: %s", ov.GrantedBy, ov.Justification)
		return ev
	}

	ev.Message = message(ev)
	return ev
}

func activeOverride(ov *domain.Override, now time.Time) *domain.Override {
	if ov == nil || !ov.Active {
		return nil
	}
	if ov.ExpiresAt != nil {
		exp, err := time.Parse(time.RFC3339, *ov.ExpiresAt)
		if err == nil && now.After(exp) {
			return nil
		}
	}
	return ov
}

func message(ev Evaluation) string {
	switch {
	case ev.IsEligible:
		return fmt.Sprintf("Eligible: all %d core tasks passed and support score %.1f meets the %.0f requirement.",
			ev.Core.Total, ev.Support.WeightedScore, ev.Support.RequiredScore)
	case !ev.Core.AllPassed && !ev.Support.Passed:
		return fmt.Sprintf("Not eligible: %d core task(s) remain and support score %.1f is below %.0f.",
			len(ev.Core.Remaining), ev.Support.WeightedScore, ev.Support.RequiredScore)
	case !ev.Core.AllPassed:
		return fmt.Sprintf("Not eligible: %d core task(s) remain; every core task must pass.", len(ev.Core.Remaining))
	default:
		return fmt.Sprintf("Not eligible: support score %.1f is below the required %.0f.",
			ev.Support.WeightedScore, ev.Support.RequiredScore)
	}
}
