// Package stagnation scans a learner's attempt history for signals that they
// are stuck and derives remediation proposals. It only ever reads the ledger
// and suggests; applying a proposal is the engine's two-phase protocol.
package stagnation

import (
	"fmt"
	"sort"
	"time"

	"proofgate/internal/domain"
)

const (
	IssueInactivity       = "inactivity"
	IssueRepeatedFailure  = "repeated_failure"
	IssueLowScores        = "low_scores"
	IssueDeadlinePressure = "deadline_pressure"
)

const (
	SeverityNone   = "none"
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	ActionDifficultyDowngrade = "difficulty_downgrade"
	ActionScopeReduction      = "scope_reduction"
	ActionDeadlineExtension   = "deadline_extension"
	ActionTaskRemoval         = "task_removal"
)

type Issue struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
	Detail string `json:"detail"`
}

// Change is one proposed before/after field adjustment on a task contract.
type Change struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

type Recommendation struct {
	ActionType string   `json:"action_type"`
	TaskID     string   `json:"task_id"`
	Reason     string   `json:"reason"`
	Changes    []Change `json:"changes"`
}

type Report struct {
	IsStagnant      bool             `json:"is_stagnant"`
	Issues          []Issue          `json:"issues"`
	Recommendations []Recommendation `json:"recommendations"`
	Severity        string           `json:"severity"`
}

type Params struct {
	InactivityDays    int
	FailStreak        int
	LowScoreWindow    int
	LowScoreThreshold float64
}

// Analyze evaluates the four stagnation signals over the learner's tasks and
// attempts. Attempts may arrive in any order.
func Analyze(tasks []domain.Task, attempts []domain.Attempt, p Params, now time.Time) Report {
	var rep Report
	byTask := map[string]domain.Task{}
	for _, t := range tasks {
		byTask[t.ID] = t
	}
	sorted := make([]domain.Attempt, len(attempts))
	copy(sorted, attempts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubmittedAt < sorted[j].SubmittedAt })

	checkInactivity(&rep, tasks, sorted, p, now)
	checkRepeatedFailure(&rep, byTask, sorted, p)
	checkLowScores(&rep, byTask, sorted, p)
	checkDeadlinePressure(&rep, tasks, now)

	rep.Severity = severity(rep.Issues)
	rep.IsStagnant = len(rep.Issues) > 0
	return rep
}

// severity grows with the number of distinct issue types; repeated failure
// together with low scores is treated as high on its own because that pair
// means effort without progress.
func severity(issues []Issue) string {
	kinds := map[string]bool{}
	for _, i := range issues {
		kinds[i.Type] = true
	}
	switch {
	case len(kinds) >= 3:
		return SeverityHigh
	case kinds[IssueRepeatedFailure] && kinds[IssueLowScores]:
		return SeverityHigh
	case len(kinds) == 2:
		return SeverityMedium
	case len(kinds) == 1:
		return SeverityLow
	default:
		return SeverityNone
	}
}

func checkInactivity(rep *Report, tasks []domain.Task, sorted []domain.Attempt, p Params, now time.Time) {
	var incomplete []domain.Task
	for _, t := range tasks {
		if !t.Passed() {
			incomplete = append(incomplete, t)
		}
	}
	if len(incomplete) == 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -p.InactivityDays)
	for _, a := range sorted {
		if ts, err := time.Parse(time.RFC3339, a.SubmittedAt); err == nil && ts.After(cutoff) {
			return
		}
	}
	rep.Issues = append(rep.Issues, Issue{
		Type:   IssueInactivity,
		Detail: fmt.Sprintf("no attempts in the last %d days while %d task(s) remain incomplete", p.InactivityDays, len(incomplete)),
	})
	target := incomplete[0]
	if t := nearestDue(incomplete); t != nil {
		target = *t
		rep.Recommendations = append(rep.Recommendations, extendDeadline(target, now,
			fmt.Sprintf("inactive for %d+ days; breathing room on the nearest deadline may help restart", p.InactivityDays)))
		return
	}
	rep.Recommendations = append(rep.Recommendations, Recommendation{
		ActionType: ActionScopeReduction,
		TaskID:     target.ID,
		Reason:     fmt.Sprintf("inactive for %d+ days; a smaller first step may help restart", p.InactivityDays),
		Changes:    scopeReductionChanges(target),
	})
}

func checkRepeatedFailure(rep *Report, byTask map[string]domain.Task, sorted []domain.Attempt, p Params) {
	streaks := map[string]int{}
	for _, a := range sorted {
		switch a.Status {
		case domain.AttemptFail:
			streaks[a.TaskID]++
		case domain.AttemptPass:
			streaks[a.TaskID] = 0
		}
	}
	var taskIDs []string
	for id := range streaks {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)
	for _, id := range taskIDs {
		streak := streaks[id]
		t, ok := byTask[id]
		if !ok || t.Passed() || streak < p.FailStreak {
			continue
		}
		rep.Issues = append(rep.Issues, Issue{
			Type:   IssueRepeatedFailure,
			TaskID: id,
			Detail: fmt.Sprintf("%d consecutive failed attempts on %q", streak, t.Objective),
		})
		rep.Recommendations = append(rep.Recommendations, downgradeDifficulty(t,
			fmt.Sprintf("failed %d times in a row; a lower bar keeps the objective reachable", streak)))
	}
}

func checkLowScores(rep *Report, byTask map[string]domain.Task, sorted []domain.Attempt, p Params) {
	var scored []domain.Attempt
	for _, a := range sorted {
		if a.Score != nil {
			scored = append(scored, a)
		}
	}
	if len(scored) < p.LowScoreWindow {
		return
	}
	window := scored[len(scored)-p.LowScoreWindow:]
	var sum float64
	for _, a := range window {
		sum += *a.Score
	}
	avg := sum / float64(len(window))
	if avg >= p.LowScoreThreshold {
		return
	}
	rep.Issues = append(rep.Issues, Issue{
		Type:   IssueLowScores,
		Detail: fmt.Sprintf("average score %.1f over the last %d scored attempts is below %.0f", avg, len(window), p.LowScoreThreshold),
	})
	// Reduce scope on the task the learner is currently losing points on.
	last := window[len(window)-1]
	if t, ok := byTask[last.TaskID]; ok && !t.Passed() {
		rep.Recommendations = append(rep.Recommendations, Recommendation{
			ActionType: ActionScopeReduction,
			TaskID:     t.ID,
			Reason:     fmt.Sprintf("recent scores average %.1f; trimming optional requirements may unblock progress", avg),
			Changes:    scopeReductionChanges(t),
		})
	}
}

func checkDeadlinePressure(rep *Report, tasks []domain.Task, now time.Time) {
	for _, t := range tasks {
		if t.Passed() || t.DueDate == nil {
			continue
		}
		due, err := time.Parse(time.RFC3339, *t.DueDate)
		if err != nil || !now.After(due) {
			continue
		}
		rep.Issues = append(rep.Issues, Issue{
			Type:   IssueDeadlinePressure,
			TaskID: t.ID,
			Detail: fmt.Sprintf("%q was due %s and is still unpassed", t.Objective, due.Format("2006-01-02")),
		})
		rep.Recommendations = append(rep.Recommendations, extendDeadline(t, now, "task is overdue and unpassed"))
	}
}

func nearestDue(tasks []domain.Task) *domain.Task {
	var best *domain.Task
	var bestDue time.Time
	for i, t := range tasks {
		if t.DueDate == nil {
			continue
		}
		due, err := time.Parse(time.RFC3339, *t.DueDate)
		if err != nil {
			continue
		}
		if best == nil || due.Before(bestDue) {
			best = &tasks[i]
			bestDue = due
		}
	}
	return best
}

func extendDeadline(t domain.Task, now time.Time, reason string) Recommendation {
	from := any(nil)
	if t.DueDate != nil {
		from = *t.DueDate
	}
	return Recommendation{
		ActionType: ActionDeadlineExtension,
		TaskID:     t.ID,
		Reason:     reason,
		Changes: []Change{{
			Field: "due_date",
			From:  from,
			To:    now.AddDate(0, 0, 7).UTC().Format(time.RFC3339),
		}},
	}
}

func downgradeDifficulty(t domain.Task, reason string) Recommendation {
	changes := []Change{}
	if t.MinPassScore > 50 {
		changes = append(changes, Change{Field: "min_pass_score", From: t.MinPassScore, To: t.MinPassScore - 10})
	}
	if t.MaxAttempts != nil {
		changes = append(changes, Change{Field: "max_attempts", From: *t.MaxAttempts, To: *t.MaxAttempts + 3})
	}
	if len(changes) == 0 {
		changes = append(changes, Change{Field: "max_attempts", From: nil, To: 5})
	}
	return Recommendation{
		ActionType: ActionDifficultyDowngrade,
		TaskID:     t.ID,
		Reason:     reason,
		Changes:    changes,
	}
}

// scopeReductionChanges proposes dropping the optional acceptance sub-rules
// (required paths, keywords) while keeping the contract's hard checks.
func scopeReductionChanges(t domain.Task) []Change {
	from := any(nil)
	if t.RulesJSON != nil {
		from = *t.RulesJSON
	}
	return []Change{{
		Field: "optional_rules",
		From:  from,
		To:    "drop required_paths and keywords",
	}}
}
