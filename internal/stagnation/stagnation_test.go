package stagnation

import (
	"fmt"
	"testing"
	"time"

	"proofgate/internal/domain"
)

var now = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

var params = Params{InactivityDays: 7, FailStreak: 3, LowScoreWindow: 10, LowScoreThreshold: 40}

func openTask(id string) domain.Task {
	return domain.Task{ID: id, Objective: "obj " + id, MinPassScore: 70}
}

func attemptAt(taskID, status string, score float64, ts time.Time) domain.Attempt {
	s := score
	return domain.Attempt{TaskID: taskID, Status: status, Score: &s, SubmittedAt: ts.Format(time.RFC3339)}
}

func TestAnalyzeCleanHistory(t *testing.T) {
	tasks := []domain.Task{openTask("t1")}
	attempts := []domain.Attempt{attemptAt("t1", domain.AttemptFail, 60, now.Add(-24*time.Hour))}
	rep := Analyze(tasks, attempts, params, now)
	if rep.IsStagnant || rep.Severity != SeverityNone {
		t.Fatalf("recent single failure is not stagnation, got %+v", rep)
	}
}

func TestAnalyzeInactivity(t *testing.T) {
	tasks := []domain.Task{openTask("t1")}
	attempts := []domain.Attempt{attemptAt("t1", domain.AttemptFail, 60, now.Add(-10*24*time.Hour))}
	rep := Analyze(tasks, attempts, params, now)
	if !rep.IsStagnant || rep.Severity != SeverityLow {
		t.Fatalf("10 idle days should be low-severity stagnation, got %+v", rep)
	}
	if len(rep.Recommendations) == 0 {
		t.Fatalf("inactivity should carry a recommendation")
	}
}

func TestAnalyzeRepeatedFailure(t *testing.T) {
	tasks := []domain.Task{openTask("t1")}
	var attempts []domain.Attempt
	for i := 0; i < 3; i++ {
		attempts = append(attempts, attemptAt("t1", domain.AttemptFail, 50, now.Add(-time.Duration(i)*time.Hour)))
	}
	rep := Analyze(tasks, attempts, params, now)
	found := false
	for _, rec := range rep.Recommendations {
		if rec.ActionType == ActionDifficultyDowngrade && rec.TaskID == "t1" {
			found = true
			for _, ch := range rec.Changes {
				if ch.Field == "min_pass_score" && ch.To != 60.0 {
					t.Fatalf("min_pass_score downgrade = %v, want 60", ch.To)
				}
			}
		}
	}
	if !found {
		t.Fatalf("3 straight failures should propose a difficulty downgrade: %+v", rep.Recommendations)
	}
}

func TestAnalyzePassResetsStreak(t *testing.T) {
	tasks := []domain.Task{openTask("t1")}
	attempts := []domain.Attempt{
		attemptAt("t1", domain.AttemptFail, 50, now.Add(-5*time.Hour)),
		attemptAt("t1", domain.AttemptFail, 50, now.Add(-4*time.Hour)),
		attemptAt("t1", domain.AttemptPass, 80, now.Add(-3*time.Hour)),
		attemptAt("t1", domain.AttemptFail, 50, now.Add(-2*time.Hour)),
	}
	rep := Analyze(tasks, attempts, params, now)
	for _, issue := range rep.Issues {
		if issue.Type == IssueRepeatedFailure {
			t.Fatalf("a pass must reset the failure streak")
		}
	}
}

func TestAnalyzeLowScores(t *testing.T) {
	tasks := []domain.Task{openTask("t1")}
	var attempts []domain.Attempt
	for i := 0; i < 10; i++ {
		attempts = append(attempts, attemptAt("t1", domain.AttemptFail, 30, now.Add(-time.Duration(10-i)*time.Hour)))
	}
	rep := Analyze(tasks, attempts, params, now)
	// 10 failures in a row also trips repeated_failure; the pair is high.
	if rep.Severity != SeverityHigh {
		t.Fatalf("repeated failures plus low scores should be high severity, got %s", rep.Severity)
	}
	hasLow := false
	for _, issue := range rep.Issues {
		if issue.Type == IssueLowScores {
			hasLow = true
		}
	}
	if !hasLow {
		t.Fatalf("average 30 over 10 attempts should flag low scores")
	}
}

func TestAnalyzeDeadlinePressure(t *testing.T) {
	due := now.Add(-48 * time.Hour).Format(time.RFC3339)
	task := openTask("t1")
	task.DueDate = &due
	rep := Analyze([]domain.Task{task}, []domain.Attempt{attemptAt("t1", domain.AttemptFail, 60, now.Add(-time.Hour))}, params, now)
	found := false
	for _, rec := range rep.Recommendations {
		if rec.ActionType == ActionDeadlineExtension && rec.TaskID == "t1" {
			found = true
			if len(rec.Changes) != 1 || rec.Changes[0].Field != "due_date" {
				t.Fatalf("extension must change due_date, got %+v", rec.Changes)
			}
		}
	}
	if !found {
		t.Fatalf("overdue task should propose a deadline extension")
	}
}

func TestSeverityLadder(t *testing.T) {
	cases := []struct {
		kinds []string
		want  string
	}{
		{nil, SeverityNone},
		{[]string{IssueInactivity}, SeverityLow},
		{[]string{IssueInactivity, IssueDeadlinePressure}, SeverityMedium},
		{[]string{IssueRepeatedFailure, IssueLowScores}, SeverityHigh},
		{[]string{IssueInactivity, IssueRepeatedFailure, IssueLowScores}, SeverityHigh},
	}
	for i, tc := range cases {
		var issues []Issue
		for _, k := range tc.kinds {
			issues = append(issues, Issue{Type: k})
		}
		if got := severity(issues); got != tc.want {
			t.Fatalf("case %d (%v): severity = %s, want %s", i, tc.kinds, got, tc.want)
		}
	}
}

func TestDowngradeWithoutHeadroom(t *testing.T) {
	task := openTask("t1")
	task.MinPassScore = 50
	rec := downgradeDifficulty(task, "stuck")
	if len(rec.Changes) != 1 || rec.Changes[0].Field != "max_attempts" {
		t.Fatalf("at the floor the downgrade should fall back to max_attempts, got %+v", rec.Changes)
	}
	if fmt.Sprint(rec.Changes[0].To) != "5" {
		t.Fatalf("fallback cap = %v, want 5", rec.Changes[0].To)
	}
}
