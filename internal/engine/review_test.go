package engine_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proofgate/internal/domain"
	"proofgate/internal/engine"
)

func (env *testEnv) fileTask(t *testing.T, rulesJSON string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		Day:           1,
		Objective:     "Write a design document",
		ProofType:     "file",
		ValidatorType: "manual",
		RulesJSON:     rulesJSON,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env *testEnv) submitFile(t *testing.T, taskID, path string) engine.SubmitResult {
	t.Helper()
	res, err := env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID:      taskID,
		UserID:      "alice",
		PayloadJSON: fmt.Sprintf(`{"file_path":%q,"file_size_bytes":2048}`, path),
		ActorID:     "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

func TestManualSubmissionOpensReview(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, "")
	res := env.submitFile(t, task.ID, "design.pdf")

	if res.Attempt.Status != domain.AttemptPending {
		t.Fatalf("attempt status = %s, want pending", res.Attempt.Status)
	}
	if res.Review == nil {
		t.Fatalf("manual validation must open a review")
	}
	if res.Attempt.ReviewID == nil || *res.Attempt.ReviewID != res.Review.ID {
		t.Fatalf("attempt should reference its review")
	}
	if res.Review.SLAHours != 48 || res.Review.TimeoutAction != domain.TimeoutNotify {
		t.Fatalf("review should carry config defaults, got %d/%s", res.Review.SLAHours, res.Review.TimeoutAction)
	}
	if res.Task.Passed() {
		t.Fatalf("a pending attempt must not complete the task")
	}
}

func TestManualRulesOverrideReviewSLA(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, `{"sla_hours":12,"timeout_action":"fail"}`)
	res := env.submitFile(t, task.ID, "design.pdf")
	if res.Review.SLAHours != 12 || res.Review.TimeoutAction != domain.TimeoutFail {
		t.Fatalf("task rules should override config, got %d/%s", res.Review.SLAHours, res.Review.TimeoutAction)
	}
}

func TestApproveReviewPassesAttempt(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, "")
	res := env.submitFile(t, task.ID, "design.pdf")

	score := 85.0
	if _, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionOptions{
		ReviewID: res.Review.ID, ReviewerID: "mentor", Decision: domain.DecisionApproved, ActorID: "mentor",
	}); err == nil {
		t.Fatalf("approval without a score must be rejected")
	}
	rv, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionOptions{
		ReviewID:   res.Review.ID,
		ReviewerID: "mentor",
		Decision:   domain.DecisionApproved,
		Score:      &score,
		Feedback:   "solid structure",
		ActorID:    "mentor",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if rv.Decision != domain.DecisionApproved || rv.ReviewerID == nil || *rv.ReviewerID != "mentor" {
		t.Fatalf("review not closed as approved: %+v", rv)
	}
	attempt, err := env.Engine.Repo.GetAttempt(env.Ctx, res.Attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Status != domain.AttemptPass || attempt.Score == nil || *attempt.Score != 85 {
		t.Fatalf("attempt should be finalized pass at 85, got %s %v", attempt.Status, attempt.Score)
	}
	updated, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if !updated.Passed() || *updated.BestScore != 85 {
		t.Fatalf("approval should complete the task, got %+v", updated)
	}
}

func TestNeedsRevisionFailsAttempt(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, "")
	res := env.submitFile(t, task.ID, "design.pdf")

	if _, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionOptions{
		ReviewID:   res.Review.ID,
		ReviewerID: "mentor",
		Decision:   domain.DecisionNeedsRevision,
		Feedback:   "missing the failure modes section",
		ActorID:    "mentor",
	}); err != nil {
		t.Fatalf("decide: %v", err)
	}
	attempt, _ := env.Engine.Repo.GetAttempt(env.Ctx, res.Attempt.ID)
	if attempt.Status != domain.AttemptFail {
		t.Fatalf("needs_revision should finalize the attempt failed, got %s", attempt.Status)
	}
	updated, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if updated.Passed() {
		t.Fatalf("needs_revision must not complete the task")
	}
}

func TestSecondDecisionRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, "")
	res := env.submitFile(t, task.ID, "design.pdf")

	score := 90.0
	if _, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionOptions{
		ReviewID: res.Review.ID, ReviewerID: "mentor", Decision: domain.DecisionApproved, Score: &score, ActorID: "mentor",
	}); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	_, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionOptions{
		ReviewID: res.Review.ID, ReviewerID: "other", Decision: domain.DecisionRejected, ActorID: "other",
	})
	var decided engine.AlreadyDecidedError
	if !errors.As(err, &decided) {
		t.Fatalf("err = %v, want AlreadyDecidedError", err)
	}
	// The finalized attempt kept the first verdict.
	attempt, _ := env.Engine.Repo.GetAttempt(env.Ctx, res.Attempt.ID)
	if attempt.Status != domain.AttemptPass {
		t.Fatalf("attempt was rewritten to %s", attempt.Status)
	}
}

func TestListPendingReviewsUrgencyOrder(t *testing.T) {
	env := newTestEnv(t)
	urgent := env.fileTask(t, `{"sla_hours":2}`)
	relaxed := env.fileTask(t, "")
	urgentRes := env.submitFile(t, urgent.ID, "a.pdf")
	env.advance(time.Minute)
	relaxedRes := env.submitFile(t, relaxed.ID, "b.pdf")

	queue, err := env.Engine.ListPendingReviews(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	if queue[0].Review.ID != urgentRes.Review.ID || queue[1].Review.ID != relaxedRes.Review.ID {
		t.Fatalf("queue should order by deadline, nearest first")
	}
	if queue[0].Overdue || queue[0].HoursRemaining <= 0 {
		t.Fatalf("fresh review marked overdue: %+v", queue[0])
	}
	// Each queue item carries the submission itself.
	if !strings.Contains(queue[0].ProofPayload, "a.pdf") {
		t.Fatalf("queue item should carry the submitted proof, got %q", queue[0].ProofPayload)
	}
	if queue[0].SubmittedAt != urgentRes.Attempt.SubmittedAt {
		t.Fatalf("submitted_at = %q, want %q", queue[0].SubmittedAt, urgentRes.Attempt.SubmittedAt)
	}

	env.advance(3 * time.Hour)
	queue, _ = env.Engine.ListPendingReviews(env.Ctx)
	if !queue[0].Overdue || queue[1].Overdue {
		t.Fatalf("only the 2h review should be overdue after 3h")
	}
}

func TestPendingAttemptKeepsPrescreenWarnings(t *testing.T) {
	env := newTestEnv(t)
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer probe.Close()

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		Objective:     "Publish the write-up",
		ProofType:     "url",
		ValidatorType: "manual",
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	res, err := env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID:      task.ID,
		UserID:      "alice",
		PayloadJSON: fmt.Sprintf(`{"url":%q}`, probe.URL),
		ActorID:     "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Attempt.Status != domain.AttemptPending {
		t.Fatalf("attempt status = %s, want pending", res.Attempt.Status)
	}

	stored, err := env.Engine.Repo.GetAttempt(env.Ctx, res.Attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.OutputJSON == nil || !strings.Contains(*stored.OutputJSON, "forwarded to review unverified") {
		t.Fatalf("pending attempt should persist the pre-screen warnings, got %v", stored.OutputJSON)
	}
	ex, err := env.Engine.ExplainAttempt(env.Ctx, res.Attempt.ID)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !strings.Contains(ex.Summary, "warning") {
		t.Fatalf("explanation of the stored attempt lost the warnings: %q", ex.Summary)
	}
}

func TestSweepTimeoutFail(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, `{"sla_hours":1,"timeout_action":"fail"}`)
	res := env.submitFile(t, task.ID, "design.pdf")

	env.advance(2 * time.Hour)
	swept, err := env.Engine.SweepSLA(env.Ctx, "sweeper")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept.Escalated) != 1 || swept.Escalated[0] != res.Review.ID || swept.Actions[0] != domain.TimeoutFail {
		t.Fatalf("sweep result = %+v", swept)
	}
	rv, _ := env.Engine.Repo.GetReview(env.Ctx, res.Review.ID)
	if rv.Decision != domain.DecisionRejected || !rv.Escalated {
		t.Fatalf("timed-out review should be rejected and escalated, got %+v", rv)
	}
	attempt, _ := env.Engine.Repo.GetAttempt(env.Ctx, res.Attempt.ID)
	if attempt.Status != domain.AttemptFail || attempt.Score == nil || *attempt.Score != 0 {
		t.Fatalf("timeout fail should close the attempt at 0, got %s %v", attempt.Status, attempt.Score)
	}
}

func TestSweepTimeoutDowngrade(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, `{"sla_hours":1,"timeout_action":"downgrade"}`)
	res := env.submitFile(t, task.ID, "design.pdf")

	env.advance(2 * time.Hour)
	swept, err := env.Engine.SweepSLA(env.Ctx, "sweeper")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept.Escalated) != 1 {
		t.Fatalf("expected one escalation, got %+v", swept)
	}
	attempt, _ := env.Engine.Repo.GetAttempt(env.Ctx, res.Attempt.ID)
	want := task.MinPassScore / 2
	if attempt.Status != domain.AttemptPass || *attempt.Score != want {
		t.Fatalf("downgrade should accept at %.1f, got %s %v", want, attempt.Status, attempt.Score)
	}
	updated, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if !updated.Passed() {
		t.Fatalf("downgrade should complete the task")
	}
	// The concession is recorded for audit.
	rms, err := env.Engine.ListRemediations(env.Ctx, "alice", domain.RemediationAutoApplied)
	if err != nil {
		t.Fatal(err)
	}
	if len(rms) != 1 || rms[0].TaskID != task.ID {
		t.Fatalf("downgrade should record an auto-applied remediation, got %+v", rms)
	}
}

func TestSweepTimeoutNotifyKeepsReviewOpen(t *testing.T) {
	env := newTestEnv(t)
	task := env.fileTask(t, "")
	res := env.submitFile(t, task.ID, "design.pdf")

	env.advance(49 * time.Hour)
	swept, err := env.Engine.SweepSLA(env.Ctx, "sweeper")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept.Escalated) != 1 || swept.Actions[0] != domain.TimeoutNotify {
		t.Fatalf("sweep result = %+v", swept)
	}
	rv, _ := env.Engine.Repo.GetReview(env.Ctx, res.Review.ID)
	if rv.Decision != domain.DecisionPending || !rv.Escalated {
		t.Fatalf("notify should flag the review but leave it open, got %+v", rv)
	}
	// An escalated review is not swept twice.
	again, _ := env.Engine.SweepSLA(env.Ctx, "sweeper")
	if len(again.Escalated) != 0 {
		t.Fatalf("second sweep re-escalated: %+v", again)
	}
	// It stays decidable.
	score := 75.0
	if _, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionOptions{
		ReviewID: rv.ID, ReviewerID: "mentor", Decision: domain.DecisionApproved, Score: &score, ActorID: "mentor",
	}); err != nil {
		t.Fatalf("late decision on a notified review: %v", err)
	}
}
