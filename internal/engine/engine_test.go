package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"proofgate/internal/config"
	"proofgate/internal/db"
	"proofgate/internal/domain"
	"proofgate/internal/engine"
	"proofgate/internal/migrate"
	"proofgate/internal/repohost"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Roadmap domain.Roadmap
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Ctx: context.Background(),
		now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.Engine = engine.New(conn, config.Default(), nil)
	env.Engine.Now = func() time.Time { return env.now }
	rm, err := env.Engine.CreateRoadmap(env.Ctx, "alice", "Backend path", "tester")
	if err != nil {
		t.Fatalf("create roadmap: %v", err)
	}
	env.Roadmap = rm
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

// quizTask creates a core quiz task graded against key.
func (env *testEnv) quizTask(t *testing.T, key map[string]string, mutate func(*engine.TaskCreateOptions)) domain.Task {
	t.Helper()
	rules, err := json.Marshal(map[string]any{"answer_key": key})
	if err != nil {
		t.Fatal(err)
	}
	opts := engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		Day:           1,
		Objective:     "Explain HTTP basics",
		ProofType:     "quiz",
		ValidatorType: "auto_quiz",
		RulesJSON:     string(rules),
		IsCore:        true,
		ActorID:       "tester",
	}
	if mutate != nil {
		mutate(&opts)
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env *testEnv) submitQuiz(t *testing.T, taskID string, answers map[string]string) engine.SubmitResult {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"answers": answers})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID:      taskID,
		UserID:      "alice",
		PayloadJSON: string(payload),
		ActorID:     "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a"}, nil)
	if task.MinPassScore != config.DefaultPassThreshold {
		t.Fatalf("min_pass_score = %v, want default %v", task.MinPassScore, config.DefaultPassThreshold)
	}
	if task.Weight != 1 {
		t.Fatalf("weight = %d, want 1", task.Weight)
	}
}

func TestCreateTaskRejectsBadPairing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		Objective:     "mismatch",
		ProofType:     "quiz",
		ValidatorType: "auto_repository",
		ActorID:       "tester",
	})
	if err == nil {
		t.Fatalf("quiz proof with a repository validator must be rejected")
	}
}

func TestCreateTaskRequiresObjective(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		ProofType:     "none",
		ValidatorType: "none",
		ActorID:       "tester",
	})
	if err == nil {
		t.Fatalf("a task without an objective must be rejected")
	}
}

func TestSubmitQuizPassMarksTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "Paris", "q2": "4"}, nil)
	res := env.submitQuiz(t, task.ID, map[string]string{"q1": "paris", "q2": "4"})

	if res.Attempt.Status != domain.AttemptPass {
		t.Fatalf("attempt status = %s, want pass", res.Attempt.Status)
	}
	if res.Attempt.Seq != 1 {
		t.Fatalf("seq = %d, want 1", res.Attempt.Seq)
	}
	if !res.Task.Passed() {
		t.Fatalf("task should be marked passed")
	}
	if res.Task.BestScore == nil || *res.Task.BestScore != 100 {
		t.Fatalf("best score = %v, want 100", res.Task.BestScore)
	}
	if res.Task.BestAttemptID == nil || *res.Task.BestAttemptID != res.Attempt.ID {
		t.Fatalf("best attempt should be the passing attempt")
	}
	if len(res.Explanation.Violations) != 0 {
		t.Fatalf("a passing attempt should explain no violations, got %+v", res.Explanation.Violations)
	}
}

func TestSubmitQuizFailCanRetry(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "Paris", "q2": "4"}, nil)
	res := env.submitQuiz(t, task.ID, map[string]string{"q1": "London", "q2": "5"})

	if res.Attempt.Status != domain.AttemptFail {
		t.Fatalf("attempt status = %s, want fail", res.Attempt.Status)
	}
	if res.Task.Passed() {
		t.Fatalf("failed attempt must not mark the task passed")
	}
	if !res.CanRetry {
		t.Fatalf("an uncapped task should always allow a retry")
	}
}

func TestSubmitSeqIncrements(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a"}, nil)
	first := env.submitQuiz(t, task.ID, map[string]string{"q1": "x"})
	env.advance(time.Minute)
	second := env.submitQuiz(t, task.ID, map[string]string{"q1": "y"})
	if first.Attempt.Seq != 1 || second.Attempt.Seq != 2 {
		t.Fatalf("seq = %d then %d, want 1 then 2", first.Attempt.Seq, second.Attempt.Seq)
	}
	attempts, err := env.Engine.ListAttempts(env.Ctx, task.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Fatalf("ledger has %d attempts, want 2", len(attempts))
	}
}

func TestSubmitDuplicateProofRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a"}, nil)
	env.submitQuiz(t, task.ID, map[string]string{"q1": "x"})
	env.advance(time.Minute)

	payload, _ := json.Marshal(map[string]any{"answers": map[string]string{"q1": "x"}})
	_, err := env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID: task.ID, UserID: "alice", PayloadJSON: string(payload), ActorID: "alice",
	})
	var dup engine.DuplicateProofError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateProofError", err)
	}
	attempts, _ := env.Engine.ListAttempts(env.Ctx, task.ID, "alice")
	if len(attempts) != 1 {
		t.Fatalf("duplicate must not reach the ledger, have %d attempts", len(attempts))
	}
}

func TestSubmitAttemptLimit(t *testing.T) {
	env := newTestEnv(t)
	limit := 2
	task := env.quizTask(t, map[string]string{"q1": "a"}, func(o *engine.TaskCreateOptions) {
		o.MaxAttempts = &limit
	})
	first := env.submitQuiz(t, task.ID, map[string]string{"q1": "x"})
	if first.AttemptsRemaining == nil || *first.AttemptsRemaining != 1 {
		t.Fatalf("remaining = %v, want 1", first.AttemptsRemaining)
	}
	second := env.submitQuiz(t, task.ID, map[string]string{"q1": "y"})
	if second.CanRetry {
		t.Fatalf("no retries should remain after the final attempt")
	}

	payload, _ := json.Marshal(map[string]any{"answers": map[string]string{"q1": "z"}})
	_, err := env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID: task.ID, UserID: "alice", PayloadJSON: string(payload), ActorID: "alice",
	})
	var lim engine.AttemptLimitError
	if !errors.As(err, &lim) {
		t.Fatalf("err = %v, want AttemptLimitError", err)
	}
	if lim.MaxAttempts != 2 {
		t.Fatalf("limit in error = %d, want 2", lim.MaxAttempts)
	}
}

func TestResubmitAfterPassImprovesBestOnly(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a", "q2": "b"}, func(o *engine.TaskCreateOptions) {
		o.MinPassScore = 40
	})
	first := env.submitQuiz(t, task.ID, map[string]string{"q1": "a", "q2": "b"})
	firstPassedAt := *first.Task.FirstPassedAt

	env.advance(time.Hour)
	second := env.submitQuiz(t, task.ID, map[string]string{"q1": "a", "q2": "wrong"})
	if second.Attempt.Status != domain.AttemptPass {
		t.Fatalf("50 against a 40 bar should pass")
	}
	if *second.Task.FirstPassedAt != firstPassedAt {
		t.Fatalf("first_passed_at moved from %s to %s", firstPassedAt, *second.Task.FirstPassedAt)
	}
	if *second.Task.BestScore != 100 || *second.Task.BestAttemptID != first.Attempt.ID {
		t.Fatalf("a lower later pass must not displace the best attempt")
	}
}

func TestInvalidateCompletion(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a"}, nil)
	env.submitQuiz(t, task.ID, map[string]string{"q1": "a"})

	if _, err := env.Engine.InvalidateCompletion(env.Ctx, task.ID, "", "auditor"); err == nil {
		t.Fatalf("invalidation without a reason must be rejected")
	}
	updated, err := env.Engine.InvalidateCompletion(env.Ctx, task.ID, "plagiarism finding", "auditor")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if updated.Passed() || updated.BestScore != nil || updated.BestAttemptID != nil {
		t.Fatalf("invalidation must clear all completion tracking, got %+v", updated)
	}
	if _, err := env.Engine.InvalidateCompletion(env.Ctx, task.ID, "again", "auditor"); err == nil {
		t.Fatalf("a task without a completion cannot be invalidated")
	}
	// The ledger itself is untouched.
	attempts, _ := env.Engine.ListAttempts(env.Ctx, task.ID, "alice")
	if len(attempts) != 1 || attempts[0].Status != domain.AttemptPass {
		t.Fatalf("invalidation must not rewrite attempts")
	}
}

func TestSubmitEmitsEvents(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a"}, nil)
	env.submitQuiz(t, task.ID, map[string]string{"q1": "a"})

	evts, err := env.Engine.LatestEvents(env.Ctx, 10, env.Roadmap.ID, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, ev := range evts {
		seen[ev.Type] = true
	}
	for _, want := range []string{"roadmap.created", "task.created", "attempt.submitted", "task.passed"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, seen)
		}
	}
}

func TestExplainStoredAttempt(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "Paris"}, nil)
	res := env.submitQuiz(t, task.ID, map[string]string{"q1": "London"})

	ex, err := env.Engine.ExplainAttempt(env.Ctx, res.Attempt.ID)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if len(ex.Violations) == 0 {
		t.Fatalf("stored explanation should replay the failing checks, got %+v", ex)
	}
	if ex.Violations[0].Rule != "question:q1" {
		t.Fatalf("violation rule = %q, want question:q1", ex.Violations[0].Rule)
	}
}

type outageHost struct {
	err error
}

func (h outageHost) Repository(ctx context.Context, owner, name string) (repohost.Repository, error) {
	return repohost.Repository{}, h.err
}
func (h outageHost) Commits(ctx context.Context, owner, name string) ([]repohost.Commit, error) {
	return nil, h.err
}
func (h outageHost) Tree(ctx context.Context, owner, name, branch string) ([]string, error) {
	return nil, h.err
}
func (h outageHost) Readme(ctx context.Context, owner, name string) (string, error) {
	return "", h.err
}

func TestSubmitHostOutageBurnsNoAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Host = outageHost{err: repohost.StatusError{Status: 503, URL: "https://api.github.com/repos/alice/webshop"}}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		Objective:     "Build a webshop",
		ProofType:     "repository",
		ValidatorType: "auto_repository",
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	_, err = env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID:      task.ID,
		UserID:      "alice",
		PayloadJSON: `{"repo_url":"https://github.com/alice/webshop"}`,
		HostLogin:   "alice",
		ActorID:     "alice",
	})
	var ext engine.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("err = %v, want ExternalServiceError", err)
	}
	attempts, _ := env.Engine.ListAttempts(env.Ctx, task.ID, "alice")
	if len(attempts) != 0 {
		t.Fatalf("a host outage must not burn an attempt, ledger has %d", len(attempts))
	}
}

func TestSubmitMissingRepoStillValidates(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Host = outageHost{err: repohost.ErrNotFound}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		RoadmapID:     env.Roadmap.ID,
		Objective:     "Build a webshop",
		ProofType:     "repository",
		ValidatorType: "auto_repository",
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	res, err := env.Engine.SubmitAttempt(env.Ctx, engine.SubmitOptions{
		TaskID:      task.ID,
		UserID:      "alice",
		PayloadJSON: `{"repo_url":"https://github.com/alice/ghost"}`,
		HostLogin:   "alice",
		ActorID:     "alice",
	})
	if err != nil {
		t.Fatalf("a missing repository is a failed attempt, not an engine error: %v", err)
	}
	if res.Attempt.Status != domain.AttemptFail {
		t.Fatalf("attempt status = %s, want fail", res.Attempt.Status)
	}
}

func TestDeleteRoadmapCascades(t *testing.T) {
	env := newTestEnv(t)
	task := env.quizTask(t, map[string]string{"q1": "a"}, nil)
	env.submitQuiz(t, task.ID, map[string]string{"q1": "a"})

	if err := env.Engine.DeleteRoadmap(env.Ctx, env.Roadmap.ID, "tester"); err != nil {
		t.Fatalf("delete roadmap: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); err == nil {
		t.Fatalf("tasks must be removed with their roadmap")
	}
	attempts, err := env.Engine.ListAttempts(env.Ctx, task.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 0 {
		t.Fatalf("roadmap deletion should clear the attempt ledger, got %d entries", len(attempts))
	}
}
