package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"proofgate/internal/domain"
	"proofgate/internal/events"
	"proofgate/internal/explain"
	"proofgate/internal/repo"
	"proofgate/internal/repohost"
	"proofgate/internal/validator"
)

// SubmitOptions carries one proof submission.
type SubmitOptions struct {
	TaskID      string
	UserID      string
	PayloadJSON string
	// HostLogin is the submitter's source-control identity, used by the
	// repository validator's authorship check.
	HostLogin string
	ActorID   string
}

// SubmitResult is the full user-visible outcome of a submission.
type SubmitResult struct {
	Attempt           domain.Attempt      `json:"attempt"`
	Task              domain.Task         `json:"task"`
	Review            *domain.Review      `json:"review,omitempty"`
	Explanation       explain.Explanation `json:"explanation"`
	CanRetry          bool                `json:"can_retry"`
	AttemptsRemaining *int                `json:"attempts_remaining,omitempty"`
}

// SubmitAttempt validates a proof and appends the outcome to the attempt
// ledger. Validation runs before the transaction opens so no lock is held
// across host calls; the ledger write retries on sequence races.
func (e Engine) SubmitAttempt(ctx context.Context, opts SubmitOptions) (SubmitResult, error) {
	task, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return SubmitResult{}, err
	}
	if opts.UserID == "" {
		return SubmitResult{}, errors.New("user is required")
	}
	payload, err := validator.ParsePayload(opts.PayloadJSON)
	if err != nil {
		return SubmitResult{}, err
	}

	preval := e.prevalidator().Screen(ctx, task.ProofType, payload)
	if !preval.OK {
		ex := explain.Build(validator.StatusFail, validator.Result{}, task.ProofType, &preval)
		return SubmitResult{Task: task, Explanation: ex}, PrevalidationError{Reason: preval.Reason}
	}

	hash := proofHash(task.ID, opts.UserID, opts.PayloadJSON)
	if dup, err := e.Repo.ProofHashExists(ctx, hash); err != nil {
		return SubmitResult{}, err
	} else if dup {
		if e.Metrics != nil {
			e.Metrics.DuplicateProofs.Inc()
		}
		return SubmitResult{Task: task}, DuplicateProofError{ProofHash: hash}
	}

	if task.ValidatorType == validator.ValidatorRepository {
		if err := e.preflightHost(ctx, payload); err != nil {
			return SubmitResult{Task: task}, err
		}
	}

	dispatcher := validator.Dispatcher{Cfg: e.Config, Host: e.Host}
	res := dispatcher.Run(ctx, task, opts.PayloadJSON, opts.HostLogin)
	res.Warnings = append(res.Warnings, preval.Warnings...)
	if e.Metrics != nil {
		e.Metrics.Validations.WithLabelValues(task.ValidatorType, res.Status).Inc()
		if len(res.Errors) > 0 {
			e.Metrics.ExternalFailures.Inc()
		}
	}

	var attempt domain.Attempt
	var review *domain.Review
	var count int
	for try := 0; try < e.Config.Engine.SubmitRetries; try++ {
		attempt, review, count, err = e.recordAttempt(ctx, task, opts, hash, res)
		if err == nil {
			break
		}
		if errors.Is(err, repo.ErrSeqConflict) {
			continue
		}
		if errors.Is(err, repo.ErrDuplicateProof) {
			if e.Metrics != nil {
				e.Metrics.DuplicateProofs.Inc()
			}
			return SubmitResult{Task: task}, DuplicateProofError{ProofHash: hash}
		}
		return SubmitResult{}, err
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("attempt sequence contention: %w", err)
	}

	// Reload so completion tracking reflects this attempt.
	task, err = e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return SubmitResult{}, err
	}

	out := SubmitResult{
		Attempt:     attempt,
		Task:        task,
		Review:      review,
		Explanation: explain.Build(res.Status, res, task.ProofType, &preval),
	}
	if task.MaxAttempts != nil {
		remaining := *task.MaxAttempts - count
		if remaining < 0 {
			remaining = 0
		}
		out.AttemptsRemaining = &remaining
		out.CanRetry = attempt.Status == domain.AttemptFail && remaining > 0
	} else {
		out.CanRetry = attempt.Status == domain.AttemptFail
	}
	return out, nil
}

// recordAttempt appends one attempt in a single transaction. Returned count
// includes the new attempt.
func (e Engine) recordAttempt(ctx context.Context, task domain.Task, opts SubmitOptions, hash string, res validator.Result) (domain.Attempt, *domain.Review, int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attempt{}, nil, 0, err
	}
	defer tx.Rollback()

	count, err := e.Repo.CountAttemptsTx(ctx, tx, task.ID, opts.UserID)
	if err != nil {
		return domain.Attempt{}, nil, 0, err
	}
	if task.MaxAttempts != nil && count >= *task.MaxAttempts {
		return domain.Attempt{}, nil, 0, AttemptLimitError{TaskID: task.ID, MaxAttempts: *task.MaxAttempts}
	}
	seq, err := e.Repo.NextSeqTx(ctx, tx, task.ID, opts.UserID)
	if err != nil {
		return domain.Attempt{}, nil, 0, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	attempt := domain.Attempt{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		UserID:      opts.UserID,
		Seq:         seq,
		PayloadJSON: opts.PayloadJSON,
		ProofHash:   hash,
		Status:      domain.AttemptPending,
		SubmittedAt: now,
	}

	var review *domain.Review
	output := res.JSON()
	switch res.Status {
	case validator.StatusPending:
		rv := e.buildReview(task, attempt, now)
		review = &rv
		attempt.ReviewID = &rv.ID
		// Keep the pre-screen result (including warnings) on the attempt so
		// an explanation of the stored record does not lose them.
		attempt.OutputJSON = &output
	default:
		attempt.Status = res.Status
		attempt.Score = res.Score
		attempt.OutputJSON = &output
		attempt.ValidatedAt = &now
	}

	if err := e.Repo.InsertAttemptTx(ctx, tx, attempt); err != nil {
		return domain.Attempt{}, nil, 0, err
	}
	if review != nil {
		if err := e.Repo.InsertReviewTx(ctx, tx, *review); err != nil {
			return domain.Attempt{}, nil, 0, err
		}
	}
	if attempt.Status == domain.AttemptPass && res.Score != nil {
		if err := e.Repo.MarkTaskPassedTx(ctx, tx, task.ID, attempt.ID, *res.Score, now); err != nil {
			return domain.Attempt{}, nil, 0, err
		}
	}

	payload := events.EventPayload{"seq": seq, "status": attempt.Status, "proof_hash": hash}
	if attempt.Score != nil {
		payload["score"] = *attempt.Score
	}
	if err := e.Events.Append(ctx, tx, "attempt.submitted", task.RoadmapID, "attempt", attempt.ID, opts.ActorID, payload); err != nil {
		return domain.Attempt{}, nil, 0, err
	}
	if review != nil {
		if err := e.Events.Append(ctx, tx, "review.opened", task.RoadmapID, "review", review.ID, opts.ActorID, events.EventPayload{
			"attempt_id": attempt.ID, "sla_hours": review.SLAHours, "timeout_action": review.TimeoutAction,
		}); err != nil {
			return domain.Attempt{}, nil, 0, err
		}
	}
	if attempt.Status == domain.AttemptPass {
		if err := e.Events.Append(ctx, tx, "task.passed", task.RoadmapID, "task", task.ID, opts.ActorID, events.EventPayload{
			"attempt_id": attempt.ID, "score": scoreValue(attempt.Score),
		}); err != nil {
			return domain.Attempt{}, nil, 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Attempt{}, nil, 0, err
	}
	return attempt, review, count + 1, nil
}

func (e Engine) buildReview(task domain.Task, attempt domain.Attempt, now string) domain.Review {
	sla := e.Config.Review.SLAHours
	action := e.Config.Review.TimeoutAction
	if rules, err := validator.ParseRules(task.ValidatorType, task.RulesJSON); err == nil && rules.Manual != nil {
		if rules.Manual.SLAHours > 0 {
			sla = rules.Manual.SLAHours
		}
		if rules.Manual.TimeoutAction != "" {
			action = rules.Manual.TimeoutAction
		}
	}
	return domain.Review{
		ID:            uuid.NewString(),
		AttemptID:     attempt.ID,
		TaskID:        task.ID,
		UserID:        attempt.UserID,
		Decision:      domain.DecisionPending,
		SLAHours:      sla,
		TimeoutAction: action,
		CreatedAt:     now,
	}
}

func (e Engine) prevalidator() *validator.Prevalidator {
	return validator.NewPrevalidator(
		e.Config.Prevalidate.MaxFileSizeMB,
		time.Duration(e.Config.Prevalidate.ProbeTimeoutSecs)*time.Second,
	)
}

// preflightHost distinguishes "the host is down" from "the proof is bad"
// before an attempt is burned. A missing repository is the submitter's
// problem and proceeds into validation; transport failures and host outages
// abort without touching the ledger.
func (e Engine) preflightHost(ctx context.Context, payload validator.Payload) error {
	owner, name, err := repohost.ParseRepoURL(payload.RepoURL)
	if err != nil {
		// Validation will record the malformed URL as a proper FAIL.
		return nil
	}
	_, err = e.Host.Repository(ctx, owner, name)
	if err == nil || errors.Is(err, repohost.ErrNotFound) {
		return nil
	}
	var se repohost.StatusError
	if errors.As(err, &se) && se.Status < 500 {
		return nil
	}
	if e.Metrics != nil {
		e.Metrics.ExternalFailures.Inc()
	}
	return ExternalServiceError{Service: "repository host", Err: err}
}

func proofHash(taskID, userID, payloadJSON string) string {
	sum := sha256.Sum256([]byte(taskID + "|" + userID + "|" + payloadJSON))
	return hex.EncodeToString(sum[:])
}

func scoreValue(s *float64) float64 {
	if s == nil {
		return 0
	}
	return *s
}

// ListAttempts returns the ledger for one task and user in sequence order.
func (e Engine) ListAttempts(ctx context.Context, taskID, userID string) ([]domain.Attempt, error) {
	return e.Repo.ListAttemptsForTask(ctx, taskID, userID)
}

// ExplainAttempt rebuilds the explanation for a stored attempt.
func (e Engine) ExplainAttempt(ctx context.Context, attemptID string) (explain.Explanation, error) {
	a, err := e.Repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return explain.Explanation{}, err
	}
	t, err := e.Repo.GetTask(ctx, a.TaskID)
	if err != nil {
		return explain.Explanation{}, err
	}
	var res validator.Result
	if a.OutputJSON != nil {
		if res, err = validator.ParseResult(*a.OutputJSON); err != nil {
			return explain.Explanation{}, fmt.Errorf("stored validator output: %w", err)
		}
	}
	status := a.Status
	if status == domain.AttemptPending {
		status = validator.StatusPending
	}
	return explain.Build(status, res, t.ProofType, nil), nil
}
