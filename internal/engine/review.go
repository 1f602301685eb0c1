package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"proofgate/internal/domain"
	"proofgate/internal/events"
	"proofgate/internal/repo"
	"proofgate/internal/stagnation"
	"proofgate/internal/validator"
)

// DecisionOptions carries a reviewer's verdict on a pending review.
type DecisionOptions struct {
	ReviewID   string
	ReviewerID string
	Decision   string
	Score      *float64
	Feedback   string
	ActorID    string
}

// SubmitDecision closes a pending review and finalizes its attempt. Approval
// requires a score; rejection and needs_revision finalize the attempt as
// failed so the learner can submit again.
func (e Engine) SubmitDecision(ctx context.Context, opts DecisionOptions) (domain.Review, error) {
	switch opts.Decision {
	case domain.DecisionApproved, domain.DecisionRejected, domain.DecisionNeedsRevision:
	default:
		return domain.Review{}, fmt.Errorf("decision must be approved, rejected or needs_revision, got %q", opts.Decision)
	}
	if opts.ReviewerID == "" {
		return domain.Review{}, errors.New("reviewer is required")
	}
	if opts.Decision == domain.DecisionApproved && opts.Score == nil {
		return domain.Review{}, errors.New("an approval requires a score")
	}
	if opts.Score != nil && (*opts.Score < 0 || *opts.Score > 100) {
		return domain.Review{}, errors.New("score must be between 0 and 100")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	rv, err := e.Repo.GetReviewTx(ctx, tx, opts.ReviewID)
	if err != nil {
		return domain.Review{}, err
	}
	task, err := e.Repo.GetTaskTx(ctx, tx, rv.TaskID)
	if err != nil {
		return domain.Review{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	feedback := optionalString(opts.Feedback)
	if err := e.Repo.DecideReviewTx(ctx, tx, rv.ID, opts.ReviewerID, opts.Decision, opts.Score, feedback, now); err != nil {
		if errors.Is(err, repo.ErrClosed) {
			return domain.Review{}, AlreadyDecidedError{Kind: "review", ID: rv.ID}
		}
		return domain.Review{}, err
	}

	status := domain.AttemptFail
	if opts.Decision == domain.DecisionApproved {
		status = domain.AttemptPass
	}
	output := reviewOutput(opts.Decision, opts.Score, opts.Feedback)
	if err := e.Repo.FinalizeAttemptTx(ctx, tx, rv.AttemptID, status, opts.Score, &output, now); err != nil {
		if errors.Is(err, repo.ErrImmutable) {
			return domain.Review{}, ImmutabilityError{Kind: "attempt", ID: rv.AttemptID}
		}
		return domain.Review{}, err
	}
	if status == domain.AttemptPass {
		if err := e.Repo.MarkTaskPassedTx(ctx, tx, task.ID, rv.AttemptID, *opts.Score, now); err != nil {
			return domain.Review{}, err
		}
		if err := e.Events.Append(ctx, tx, "task.passed", task.RoadmapID, "task", task.ID, opts.ActorID, events.EventPayload{
			"attempt_id": rv.AttemptID, "score": *opts.Score,
		}); err != nil {
			return domain.Review{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "review.decided", task.RoadmapID, "review", rv.ID, opts.ActorID, events.EventPayload{
		"decision": opts.Decision, "attempt_id": rv.AttemptID, "score": scoreValue(opts.Score),
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return e.Repo.GetReview(ctx, rv.ID)
}

func reviewOutput(decision string, score *float64, feedback string) string {
	res := validator.Result{
		Status: validator.StatusFail,
		Score:  score,
	}
	if decision == domain.DecisionApproved {
		res.Status = validator.StatusPass
	}
	detail := "reviewer decision: " + decision
	if feedback != "" {
		detail += "; " + feedback
	}
	res.Checks = []validator.Check{{Name: "manual_review", Passed: res.Status == validator.StatusPass, Detail: detail}}
	return res.JSON()
}

// PendingReview pairs a queued review with the submitted proof and its SLA
// state, everything a reviewer needs to work straight from the queue.
type PendingReview struct {
	Review         domain.Review `json:"review"`
	ProofPayload   string        `json:"proof_payload"`
	SubmittedAt    string        `json:"submitted_at" format:"date-time"`
	DueAt          string        `json:"due_at"`
	HoursRemaining float64       `json:"hours_remaining"`
	Overdue        bool          `json:"overdue"`
}

// ListPendingReviews returns the review queue ordered most urgent first.
func (e Engine) ListPendingReviews(ctx context.Context) ([]PendingReview, error) {
	rows, err := e.Repo.ListPendingReviews(ctx)
	if err != nil {
		return nil, err
	}
	if e.Metrics != nil {
		e.Metrics.PendingReviews.Set(float64(len(rows)))
	}
	now := e.now().UTC()
	out := make([]PendingReview, 0, len(rows))
	for _, row := range rows {
		pr := PendingReview{Review: row.Review, ProofPayload: row.ProofPayload, SubmittedAt: row.SubmittedAt}
		if created, err := time.Parse(time.RFC3339, row.Review.CreatedAt); err == nil {
			due := created.Add(time.Duration(row.Review.SLAHours) * time.Hour)
			pr.DueAt = due.Format(time.RFC3339)
			pr.HoursRemaining = due.Sub(now).Hours()
			pr.Overdue = now.After(due)
		}
		out = append(out, pr)
	}
	return out, nil
}

// SweepResult summarizes one SLA sweep.
type SweepResult struct {
	Escalated []string `json:"escalated"`
	Actions   []string `json:"actions"`
}

// SweepSLA escalates every pending review past its SLA deadline and applies
// the review's timeout action: fail closes the attempt, downgrade auto-applies
// a half-threshold pass, notify only records the breach.
func (e Engine) SweepSLA(ctx context.Context, actorID string) (SweepResult, error) {
	var out SweepResult
	now := e.now().UTC().Format(time.RFC3339)
	overdue, err := e.Repo.ListOverdueReviews(ctx, now)
	if err != nil {
		return out, err
	}
	for _, rv := range overdue {
		action, err := e.escalateReview(ctx, rv, actorID)
		if err != nil {
			return out, fmt.Errorf("escalate review %s: %w", rv.ID, err)
		}
		out.Escalated = append(out.Escalated, rv.ID)
		out.Actions = append(out.Actions, action)
		if e.Metrics != nil {
			e.Metrics.EscalatedReviews.Inc()
		}
	}
	return out, nil
}

func (e Engine) escalateReview(ctx context.Context, rv domain.Review, actorID string) (string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := e.Repo.MarkReviewEscalatedTx(ctx, tx, rv.ID); err != nil {
		return "", err
	}
	now := e.now().UTC().Format(time.RFC3339)
	action := rv.TimeoutAction

	switch action {
	case domain.TimeoutFail:
		score := 0.0
		if err := e.closeTimedOutReview(ctx, tx, rv, domain.DecisionRejected, &score, "review SLA expired", now); err != nil {
			return "", err
		}
	case domain.TimeoutDowngrade:
		// The submission is accepted at half the task's pass bar; the learner
		// is not punished for reviewer unavailability. Recorded as an
		// auto-applied remediation so the concession is auditable.
		task, err := e.Repo.GetTaskTx(ctx, tx, rv.TaskID)
		if err != nil {
			return "", err
		}
		score := task.MinPassScore / 2
		if err := e.closeTimedOutReview(ctx, tx, rv, domain.DecisionApproved, &score, "review SLA expired; accepted at downgraded score", now); err != nil {
			return "", err
		}
		if err := e.Repo.MarkTaskPassedTx(ctx, tx, task.ID, rv.AttemptID, score, now); err != nil {
			return "", err
		}
		if err := e.recordAutoDowngrade(ctx, tx, task, rv, score, now); err != nil {
			return "", err
		}
	case domain.TimeoutNotify:
		// Escalation flag plus event only; the review stays open.
	default:
		return "", fmt.Errorf("unknown timeout action %q", action)
	}

	if err := e.Events.Append(ctx, tx, "review.sla_breached", "", "review", rv.ID, actorID, events.EventPayload{
		"attempt_id": rv.AttemptID, "timeout_action": action, "sla_hours": rv.SLAHours,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return action, nil
}

func (e Engine) closeTimedOutReview(ctx context.Context, tx *sql.Tx, rv domain.Review, decision string, score *float64, note, now string) error {
	if err := e.Repo.DecideReviewTx(ctx, tx, rv.ID, "system", decision, score, &note, now); err != nil {
		return err
	}
	status := domain.AttemptFail
	if decision == domain.DecisionApproved {
		status = domain.AttemptPass
	}
	output := reviewOutput(decision, score, note)
	return e.Repo.FinalizeAttemptTx(ctx, tx, rv.AttemptID, status, score, &output, now)
}

func (e Engine) recordAutoDowngrade(ctx context.Context, tx *sql.Tx, task domain.Task, rv domain.Review, score float64, now string) error {
	rm := domain.Remediation{
		ID:           newID(),
		TaskID:       task.ID,
		UserID:       rv.UserID,
		ActionType:   stagnation.ActionDifficultyDowngrade,
		Status:       domain.RemediationAutoApplied,
		Reason:       "review SLA expired with timeout_action=downgrade",
		ProposedJSON: fmt.Sprintf(`{"accepted_score":%.2f,"min_pass_score":%.2f}`, score, task.MinPassScore),
		CreatedAt:    now,
		ResolvedAt:   &now,
	}
	return e.Repo.InsertRemediationTx(ctx, tx, rm)
}
