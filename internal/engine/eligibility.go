package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"proofgate/internal/domain"
	"proofgate/internal/eligibility"
	"proofgate/internal/events"
	"proofgate/internal/repo"
)

// EvaluateEligibility computes the full eligibility diagnosis for a user's
// roadmap, honoring any active override.
func (e Engine) EvaluateEligibility(ctx context.Context, userID, roadmapID string) (eligibility.Evaluation, error) {
	tasks, err := e.Repo.ListTasksForUser(ctx, userID, roadmapID)
	if err != nil {
		return eligibility.Evaluation{}, err
	}
	var override *domain.Override
	if ov, err := e.Repo.ActiveOverride(ctx, userID); err == nil {
		override = &ov
	} else if !errors.Is(err, repo.ErrNotFound) {
		return eligibility.Evaluation{}, err
	}
	return eligibility.Evaluate(tasks, override, e.Config.Engine.PassThreshold, e.now().UTC()), nil
}

// GrantOverride records a manual eligibility override. The evaluation state
// being overridden is snapshotted so the decision can be audited later.
func (e Engine) GrantOverride(ctx context.Context, userID, roadmapID, justification, grantedBy, expiresAt string) (domain.Override, error) {
	if justification == "" {
		return domain.Override{}, errors.New("an override requires a justification")
	}
	if grantedBy == "" {
		return domain.Override{}, errors.New("an override must name who granted it")
	}
	if expiresAt != "" {
		if _, err := time.Parse(time.RFC3339, expiresAt); err != nil {
			return domain.Override{}, errors.New("expires_at must be RFC3339")
		}
	}
	ev, err := e.EvaluateEligibility(ctx, userID, roadmapID)
	if err != nil {
		return domain.Override{}, err
	}
	snapshot, err := json.Marshal(ev)
	if err != nil {
		return domain.Override{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Override{}, err
	}
	defer tx.Rollback()
	ov := domain.Override{
		ID:            newID(),
		UserID:        userID,
		Justification: justification,
		SnapshotJSON:  string(snapshot),
		Active:        true,
		GrantedBy:     grantedBy,
		GrantedAt:     e.now().UTC().Format(time.RFC3339),
		ExpiresAt:     optionalString(expiresAt),
	}
	if err := e.Repo.InsertOverrideTx(ctx, tx, ov); err != nil {
		return domain.Override{}, err
	}
	if err := e.Events.Append(ctx, tx, "override.granted", roadmapID, "override", ov.ID, grantedBy, events.EventPayload{
		"user_id": userID, "justification": justification, "expires_at": expiresAt,
	}); err != nil {
		return domain.Override{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Override{}, err
	}
	return ov, nil
}

// RevokeOverride deactivates an override; the reason is mandatory.
func (e Engine) RevokeOverride(ctx context.Context, overrideID, revokedBy, reason string) (domain.Override, error) {
	if reason == "" {
		return domain.Override{}, errors.New("a reason is required to revoke an override")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Override{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.RevokeOverrideTx(ctx, tx, overrideID, revokedBy, reason, now); err != nil {
		if errors.Is(err, repo.ErrClosed) {
			return domain.Override{}, AlreadyDecidedError{Kind: "override", ID: overrideID}
		}
		return domain.Override{}, err
	}
	if err := e.Events.Append(ctx, tx, "override.revoked", "", "override", overrideID, revokedBy, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return domain.Override{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Override{}, err
	}
	return e.Repo.GetOverride(ctx, overrideID)
}

func (e Engine) ListOverrides(ctx context.Context, userID string) ([]domain.Override, error) {
	return e.Repo.ListOverrides(ctx, userID)
}
