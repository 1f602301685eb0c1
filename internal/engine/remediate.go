package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"proofgate/internal/domain"
	"proofgate/internal/events"
	"proofgate/internal/repo"
	"proofgate/internal/stagnation"
	"proofgate/internal/validator"
)

// AnalyzeStagnation runs the stagnation checks over a user's roadmap and
// records every new recommendation as a suggested remediation. Proposals
// expire after seven days; an open proposal for the same task and action is
// not duplicated.
func (e Engine) AnalyzeStagnation(ctx context.Context, userID, roadmapID, actorID string) (stagnation.Report, []domain.Remediation, error) {
	tasks, err := e.Repo.ListTasksForUser(ctx, userID, roadmapID)
	if err != nil {
		return stagnation.Report{}, nil, err
	}
	attempts, err := e.Repo.ListAttemptsForUser(ctx, userID, roadmapID)
	if err != nil {
		return stagnation.Report{}, nil, err
	}
	report := stagnation.Analyze(tasks, attempts, stagnation.Params{
		InactivityDays:    e.Config.Stagnation.InactivityDays,
		FailStreak:        e.Config.Stagnation.FailStreak,
		LowScoreWindow:    e.Config.Stagnation.LowScoreWindow,
		LowScoreThreshold: e.Config.Stagnation.LowScoreThreshold,
	}, e.now().UTC())

	open, err := e.Repo.ListRemediations(ctx, userID, domain.RemediationSuggested)
	if err != nil {
		return report, nil, err
	}
	openKey := map[string]bool{}
	for _, rm := range open {
		openKey[rm.TaskID+"|"+rm.ActionType] = true
	}

	roadmapByTask := map[string]string{}
	for _, t := range tasks {
		roadmapByTask[t.ID] = t.RoadmapID
	}

	var created []domain.Remediation
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	expires := now.AddDate(0, 0, 7).Format(time.RFC3339)
	for _, rec := range report.Recommendations {
		if openKey[rec.TaskID+"|"+rec.ActionType] {
			continue
		}
		proposed, err := json.Marshal(rec)
		if err != nil {
			return report, created, err
		}
		rm := domain.Remediation{
			ID:           newID(),
			TaskID:       rec.TaskID,
			UserID:       userID,
			ActionType:   rec.ActionType,
			Status:       domain.RemediationSuggested,
			Reason:       rec.Reason,
			ProposedJSON: string(proposed),
			ExpiresAt:    &expires,
			CreatedAt:    nowStr,
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return report, created, err
		}
		if err := e.Repo.InsertRemediationTx(ctx, tx, rm); err != nil {
			tx.Rollback()
			return report, created, err
		}
		if err := e.Events.Append(ctx, tx, "remediation.suggested", roadmapByTask[rec.TaskID], "remediation", rm.ID, actorID, events.EventPayload{
			"task_id": rec.TaskID, "action_type": rec.ActionType, "severity": report.Severity,
		}); err != nil {
			tx.Rollback()
			return report, created, err
		}
		if err := tx.Commit(); err != nil {
			return report, created, err
		}
		if e.Metrics != nil {
			e.Metrics.RemediationsOpened.Inc()
		}
		created = append(created, rm)
	}
	return report, created, nil
}

// AcceptRemediation applies a suggested proposal to its task contract. The
// applied before/after state and a unified patch are stored on the record so
// every contract change stays auditable.
func (e Engine) AcceptRemediation(ctx context.Context, remediationID, comment, actorID string) (domain.Remediation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Remediation{}, err
	}
	defer tx.Rollback()

	rm, err := e.Repo.GetRemediationTx(ctx, tx, remediationID)
	if err != nil {
		return domain.Remediation{}, err
	}
	if rm.Status != domain.RemediationSuggested {
		return domain.Remediation{}, AlreadyDecidedError{Kind: "remediation", ID: rm.ID}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	if rm.ExpiresAt != nil {
		if exp, perr := time.Parse(time.RFC3339, *rm.ExpiresAt); perr == nil && now.After(exp) {
			return domain.Remediation{}, fmt.Errorf("remediation %s expired %s", rm.ID, *rm.ExpiresAt)
		}
	}
	task, err := e.Repo.GetTaskTx(ctx, tx, rm.TaskID)
	if err != nil {
		return domain.Remediation{}, err
	}

	var rec stagnation.Recommendation
	if err := json.Unmarshal([]byte(rm.ProposedJSON), &rec); err != nil {
		return domain.Remediation{}, fmt.Errorf("stored proposal: %w", err)
	}

	before := contractSnapshot(task)
	if rm.ActionType == stagnation.ActionTaskRemoval {
		// Only the contract row goes away; the attempt ledger and this
		// remediation record stay behind as the audit trail.
		if err := e.Repo.DeleteTaskTx(ctx, tx, task.ID); err != nil {
			return domain.Remediation{}, err
		}
	} else {
		after, aerr := applyChanges(task, rec.Changes)
		if aerr != nil {
			return domain.Remediation{}, aerr
		}
		if err := e.Repo.ApplyRemediationTx(ctx, tx, task.ID, after.minPassScore, after.maxAttempts, after.dueDate, after.rulesJSON, nowStr); err != nil {
			return domain.Remediation{}, err
		}
	}

	applied := before
	if rm.ActionType != stagnation.ActionTaskRemoval {
		updated, gerr := e.Repo.GetTaskTx(ctx, tx, task.ID)
		if gerr != nil {
			return domain.Remediation{}, gerr
		}
		applied = contractSnapshot(updated)
	} else {
		applied = `{"removed":true}`
	}
	diff := contractDiff(before, applied)

	if err := e.Repo.ResolveRemediationTx(ctx, tx, rm.ID, domain.RemediationAccepted, &applied, &diff, optionalString(comment), nowStr); err != nil {
		if errors.Is(err, repo.ErrClosed) {
			return domain.Remediation{}, AlreadyDecidedError{Kind: "remediation", ID: rm.ID}
		}
		return domain.Remediation{}, err
	}
	if err := e.Events.Append(ctx, tx, "remediation.accepted", task.RoadmapID, "remediation", rm.ID, actorID, events.EventPayload{
		"task_id": task.ID, "action_type": rm.ActionType,
	}); err != nil {
		return domain.Remediation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Remediation{}, err
	}
	return e.Repo.GetRemediation(ctx, rm.ID)
}

// RejectRemediation closes a proposal without touching the task.
func (e Engine) RejectRemediation(ctx context.Context, remediationID, comment, actorID string) (domain.Remediation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Remediation{}, err
	}
	defer tx.Rollback()

	rm, err := e.Repo.GetRemediationTx(ctx, tx, remediationID)
	if err != nil {
		return domain.Remediation{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ResolveRemediationTx(ctx, tx, rm.ID, domain.RemediationRejected, nil, nil, optionalString(comment), now); err != nil {
		if errors.Is(err, repo.ErrClosed) {
			return domain.Remediation{}, AlreadyDecidedError{Kind: "remediation", ID: rm.ID}
		}
		return domain.Remediation{}, err
	}
	task, terr := e.Repo.GetTaskTx(ctx, tx, rm.TaskID)
	roadmapID := ""
	if terr == nil {
		roadmapID = task.RoadmapID
	}
	if err := e.Events.Append(ctx, tx, "remediation.rejected", roadmapID, "remediation", rm.ID, actorID, events.EventPayload{
		"task_id": rm.TaskID, "action_type": rm.ActionType,
	}); err != nil {
		return domain.Remediation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Remediation{}, err
	}
	return e.Repo.GetRemediation(ctx, rm.ID)
}

func (e Engine) ListRemediations(ctx context.Context, userID, status string) ([]domain.Remediation, error) {
	return e.Repo.ListRemediations(ctx, userID, status)
}

// contractFields is the mutable-by-remediation slice of a task contract.
type contractFields struct {
	minPassScore *float64
	maxAttempts  *int
	dueDate      *string
	rulesJSON    *string
}

// applyChanges translates proposal changes into concrete field writes.
// Fields outside the sanctioned set are rejected; a remediation can never
// rewrite an objective or a validator.
func applyChanges(task domain.Task, changes []stagnation.Change) (contractFields, error) {
	var out contractFields
	for _, ch := range changes {
		switch ch.Field {
		case "min_pass_score":
			v, ok := asFloat(ch.To)
			if !ok {
				return out, fmt.Errorf("min_pass_score change has non-numeric target %v", ch.To)
			}
			out.minPassScore = &v
		case "max_attempts":
			f, ok := asFloat(ch.To)
			if !ok {
				return out, fmt.Errorf("max_attempts change has non-numeric target %v", ch.To)
			}
			v := int(f)
			out.maxAttempts = &v
		case "due_date":
			s, ok := ch.To.(string)
			if !ok {
				return out, fmt.Errorf("due_date change has non-string target %v", ch.To)
			}
			out.dueDate = &s
		case "optional_rules":
			reduced, err := reduceRules(task)
			if err != nil {
				return out, err
			}
			out.rulesJSON = &reduced
		default:
			return out, fmt.Errorf("remediation may not change field %q", ch.Field)
		}
	}
	return out, nil
}

// reduceRules strips the optional acceptance sub-rules from a repository
// rule set, keeping the anti-gaming checks intact.
func reduceRules(task domain.Task) (string, error) {
	if task.ValidatorType != validator.ValidatorRepository || task.RulesJSON == nil {
		return "", nil
	}
	var rules validator.RepositoryRules
	if err := json.Unmarshal([]byte(*task.RulesJSON), &rules); err != nil {
		return "", fmt.Errorf("task rules: %w", err)
	}
	rules.RequiredPaths = nil
	rules.Keywords = nil
	data, err := json.Marshal(rules)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// contractSnapshot renders the remediable contract fields as stable JSON for
// before/after records.
func contractSnapshot(t domain.Task) string {
	snap := map[string]any{
		"min_pass_score": t.MinPassScore,
		"max_attempts":   nil,
		"due_date":       nil,
		"rules_json":     nil,
	}
	if t.MaxAttempts != nil {
		snap["max_attempts"] = *t.MaxAttempts
	}
	if t.DueDate != nil {
		snap["due_date"] = *t.DueDate
	}
	if t.RulesJSON != nil {
		snap["rules_json"] = *t.RulesJSON
	}
	data, _ := json.MarshalIndent(snap, "", "  ")
	return string(data)
}

func contractDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, after)
	return dmp.PatchToText(patches)
}
