package validator

import (
	"context"
	"time"

	"proofgate/internal/config"
	"proofgate/internal/domain"
	"proofgate/internal/repohost"
)

// Dispatcher routes a submission to the validator matching the task's
// declared validator type.
type Dispatcher struct {
	Cfg  *config.Config
	Host repohost.Client
}

// Run validates a proof payload for a task. Validator-internal faults
// (malformed rules, missing answer keys) come back as a FAIL result with
// errors populated; the caller never distinguishes "validator crashed" from
// "validator said no".
func (d *Dispatcher) Run(ctx context.Context, task domain.Task, payloadJSON, hostLogin string) Result {
	payload, err := ParsePayload(payloadJSON)
	if err != nil {
		return failResult(0, nil, []string{err.Error()}, nil)
	}
	rules, err := ParseRules(task.ValidatorType, task.RulesJSON)
	if err != nil {
		return failResult(0, nil, []string{err.Error()}, nil)
	}
	threshold := task.MinPassScore
	if threshold <= 0 {
		threshold = d.Cfg.Engine.PassThreshold
	}
	switch task.ValidatorType {
	case ValidatorRepository:
		rv := &RepositoryValidator{
			Host:        d.Host,
			MinAgeHours: d.Cfg.Repository.MinAgeHours,
			AuthorShare: d.Cfg.Repository.AuthorShare,
			WindowShare: d.Cfg.Repository.CommitWindowShare,
		}
		return rv.Validate(ctx, rules.Repository, payload, hostLogin, taskStart(task), threshold)
	case ValidatorQuiz:
		return GradeQuiz(rules.Quiz, payload, threshold)
	case ValidatorManual:
		return Result{Status: StatusPending}
	case ValidatorNone:
		return Result{Status: StatusPass, Score: scorePtr(100)}
	default:
		return failResult(0, nil, []string{"unknown validator type " + task.ValidatorType}, nil)
	}
}

func taskStart(task domain.Task) *time.Time {
	if task.CreatedAt == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, task.CreatedAt)
	if err != nil {
		return nil
	}
	return &t
}
