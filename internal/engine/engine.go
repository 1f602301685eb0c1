// Package engine implements the proofgate core: task contracts, the
// append-only attempt ledger, validation dispatch, eligibility, stagnation
// remediation and resume compilation. All writes are transactional and every
// state change appends an event inside the same transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	playvalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"proofgate/internal/config"
	"proofgate/internal/domain"
	"proofgate/internal/events"
	"proofgate/internal/metrics"
	"proofgate/internal/repo"
	"proofgate/internal/repohost"
	"proofgate/internal/validator"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Host     repohost.Client
	Metrics  *metrics.Metrics
	Now      func() time.Time
	validate *playvalidator.Validate
}

func New(db *sql.DB, cfg *config.Config, host repohost.Client) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Host:     host,
		Now:      time.Now,
		validate: playvalidator.New(playvalidator.WithRequiredStructEnabled()),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateRoadmap registers a new roadmap for a user.
func (e Engine) CreateRoadmap(ctx context.Context, userID, title, actorID string) (domain.Roadmap, error) {
	if userID == "" || title == "" {
		return domain.Roadmap{}, errors.New("user and title are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Roadmap{}, err
	}
	defer tx.Rollback()

	rm := domain.Roadmap{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO roadmaps(id,user_id,title,status,created_at) VALUES (?,?,?,?,?)`,
		rm.ID, rm.UserID, rm.Title, rm.Status, rm.CreatedAt); err != nil {
		return domain.Roadmap{}, fmt.Errorf("insert roadmap: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "roadmap.created", rm.ID, "roadmap", rm.ID, actorID, events.EventPayload{"title": title}); err != nil {
		return domain.Roadmap{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Roadmap{}, err
	}
	return rm, nil
}

// TaskCreateOptions are parameters for creating a task contract.
type TaskCreateOptions struct {
	RoadmapID     string
	Day           int
	Objective     string
	ProofType     string
	ValidatorType string
	RulesJSON     string
	MinPassScore  float64
	MaxAttempts   *int
	IsCore        bool
	Weight        int
	DueDate       string
	ActorID       string
}

// CreateTask creates an immutable task contract. Once created, only
// completion tracking and the narrow remediation fields ever change.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if _, err := e.Repo.GetRoadmap(ctx, opts.RoadmapID); err != nil {
		return domain.Task{}, err
	}
	if opts.MinPassScore == 0 {
		opts.MinPassScore = e.Config.Engine.PassThreshold
	}
	if opts.Weight == 0 {
		opts.Weight = 1
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:            uuid.NewString(),
		RoadmapID:     opts.RoadmapID,
		Day:           opts.Day,
		Objective:     opts.Objective,
		ProofType:     opts.ProofType,
		ValidatorType: opts.ValidatorType,
		RulesJSON:     optionalString(opts.RulesJSON),
		MinPassScore:  opts.MinPassScore,
		MaxAttempts:   opts.MaxAttempts,
		IsCore:        opts.IsCore,
		Weight:        opts.Weight,
		DueDate:       optionalString(opts.DueDate),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.validate.Struct(t); err != nil {
		return domain.Task{}, fmt.Errorf("invalid task: %w", err)
	}
	if err := validateProofPairing(t.ProofType, t.ValidatorType); err != nil {
		return domain.Task{}, err
	}
	if _, err := validator.ParseRules(t.ValidatorType, t.RulesJSON); err != nil {
		return domain.Task{}, fmt.Errorf("invalid task rules: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.RoadmapID, "task", t.ID, opts.ActorID, events.EventPayload{
		"objective": t.Objective, "proof_type": t.ProofType, "validator_type": t.ValidatorType, "is_core": t.IsCore,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// validateProofPairing rejects proof/validator combinations that can never
// produce a verdict.
func validateProofPairing(proofType, validatorType string) error {
	valid := map[string][]string{
		validator.ProofRepository: {validator.ValidatorRepository, validator.ValidatorManual},
		validator.ProofQuiz:       {validator.ValidatorQuiz, validator.ValidatorManual},
		validator.ProofFile:       {validator.ValidatorManual},
		validator.ProofURL:        {validator.ValidatorManual},
		validator.ProofNone:       {validator.ValidatorNone},
	}
	for _, v := range valid[proofType] {
		if v == validatorType {
			return nil
		}
	}
	return fmt.Errorf("proof type %q cannot be validated by %q", proofType, validatorType)
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, roadmapID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, roadmapID)
}

func (e Engine) GetRoadmap(ctx context.Context, id string) (domain.Roadmap, error) {
	return e.Repo.GetRoadmap(ctx, id)
}

func (e Engine) ListRoadmaps(ctx context.Context, userID string) ([]domain.Roadmap, error) {
	return e.Repo.ListRoadmaps(ctx, userID)
}

// DeleteRoadmap removes a roadmap and everything recorded under it: tasks,
// attempts, reviews, remediations and resumes. This is the only path that
// deletes attempt history.
func (e Engine) DeleteRoadmap(ctx context.Context, id, actorID string) error {
	rm, err := e.Repo.GetRoadmap(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRoadmapTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "roadmap.deleted", id, "roadmap", id, actorID, events.EventPayload{"title": rm.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// InvalidateCompletion revokes a task's completion. This is the single
// sanctioned exception to first_passed_at permanence and always requires a
// reason.
func (e Engine) InvalidateCompletion(ctx context.Context, taskID, reason, actorID string) (domain.Task, error) {
	if reason == "" {
		return domain.Task{}, errors.New("a reason is required to invalidate a completion")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.Passed() {
		return domain.Task{}, fmt.Errorf("task %s has no completion to invalidate", taskID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ClearCompletionTx(ctx, tx, taskID, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.completion_invalidated", t.RoadmapID, "task", taskID, actorID, events.EventPayload{
		"reason": reason, "previous_first_passed_at": *t.FirstPassedAt,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) LatestEvents(ctx context.Context, limit int, roadmapID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.LatestEvents(ctx, limit, roadmapID, evtType, entityKind, entityID)
}

func newID() string {
	return uuid.NewString()
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
