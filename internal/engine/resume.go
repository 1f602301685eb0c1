package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proofgate/internal/domain"
	"proofgate/internal/events"
	"proofgate/internal/repo"
	"proofgate/internal/resume"
)

// ResumeDocument is a compiled resume version with its entries in section
// order.
type ResumeDocument struct {
	Version domain.ResumeVersion `json:"version"`
	Entries []domain.ResumeEntry `json:"entries"`
}

// CompileResume builds the next resume version from the user's passed tasks.
// The caller must be eligible and have at least one completed task; every
// entry carries the task and the exact attempt that earned the pass.
func (e Engine) CompileResume(ctx context.Context, userID, roadmapID, templateID, actorID string) (ResumeDocument, error) {
	rm, err := e.Repo.GetRoadmap(ctx, roadmapID)
	if err != nil {
		return ResumeDocument{}, err
	}
	if rm.UserID != userID {
		return ResumeDocument{}, fmt.Errorf("roadmap %s does not belong to user %s", roadmapID, userID)
	}
	tpl, err := e.Config.Template(templateID)
	if err != nil {
		return ResumeDocument{}, err
	}
	ev, err := e.EvaluateEligibility(ctx, userID, roadmapID)
	if err != nil {
		return ResumeDocument{}, err
	}
	if !ev.IsEligible {
		return ResumeDocument{}, errors.New(ev.Message)
	}

	tasks, err := e.Repo.ListTasks(ctx, roadmapID)
	if err != nil {
		return ResumeDocument{}, err
	}
	var candidates []resume.Candidate
	for _, t := range tasks {
		if !t.Passed() || t.BestAttemptID == nil {
			continue
		}
		attempt, err := e.Repo.GetAttempt(ctx, *t.BestAttemptID)
		if err != nil {
			return ResumeDocument{}, fmt.Errorf("best attempt for task %s: %w", t.ID, err)
		}
		candidates = append(candidates, resume.Candidate{Task: t, Attempt: attempt})
	}
	if len(candidates) == 0 {
		return ResumeDocument{}, NoCompletedTasksError{RoadmapID: roadmapID}
	}
	laid := resume.Layout(tpl, candidates)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ResumeDocument{}, err
	}
	defer tx.Rollback()

	prev, err := e.Repo.MaxResumeVersionTx(ctx, tx, userID, roadmapID)
	if err != nil {
		return ResumeDocument{}, err
	}
	if err := e.Repo.ClearLatestTx(ctx, tx, userID, roadmapID); err != nil {
		return ResumeDocument{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	version := domain.ResumeVersion{
		ID:         newID(),
		UserID:     userID,
		RoadmapID:  roadmapID,
		Version:    prev + 1,
		TemplateID: tpl.ID,
		IsLatest:   true,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertResumeVersionTx(ctx, tx, version); err != nil {
		return ResumeDocument{}, err
	}
	doc := ResumeDocument{Version: version}
	for _, le := range laid {
		entry := domain.ResumeEntry{
			ID:        newID(),
			VersionID: version.ID,
			Section:   le.Section,
			Position:  le.Position,
			TaskID:    le.Task.ID,
			AttemptID: le.Attempt.ID,
			Objective: le.Task.Objective,
			Score:     scoreValue(le.Task.BestScore),
			Weight:    le.Task.Weight,
			PassedAt:  *le.Task.FirstPassedAt,
		}
		if err := e.Repo.InsertResumeEntryTx(ctx, tx, entry); err != nil {
			return ResumeDocument{}, err
		}
		doc.Entries = append(doc.Entries, entry)
	}
	if err := e.Events.Append(ctx, tx, "resume.compiled", roadmapID, "resume", version.ID, actorID, events.EventPayload{
		"version": version.Version, "template_id": tpl.ID, "entries": len(doc.Entries),
	}); err != nil {
		return ResumeDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return ResumeDocument{}, err
	}
	if e.Metrics != nil {
		e.Metrics.ResumesCompiled.Inc()
	}
	return doc, nil
}

// GetResume loads a compiled resume, the latest when versionID is empty.
func (e Engine) GetResume(ctx context.Context, userID, roadmapID, versionID string) (ResumeDocument, error) {
	var version domain.ResumeVersion
	var err error
	if versionID == "" {
		version, err = e.Repo.LatestResumeVersion(ctx, userID, roadmapID)
	} else {
		version, err = e.Repo.GetResumeVersion(ctx, versionID)
	}
	if err != nil {
		return ResumeDocument{}, err
	}
	entries, err := e.Repo.ListResumeEntries(ctx, version.ID)
	if err != nil {
		return ResumeDocument{}, err
	}
	return ResumeDocument{Version: version, Entries: entries}, nil
}

func (e Engine) ListResumeVersions(ctx context.Context, userID, roadmapID string) ([]domain.ResumeVersion, error) {
	return e.Repo.ListResumeVersions(ctx, userID, roadmapID)
}

// EntryVerification is the audit outcome for one resume line.
type EntryVerification struct {
	EntryID   string   `json:"entry_id"`
	TaskID    string   `json:"task_id"`
	AttemptID string   `json:"attempt_id"`
	Valid     bool     `json:"valid"`
	Problems  []string `json:"problems,omitempty"`
}

// VerificationReport is the result of re-checking a compiled resume against
// the current ledger.
type VerificationReport struct {
	VersionID string              `json:"version_id"`
	AllValid  bool                `json:"all_valid"`
	Entries   []EntryVerification `json:"entries"`
}

// VerifyResume re-traces every entry of a compiled resume back to its task
// and passing attempt. Invalidated completions and missing records surface
// as per-entry problems, never as a lookup error.
func (e Engine) VerifyResume(ctx context.Context, versionID string) (VerificationReport, error) {
	version, err := e.Repo.GetResumeVersion(ctx, versionID)
	if err != nil {
		return VerificationReport{}, err
	}
	entries, err := e.Repo.ListResumeEntries(ctx, version.ID)
	if err != nil {
		return VerificationReport{}, err
	}
	report := VerificationReport{VersionID: version.ID, AllValid: true}
	for _, entry := range entries {
		ver := EntryVerification{EntryID: entry.ID, TaskID: entry.TaskID, AttemptID: entry.AttemptID, Valid: true}
		task, terr := e.Repo.GetTask(ctx, entry.TaskID)
		switch {
		case errors.Is(terr, repo.ErrNotFound):
			ver.problem("task no longer exists")
		case terr != nil:
			return VerificationReport{}, terr
		case !task.Passed():
			ver.problem("task completion has been invalidated")
		}
		attempt, aerr := e.Repo.GetAttempt(ctx, entry.AttemptID)
		switch {
		case errors.Is(aerr, repo.ErrNotFound):
			ver.problem("attempt no longer exists")
		case aerr != nil:
			return VerificationReport{}, aerr
		default:
			if attempt.Status != domain.AttemptPass {
				ver.problem(fmt.Sprintf("attempt status is %s, not pass", attempt.Status))
			}
			if attempt.TaskID != entry.TaskID {
				ver.problem("attempt belongs to a different task")
			}
		}
		if !ver.Valid {
			report.AllValid = false
		}
		report.Entries = append(report.Entries, ver)
	}
	return report, nil
}

func (v *EntryVerification) problem(p string) {
	v.Valid = false
	v.Problems = append(v.Problems, p)
}
