package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"proofgate/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrSeqConflict signals a lost race on the per-(task,user) attempt
	// sequence; callers recompute the next number and retry.
	ErrSeqConflict = errors.New("attempt sequence conflict")
	// ErrDuplicateProof signals the system-wide proof hash uniqueness
	// constraint fired: identical proof was already submitted.
	ErrDuplicateProof = errors.New("identical proof already submitted")
	// ErrImmutable signals an attempt to change fields that may be written
	// exactly once. This is a programming-contract failure.
	ErrImmutable = errors.New("immutable record already finalized")
	// ErrClosed signals a second decision on an already-closed record.
	ErrClosed = errors.New("record already closed")
)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

// --- roadmaps ---

func (r Repo) InsertRoadmap(ctx context.Context, rm domain.Roadmap) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO roadmaps(id,user_id,title,status,created_at) VALUES (?,?,?,?,?)`,
		rm.ID, rm.UserID, rm.Title, rm.Status, rm.CreatedAt)
	return err
}

func (r Repo) GetRoadmap(ctx context.Context, id string) (domain.Roadmap, error) {
	var rm domain.Roadmap
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,status,created_at FROM roadmaps WHERE id=?`, id).
		Scan(&rm.ID, &rm.UserID, &rm.Title, &rm.Status, &rm.CreatedAt)
	if err == sql.ErrNoRows {
		return rm, ErrNotFound
	}
	return rm, err
}

func (r Repo) ListRoadmaps(ctx context.Context, userID string) ([]domain.Roadmap, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,title,status,created_at FROM roadmaps WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Roadmap
	for rows.Next() {
		var rm domain.Roadmap
		if err := rows.Scan(&rm.ID, &rm.UserID, &rm.Title, &rm.Status, &rm.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rm)
	}
	return res, rows.Err()
}

// DeleteRoadmapTx removes a roadmap together with its tasks, attempts,
// reviews, remediations and resumes. The attempt ledger carries no foreign
// key to tasks, so this is the one path that clears it explicitly.
func (r Repo) DeleteRoadmapTx(ctx context.Context, tx *sql.Tx, id string) error {
	statements := []string{
		`DELETE FROM reviews WHERE task_id IN (SELECT id FROM tasks WHERE roadmap_id=?)`,
		`DELETE FROM attempts WHERE task_id IN (SELECT id FROM tasks WHERE roadmap_id=?)`,
		`DELETE FROM remediations WHERE task_id IN (SELECT id FROM tasks WHERE roadmap_id=?)`,
	}
	for _, q := range statements {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM roadmaps WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- tasks ---

const taskColumns = `id,roadmap_id,day,objective,proof_type,validator_type,rules_json,min_pass_score,max_attempts,is_core,weight,due_date,first_passed_at,best_score,best_attempt_id,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var rules, dueDate, firstPassed, bestAttempt sql.NullString
	var maxAttempts sql.NullInt64
	var bestScore sql.NullFloat64
	err := scan(&t.ID, &t.RoadmapID, &t.Day, &t.Objective, &t.ProofType, &t.ValidatorType, &rules,
		&t.MinPassScore, &maxAttempts, &t.IsCore, &t.Weight, &dueDate, &firstPassed, &bestScore, &bestAttempt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.RulesJSON = strPtr(rules)
	t.DueDate = strPtr(dueDate)
	t.FirstPassedAt = strPtr(firstPassed)
	t.BestAttemptID = strPtr(bestAttempt)
	t.MaxAttempts = intPtr(maxAttempts)
	t.BestScore = floatPtr(bestScore)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RoadmapID, t.Day, t.Objective, t.ProofType, t.ValidatorType, nullableStringPtr(t.RulesJSON),
		t.MinPassScore, nullableIntPtr(t.MaxAttempts), t.IsCore, t.Weight, nullableStringPtr(t.DueDate),
		nullableStringPtr(t.FirstPassedAt), nullableFloatPtr(t.BestScore), nullableStringPtr(t.BestAttemptID),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, roadmapID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE roadmap_id=? ORDER BY day ASC, created_at ASC, id ASC`, roadmapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListTasksForUser returns tasks across all of a user's roadmaps, optionally
// filtered to one roadmap.
func (r Repo) ListTasksForUser(ctx context.Context, userID, roadmapID string) ([]domain.Task, error) {
	clauses := []string{"r.user_id=?"}
	args := []any{userID}
	if roadmapID != "" {
		clauses = append(clauses, "t.roadmap_id=?")
		args = append(args, roadmapID)
	}
	query := `SELECT ` + prefixColumns("t", taskColumns) + ` FROM tasks t JOIN roadmaps r ON r.id=t.roadmap_id WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY t.day ASC, t.created_at ASC, t.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ",")
}

// MarkTaskPassedTx sets completion state. first_passed_at is only written
// when still null, and best score/attempt only improve; a later FAIL never
// routes through here at all.
func (r Repo) MarkTaskPassedTx(ctx context.Context, tx *sql.Tx, taskID, attemptID string, score float64, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET
		first_passed_at = COALESCE(first_passed_at, ?),
		best_score = CASE WHEN best_score IS NULL OR best_score < ? THEN ? ELSE best_score END,
		best_attempt_id = CASE WHEN best_score IS NULL OR best_score < ? THEN ? ELSE best_attempt_id END,
		updated_at = ?
		WHERE id=?`,
		now, score, score, score, attemptID, now, taskID)
	return err
}

// ClearCompletionTx wipes completion state; only the explicit invalidation
// path calls this.
func (r Repo) ClearCompletionTx(ctx context.Context, tx *sql.Tx, taskID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET first_passed_at=NULL, best_score=NULL, best_attempt_id=NULL, updated_at=? WHERE id=?`, now, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRemediationTx writes the narrow set of contract fields an accepted
// remediation may touch. Objective, proof type, validator type stay frozen.
func (r Repo) ApplyRemediationTx(ctx context.Context, tx *sql.Tx, taskID string, minPassScore *float64, maxAttempts *int, dueDate *string, rulesJSON *string, now string) error {
	var fields []string
	var args []any
	if minPassScore != nil {
		fields = append(fields, "min_pass_score=?")
		args = append(args, *minPassScore)
	}
	if maxAttempts != nil {
		fields = append(fields, "max_attempts=?")
		args = append(args, *maxAttempts)
	}
	if dueDate != nil {
		fields = append(fields, "due_date=?")
		args = append(args, nullable(*dueDate))
	}
	if rulesJSON != nil {
		fields = append(fields, "rules_json=?")
		args = append(args, nullable(*rulesJSON))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, taskID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, roadmapID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if roadmapID != "" {
		clauses = append(clauses, "roadmap_id=?")
		args = append(args, roadmapID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,roadmap_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var roadmap, entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &roadmap, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if roadmap.Valid {
			e.RoadmapID = roadmap.String
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
