package repo

import (
	"context"
	"database/sql"
	"strings"

	"proofgate/internal/domain"
)

const attemptColumns = `id,task_id,user_id,seq,payload_json,proof_hash,status,score,output_json,review_id,submitted_at,validated_at`

func scanAttempt(scan func(dest ...any) error) (domain.Attempt, error) {
	var a domain.Attempt
	var score sql.NullFloat64
	var output, review, validated sql.NullString
	err := scan(&a.ID, &a.TaskID, &a.UserID, &a.Seq, &a.PayloadJSON, &a.ProofHash, &a.Status,
		&score, &output, &review, &a.SubmittedAt, &validated)
	if err != nil {
		return a, err
	}
	a.Score = floatPtr(score)
	a.OutputJSON = strPtr(output)
	a.ReviewID = strPtr(review)
	a.ValidatedAt = strPtr(validated)
	return a, nil
}

// InsertAttemptTx appends to the ledger. Unique-constraint failures are
// classified: a proof_hash collision means the same proof was submitted
// before, a (task,user,seq) collision means we lost a race for the next
// sequence number and the caller should recompute and retry.
func (r Repo) InsertAttemptTx(ctx context.Context, tx *sql.Tx, a domain.Attempt) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attempts(`+attemptColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.UserID, a.Seq, a.PayloadJSON, a.ProofHash, a.Status,
		nullableFloatPtr(a.Score), nullableStringPtr(a.OutputJSON), nullableStringPtr(a.ReviewID),
		a.SubmittedAt, nullableStringPtr(a.ValidatedAt))
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "proof_hash") {
		return ErrDuplicateProof
	}
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return ErrSeqConflict
	}
	return err
}

func (r Repo) GetAttempt(ctx context.Context, id string) (domain.Attempt, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=?`, id)
	a, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAttemptTx(ctx context.Context, tx *sql.Tx, id string) (domain.Attempt, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=?`, id)
	a, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) NextSeqTx(ctx context.Context, tx *sql.Tx, taskID, userID string) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM attempts WHERE task_id=? AND user_id=?`, taskID, userID).Scan(&seq)
	return seq, err
}

func (r Repo) CountAttemptsTx(ctx context.Context, tx *sql.Tx, taskID, userID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE task_id=? AND user_id=?`, taskID, userID).Scan(&n)
	return n, err
}

// ProofHashExists pre-checks the global duplicate constraint so the common
// case gets a domain error instead of an insert failure.
func (r Repo) ProofHashExists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE proof_hash=?`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FinalizeAttemptTx moves a pending attempt to its terminal status exactly
// once. A second finalization returns ErrImmutable.
func (r Repo) FinalizeAttemptTx(ctx context.Context, tx *sql.Tx, id, status string, score *float64, outputJSON *string, validatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE attempts SET status=?, score=?, output_json=?, validated_at=? WHERE id=? AND status=?`,
		status, nullableFloatPtr(score), nullableStringPtr(outputJSON), validatedAt, id, domain.AttemptPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrImmutable
}

func (r Repo) SetAttemptReviewTx(ctx context.Context, tx *sql.Tx, attemptID, reviewID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET review_id=? WHERE id=? AND review_id IS NULL`, reviewID, attemptID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrImmutable
	}
	return nil
}

func (r Repo) ListAttemptsForTask(ctx context.Context, taskID, userID string) ([]domain.Attempt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE task_id=? AND user_id=? ORDER BY seq ASC`, taskID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ListAttemptsForUser returns the user's full attempt history, newest last,
// optionally scoped to one roadmap.
func (r Repo) ListAttemptsForUser(ctx context.Context, userID, roadmapID string) ([]domain.Attempt, error) {
	query := `SELECT ` + prefixColumns("a", attemptColumns) + ` FROM attempts a`
	args := []any{userID}
	if roadmapID != "" {
		query += ` JOIN tasks t ON t.id=a.task_id WHERE a.user_id=? AND t.roadmap_id=?`
		args = append(args, roadmapID)
	} else {
		query += ` WHERE a.user_id=?`
	}
	query += ` ORDER BY a.submitted_at ASC, a.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func collectAttempts(rows *sql.Rows) ([]domain.Attempt, error) {
	var res []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
