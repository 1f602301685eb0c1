package repo

import (
	"context"
	"database/sql"

	"proofgate/internal/domain"
)

const reviewColumns = `id,attempt_id,task_id,user_id,reviewer_id,decision,score,feedback,sla_hours,escalated,timeout_action,created_at,decided_at`

func scanReview(scan func(dest ...any) error) (domain.Review, error) {
	var rv domain.Review
	var reviewer, feedback, decided sql.NullString
	var score sql.NullFloat64
	err := scan(&rv.ID, &rv.AttemptID, &rv.TaskID, &rv.UserID, &reviewer, &rv.Decision,
		&score, &feedback, &rv.SLAHours, &rv.Escalated, &rv.TimeoutAction, &rv.CreatedAt, &decided)
	if err != nil {
		return rv, err
	}
	rv.ReviewerID = strPtr(reviewer)
	rv.Score = floatPtr(score)
	rv.Feedback = strPtr(feedback)
	rv.DecidedAt = strPtr(decided)
	return rv, nil
}

func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reviews(`+reviewColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.AttemptID, rv.TaskID, rv.UserID, nullableStringPtr(rv.ReviewerID), rv.Decision,
		nullableFloatPtr(rv.Score), nullableStringPtr(rv.Feedback), rv.SLAHours, rv.Escalated,
		rv.TimeoutAction, rv.CreatedAt, nullableStringPtr(rv.DecidedAt))
	return err
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	rv, err := scanReview(row.Scan)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	return rv, err
}

func (r Repo) GetReviewTx(ctx context.Context, tx *sql.Tx, id string) (domain.Review, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	rv, err := scanReview(row.Scan)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	return rv, err
}

// DecideReviewTx records a decision exactly once; deciding a closed review
// returns ErrClosed.
func (r Repo) DecideReviewTx(ctx context.Context, tx *sql.Tx, id, reviewerID, decision string, score *float64, feedback *string, decidedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reviews SET reviewer_id=?, decision=?, score=?, feedback=?, decided_at=? WHERE id=? AND decision=?`,
		reviewerID, decision, nullableFloatPtr(score), nullableStringPtr(feedback), decidedAt, id, domain.DecisionPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM reviews WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrClosed
}

// PendingReviewRow pairs a queued review with the proof it judges, so the
// reviewer sees the submission without a second lookup.
type PendingReviewRow struct {
	Review       domain.Review
	ProofPayload string
	SubmittedAt  string
}

// ListPendingReviews joins each pending review with its attempt and orders by
// SLA deadline so the queue surfaces the most urgent review first.
func (r Repo) ListPendingReviews(ctx context.Context) ([]PendingReviewRow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+prefixColumns("rv", reviewColumns)+`, a.payload_json, a.submitted_at
		FROM reviews rv JOIN attempts a ON a.id = rv.attempt_id
		WHERE rv.decision=?
		ORDER BY datetime(rv.created_at, '+' || rv.sla_hours || ' hours') ASC, rv.id ASC`, domain.DecisionPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PendingReviewRow
	for rows.Next() {
		var row PendingReviewRow
		rv, err := scanReview(func(dest ...any) error {
			return rows.Scan(append(dest, &row.ProofPayload, &row.SubmittedAt)...)
		})
		if err != nil {
			return nil, err
		}
		row.Review = rv
		res = append(res, row)
	}
	return res, rows.Err()
}

// ListOverdueReviews returns pending reviews whose SLA deadline has passed
// and which have not been escalated yet.
func (r Repo) ListOverdueReviews(ctx context.Context, now string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE decision=? AND escalated=0
		AND datetime(created_at, '+' || sla_hours || ' hours') < datetime(?)
		ORDER BY created_at ASC, id ASC`, domain.DecisionPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReviews(rows)
}

func (r Repo) MarkReviewEscalatedTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reviews SET escalated=1 WHERE id=? AND escalated=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectReviews(rows *sql.Rows) ([]domain.Review, error) {
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}
