package repo

import (
	"context"
	"database/sql"

	"proofgate/internal/domain"
)

const remediationColumns = `id,task_id,user_id,action_type,status,reason,proposed_json,applied_json,applied_diff,comment,expires_at,created_at,resolved_at`

func scanRemediation(scan func(dest ...any) error) (domain.Remediation, error) {
	var rm domain.Remediation
	var applied, diff, comment, expires, resolved sql.NullString
	err := scan(&rm.ID, &rm.TaskID, &rm.UserID, &rm.ActionType, &rm.Status, &rm.Reason, &rm.ProposedJSON,
		&applied, &diff, &comment, &expires, &rm.CreatedAt, &resolved)
	if err != nil {
		return rm, err
	}
	rm.AppliedJSON = strPtr(applied)
	rm.AppliedDiff = strPtr(diff)
	rm.Comment = strPtr(comment)
	rm.ExpiresAt = strPtr(expires)
	rm.ResolvedAt = strPtr(resolved)
	return rm, nil
}

func (r Repo) InsertRemediationTx(ctx context.Context, tx *sql.Tx, rm domain.Remediation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO remediations(`+remediationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rm.ID, rm.TaskID, rm.UserID, rm.ActionType, rm.Status, rm.Reason, rm.ProposedJSON,
		nullableStringPtr(rm.AppliedJSON), nullableStringPtr(rm.AppliedDiff), nullableStringPtr(rm.Comment),
		nullableStringPtr(rm.ExpiresAt), rm.CreatedAt, nullableStringPtr(rm.ResolvedAt))
	return err
}

func (r Repo) GetRemediation(ctx context.Context, id string) (domain.Remediation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+remediationColumns+` FROM remediations WHERE id=?`, id)
	rm, err := scanRemediation(row.Scan)
	if err == sql.ErrNoRows {
		return rm, ErrNotFound
	}
	return rm, err
}

func (r Repo) GetRemediationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Remediation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+remediationColumns+` FROM remediations WHERE id=?`, id)
	rm, err := scanRemediation(row.Scan)
	if err == sql.ErrNoRows {
		return rm, ErrNotFound
	}
	return rm, err
}

// ResolveRemediationTx closes a suggested proposal exactly once. Resolving
// an already-resolved proposal returns ErrClosed.
func (r Repo) ResolveRemediationTx(ctx context.Context, tx *sql.Tx, id, status string, appliedJSON, appliedDiff, comment *string, resolvedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE remediations SET status=?, applied_json=?, applied_diff=?, comment=?, resolved_at=? WHERE id=? AND status=?`,
		status, nullableStringPtr(appliedJSON), nullableStringPtr(appliedDiff), nullableStringPtr(comment),
		resolvedAt, id, domain.RemediationSuggested)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM remediations WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrClosed
}

func (r Repo) ListRemediations(ctx context.Context, userID, status string) ([]domain.Remediation, error) {
	query := `SELECT ` + remediationColumns + ` FROM remediations WHERE user_id=?`
	args := []any{userID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Remediation
	for rows.Next() {
		rm, err := scanRemediation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rm)
	}
	return res, rows.Err()
}
