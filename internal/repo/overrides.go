package repo

import (
	"context"
	"database/sql"

	"proofgate/internal/domain"
)

const overrideColumns = `id,user_id,justification,snapshot_json,active,granted_by,granted_at,expires_at,revoked_by,revoked_at,revoke_reason`

func scanOverride(scan func(dest ...any) error) (domain.Override, error) {
	var ov domain.Override
	var expires, revokedBy, revokedAt, reason sql.NullString
	err := scan(&ov.ID, &ov.UserID, &ov.Justification, &ov.SnapshotJSON, &ov.Active,
		&ov.GrantedBy, &ov.GrantedAt, &expires, &revokedBy, &revokedAt, &reason)
	if err != nil {
		return ov, err
	}
	ov.ExpiresAt = strPtr(expires)
	ov.RevokedBy = strPtr(revokedBy)
	ov.RevokedAt = strPtr(revokedAt)
	ov.RevokeReason = strPtr(reason)
	return ov, nil
}

func (r Repo) InsertOverrideTx(ctx context.Context, tx *sql.Tx, ov domain.Override) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO overrides(`+overrideColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ov.ID, ov.UserID, ov.Justification, ov.SnapshotJSON, ov.Active, ov.GrantedBy, ov.GrantedAt,
		nullableStringPtr(ov.ExpiresAt), nullableStringPtr(ov.RevokedBy), nullableStringPtr(ov.RevokedAt),
		nullableStringPtr(ov.RevokeReason))
	return err
}

func (r Repo) GetOverride(ctx context.Context, id string) (domain.Override, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM overrides WHERE id=?`, id)
	ov, err := scanOverride(row.Scan)
	if err == sql.ErrNoRows {
		return ov, ErrNotFound
	}
	return ov, err
}

// ActiveOverride returns the most recently granted active override for the
// user, or ErrNotFound.
func (r Repo) ActiveOverride(ctx context.Context, userID string) (domain.Override, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM overrides
		WHERE user_id=? AND active=1 ORDER BY granted_at DESC, id DESC LIMIT 1`, userID)
	ov, err := scanOverride(row.Scan)
	if err == sql.ErrNoRows {
		return ov, ErrNotFound
	}
	return ov, err
}

// RevokeOverrideTx deactivates an override once; revoking an inactive
// override returns ErrClosed.
func (r Repo) RevokeOverrideTx(ctx context.Context, tx *sql.Tx, id, revokedBy, reason, revokedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE overrides SET active=0, revoked_by=?, revoked_at=?, revoke_reason=? WHERE id=? AND active=1`,
		revokedBy, revokedAt, reason, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM overrides WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrClosed
}

func (r Repo) ListOverrides(ctx context.Context, userID string) ([]domain.Override, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+overrideColumns+` FROM overrides WHERE user_id=? ORDER BY granted_at DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Override
	for rows.Next() {
		ov, err := scanOverride(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ov)
	}
	return res, rows.Err()
}
