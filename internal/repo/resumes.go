package repo

import (
	"context"
	"database/sql"

	"proofgate/internal/domain"
)

const resumeVersionColumns = `id,user_id,roadmap_id,version,template_id,is_latest,created_at`
const resumeEntryColumns = `id,version_id,section,position,task_id,attempt_id,objective,score,weight,passed_at`

func scanResumeVersion(scan func(dest ...any) error) (domain.ResumeVersion, error) {
	var v domain.ResumeVersion
	err := scan(&v.ID, &v.UserID, &v.RoadmapID, &v.Version, &v.TemplateID, &v.IsLatest, &v.CreatedAt)
	return v, err
}

func (r Repo) MaxResumeVersionTx(ctx context.Context, tx *sql.Tx, userID, roadmapID string) (int, error) {
	var v int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0) FROM resume_versions WHERE user_id=? AND roadmap_id=?`, userID, roadmapID).Scan(&v)
	return v, err
}

// ClearLatestTx demotes the previous latest version before a new compile.
func (r Repo) ClearLatestTx(ctx context.Context, tx *sql.Tx, userID, roadmapID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE resume_versions SET is_latest=0 WHERE user_id=? AND roadmap_id=? AND is_latest=1`, userID, roadmapID)
	return err
}

func (r Repo) InsertResumeVersionTx(ctx context.Context, tx *sql.Tx, v domain.ResumeVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resume_versions(`+resumeVersionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.UserID, v.RoadmapID, v.Version, v.TemplateID, v.IsLatest, v.CreatedAt)
	return err
}

func (r Repo) InsertResumeEntryTx(ctx context.Context, tx *sql.Tx, e domain.ResumeEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resume_entries(`+resumeEntryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.VersionID, e.Section, e.Position, e.TaskID, e.AttemptID, e.Objective, e.Score, e.Weight, e.PassedAt)
	return err
}

func (r Repo) GetResumeVersion(ctx context.Context, id string) (domain.ResumeVersion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+resumeVersionColumns+` FROM resume_versions WHERE id=?`, id)
	v, err := scanResumeVersion(row.Scan)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) LatestResumeVersion(ctx context.Context, userID, roadmapID string) (domain.ResumeVersion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+resumeVersionColumns+` FROM resume_versions
		WHERE user_id=? AND roadmap_id=? AND is_latest=1 ORDER BY version DESC LIMIT 1`, userID, roadmapID)
	v, err := scanResumeVersion(row.Scan)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) ListResumeVersions(ctx context.Context, userID, roadmapID string) ([]domain.ResumeVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resumeVersionColumns+` FROM resume_versions
		WHERE user_id=? AND roadmap_id=? ORDER BY version DESC`, userID, roadmapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResumeVersion
	for rows.Next() {
		v, err := scanResumeVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) ListResumeEntries(ctx context.Context, versionID string) ([]domain.ResumeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resumeEntryColumns+` FROM resume_entries
		WHERE version_id=? ORDER BY section ASC, position ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResumeEntry
	for rows.Next() {
		var e domain.ResumeEntry
		if err := rows.Scan(&e.ID, &e.VersionID, &e.Section, &e.Position, &e.TaskID, &e.AttemptID,
			&e.Objective, &e.Score, &e.Weight, &e.PassedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
