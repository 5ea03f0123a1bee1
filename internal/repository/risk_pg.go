package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/skinvault/escrowd/internal/model"
)

type PostgresRiskRepo struct {
	db *sqlx.DB
}

func NewPostgresRiskRepo(db *sqlx.DB) *PostgresRiskRepo {
	repo := &PostgresRiskRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresRiskRepo) InsertEvent(ctx context.Context, rec model.RiskRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_events (id, subject_id, event, weight, resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.SubjectID, rec.Event, rec.Weight, rec.Resolved, rec.CreatedAt)
	return err
}

// UnresolvedSince returns the subject's unresolved events inside the
// rolling scoring window.
func (r *PostgresRiskRepo) UnresolvedSince(ctx context.Context, subjectID string, since time.Time) ([]model.RiskRecord, error) {
	var recs []model.RiskRecord
	err := r.db.SelectContext(ctx, &recs, `
		SELECT * FROM risk_events
		WHERE subject_id = $1 AND resolved = FALSE AND created_at >= $2
		ORDER BY created_at
	`, subjectID, since)
	return recs, err
}

func (r *PostgresRiskRepo) SaveFingerprint(ctx context.Context, subjectID, fingerprint string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credential_fingerprints (subject_id, fingerprint, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id)
		DO UPDATE SET fingerprint = $2, updated_at = $3
	`, subjectID, fingerprint, time.Now().UTC())
	return err
}

func (r *PostgresRiskRepo) GetFingerprint(ctx context.Context, subjectID string) (string, error) {
	var fp string
	err := r.db.GetContext(ctx, &fp,
		`SELECT fingerprint FROM credential_fingerprints WHERE subject_id = $1`, subjectID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return fp, err
}

func (r *PostgresRiskRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM risk_events WHERE created_at < $1`, cutoff)
	return err
}

func (r *PostgresRiskRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_events (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			event TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_risk_subject ON risk_events(subject_id, resolved, created_at)`)

	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credential_fingerprints (
			subject_id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}
