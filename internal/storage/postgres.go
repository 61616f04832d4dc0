package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"igma/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/igma?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS diagnoses (
			id UUID NOT NULL,
			subject TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			cycle_at TIMESTAMPTZ NOT NULL,
			ra DOUBLE PRECISION,
			oe DOUBLE PRECISION,
			ao DOUBLE PRECISION,
			worst_severity TEXT NOT NULL,
			alerts_json JSONB NOT NULL,
			diagnosis_json JSONB NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (subject, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnoses_computed_at ON diagnoses(computed_at)`,
	})
}

func (s *postgresStore) SaveDiagnosis(ctx context.Context, d model.Diagnosis) error {
	return s.save(ctx,
		`INSERT INTO diagnoses (id, subject, sequence, cycle_at, ra, oe, ao, worst_severity, alerts_json, diagnosis_json, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (subject, sequence) DO UPDATE SET
			id = EXCLUDED.id, cycle_at = EXCLUDED.cycle_at, ra = EXCLUDED.ra, oe = EXCLUDED.oe, ao = EXCLUDED.ao,
			worst_severity = EXCLUDED.worst_severity, alerts_json = EXCLUDED.alerts_json,
			diagnosis_json = EXCLUDED.diagnosis_json, computed_at = EXCLUDED.computed_at`,
		d)
}

func (s *postgresStore) PreviousDiagnosis(ctx context.Context, subject string, before int) (model.Diagnosis, bool, error) {
	return s.queryOne(ctx,
		`SELECT diagnosis_json::text FROM diagnoses WHERE subject = $1 AND sequence < $2 ORDER BY sequence DESC LIMIT 1`,
		subject, before)
}

func (s *postgresStore) Diagnosis(ctx context.Context, subject string, sequence int) (model.Diagnosis, bool, error) {
	return s.queryOne(ctx,
		`SELECT diagnosis_json::text FROM diagnoses WHERE subject = $1 AND sequence = $2`,
		subject, sequence)
}
