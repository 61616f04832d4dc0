package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"igma/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:igma.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS diagnoses (
			id TEXT NOT NULL,
			subject TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			cycle_at TIMESTAMP NOT NULL,
			ra REAL,
			oe REAL,
			ao REAL,
			worst_severity TEXT NOT NULL,
			alerts_json TEXT NOT NULL,
			diagnosis_json TEXT NOT NULL,
			computed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (subject, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnoses_computed_at ON diagnoses(computed_at)`,
	})
}

func (s *sqliteStore) SaveDiagnosis(ctx context.Context, d model.Diagnosis) error {
	return s.save(ctx,
		`INSERT INTO diagnoses (id, subject, sequence, cycle_at, ra, oe, ao, worst_severity, alerts_json, diagnosis_json, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject, sequence) DO UPDATE SET
			id = excluded.id, cycle_at = excluded.cycle_at, ra = excluded.ra, oe = excluded.oe, ao = excluded.ao,
			worst_severity = excluded.worst_severity, alerts_json = excluded.alerts_json,
			diagnosis_json = excluded.diagnosis_json, computed_at = excluded.computed_at`,
		d)
}

func (s *sqliteStore) PreviousDiagnosis(ctx context.Context, subject string, before int) (model.Diagnosis, bool, error) {
	return s.queryOne(ctx,
		`SELECT diagnosis_json FROM diagnoses WHERE subject = ? AND sequence < ? ORDER BY sequence DESC LIMIT 1`,
		subject, before)
}

func (s *sqliteStore) Diagnosis(ctx context.Context, subject string, sequence int) (model.Diagnosis, bool, error) {
	return s.queryOne(ctx,
		`SELECT diagnosis_json FROM diagnoses WHERE subject = ? AND sequence = ?`,
		subject, sequence)
}
