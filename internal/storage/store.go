package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"igma/internal/config"
	"igma/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDiagnosis(ctx context.Context, d model.Diagnosis) error
	// PreviousDiagnosis returns the latest stored diagnosis of subject with a
	// sequence lower than before.
	PreviousDiagnosis(ctx context.Context, subject string, before int) (model.Diagnosis, bool, error)
	// Diagnosis returns the stored diagnosis of one cycle.
	Diagnosis(ctx context.Context, subject string, sequence int) (model.Diagnosis, bool, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) save(ctx context.Context, query string, d model.Diagnosis) error {
	if b.db == nil {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode diagnosis: %w", err)
	}
	_, err = b.db.ExecContext(ctx, query,
		d.ID,
		d.Cycle.Subject,
		d.Cycle.Sequence,
		d.Cycle.At.UTC(),
		pillarValue(d.Pillars.RA),
		pillarValue(d.Pillars.OE),
		pillarValue(d.Pillars.AO),
		string(d.Outcome.WorstSeverity),
		encodeJSON(d.Outcome.Alerts),
		string(payload),
		d.ComputedAt.UTC(),
	)
	return err
}

func (b *baseStore) queryOne(ctx context.Context, query string, subject string, sequence int) (model.Diagnosis, bool, error) {
	if b.db == nil {
		return model.Diagnosis{}, false, nil
	}
	var payload string
	err := b.db.QueryRowContext(ctx, query, subject, sequence).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Diagnosis{}, false, nil
	}
	if err != nil {
		return model.Diagnosis{}, false, err
	}
	var d model.Diagnosis
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return model.Diagnosis{}, false, fmt.Errorf("decode diagnosis: %w", err)
	}
	return d, true, nil
}

func pillarValue(ps model.PillarScore) sql.NullFloat64 {
	return sql.NullFloat64{Float64: ps.Score, Valid: ps.Defined}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
