package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igma/internal/alerts"
	"igma/internal/config"
	"igma/internal/metrics"
	"igma/internal/model"
	"igma/internal/storage"
)

func f(v float64) *float64 { return &v }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scoring.BatchWorkers = 2
	return cfg
}

func newEngineForTest(cfg *config.Config) *Engine {
	return NewEngine(cfg, nil, metrics.NewStore(100), alerts.NewStore(100), nil, metrics.NewCollectors())
}

// pct builds a 0..100 high-is-better indicator for the pillar.
func pct(code string, p model.Pillar, value *float64) model.Measurement {
	return model.Measurement{
		Indicator: model.Indicator{
			Code:          code,
			Pillar:        p,
			Direction:     model.HighIsBetter,
			Normalization: model.MethodMinMax,
			MinRef:        f(0),
			MaxRef:        f(100),
		},
		Value: model.IndicatorValue{IndicatorCode: code, Value: value, Confidence: 4},
	}
}

func cycleInput(subject string, seq int, ra, oe, ao float64) model.CycleInput {
	return model.CycleInput{
		Cycle: model.Cycle{Subject: subject, Sequence: seq, At: time.Date(2020+seq, 5, 1, 0, 0, 0, 0, time.UTC)},
		Measurements: []model.Measurement{
			pct("RA-1", model.PillarRA, f(ra*100)),
			pct("OE-1", model.PillarOE, f(oe*100)),
			pct("AO-1", model.PillarAO, f(ao*100)),
		},
	}
}

func TestDiagnoseFirstCycle(t *testing.T) {
	eng := newEngineForTest(testConfig())

	d, err := eng.Diagnose(context.Background(), cycleInput("dest-1", 1, 0.2, 0.8, 0.8))

	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, model.SeverityCritical, d.Pillars.RA.Severity)
	assert.True(t, d.Outcome.HasAlert(model.AlertRABlocksOE))
	assert.True(t, d.Outcome.Blocks.StructuralExpansionBlocked)
	assert.Equal(t, 6, d.Outcome.ReviewIntervalMonths)
	assert.Equal(t, time.Date(2021, 11, 1, 0, 0, 0, 0, time.UTC), d.Outcome.NextReviewAt)
	assert.Empty(t, d.Evolution, "no comparison on a first cycle")
	assert.Nil(t, d.PreviousCycle)
	assert.Len(t, eng.alerts.Query(alerts.Filter{Subject: "dest-1"}), 1)
}

func TestDiagnoseUsesPreviousSnapshot(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()

	_, err := eng.Diagnose(ctx, cycleInput("dest-1", 1, 0.60, 0.50, 0.8))
	require.NoError(t, err)
	d, err := eng.Diagnose(ctx, cycleInput("dest-1", 2, 0.45, 0.65, 0.8))
	require.NoError(t, err)

	require.NotNil(t, d.PreviousCycle)
	assert.Equal(t, 1, d.PreviousCycle.Sequence)
	assert.True(t, d.Outcome.HasAlert(model.AlertNegativeExternality))
	require.Len(t, d.Evolution, 3)
	assert.Equal(t, model.StateRegression, d.Evolution[0].State)
	assert.Equal(t, model.StateEvolution, d.Evolution[1].State)
	assert.Equal(t, model.StateStagnation, d.Evolution[2].State)
}

func TestDiagnoseInlinePrevious(t *testing.T) {
	eng := newEngineForTest(testConfig())
	prev := cycleInput("dest-1", 1, 0.60, 0.50, 0.8)
	in := cycleInput("dest-1", 2, 0.45, 0.50, 0.8)
	in.Previous = &prev

	d, err := eng.Diagnose(context.Background(), in)

	require.NoError(t, err)
	assert.True(t, d.Outcome.ExternalityEvaluated)
	assert.False(t, d.Outcome.HasAlert(model.AlertNegativeExternality))
}

func TestDiagnoseCycleGapSuppressesComparison(t *testing.T) {
	cfg := testConfig()
	cfg.Evolution.MaxCycleGap = 180 * 24 * time.Hour
	eng := newEngineForTest(cfg)
	ctx := context.Background()

	_, err := eng.Diagnose(ctx, cycleInput("dest-1", 1, 0.60, 0.50, 0.8))
	require.NoError(t, err)
	d, err := eng.Diagnose(ctx, cycleInput("dest-1", 2, 0.45, 0.65, 0.8))
	require.NoError(t, err)

	assert.Nil(t, d.PreviousCycle)
	assert.Empty(t, d.Evolution)
	assert.False(t, d.Outcome.ExternalityEvaluated)
}

func TestDiagnoseInsufficientData(t *testing.T) {
	eng := newEngineForTest(testConfig())
	in := cycleInput("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements[2].Value.Value = nil

	_, err := eng.Diagnose(context.Background(), in)

	var insuf *model.InsufficientDataError
	require.True(t, errors.As(err, &insuf))
	assert.Equal(t, model.PillarAO, insuf.Pillar)
	_, _, ok := eng.snapshots.Get("dest-1")
	assert.False(t, ok, "failed diagnostics are not stored")
}

func TestDiagnoseConfigurationError(t *testing.T) {
	eng := newEngineForTest(testConfig())
	in := cycleInput("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements[0].Indicator.MaxRef = nil

	_, err := eng.Diagnose(context.Background(), in)

	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "RA-1", cfgErr.IndicatorCode)
}

func TestDiagnoseRejectsInvalidInput(t *testing.T) {
	eng := newEngineForTest(testConfig())
	in := cycleInput("", 1, 0.5, 0.5, 0.5)

	_, err := eng.Diagnose(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)

	in = cycleInput("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements[0].Value.Confidence = 9
	_, err = eng.Diagnose(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDiagnoseMinConfidence(t *testing.T) {
	cfg := testConfig()
	cfg.Scoring.MinConfidence = 3
	eng := newEngineForTest(cfg)
	in := cycleInput("dest-1", 1, 0.9, 0.9, 0.9)
	low := pct("RA-2", model.PillarRA, f(0))
	low.Value.Confidence = 2
	in.Measurements = append(in.Measurements, low)

	d, err := eng.Diagnose(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, 1, d.Pillars.RA.Indicators)
	assert.Equal(t, 0.9, d.Pillars.RA.Score)
}

func TestDiagnoseSnapshotIsFrozen(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()

	first, err := eng.Diagnose(ctx, cycleInput("dest-1", 1, 0.5, 0.5, 0.5))
	require.NoError(t, err)
	again, err := eng.Diagnose(ctx, cycleInput("dest-1", 1, 0.9, 0.9, 0.9))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "a diagnosed cycle is not recomputed silently")

	in := cycleInput("dest-1", 1, 0.9, 0.9, 0.9)
	in.Recompute = true
	recomputed, err := eng.Diagnose(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, recomputed.ID)
	assert.Equal(t, model.SeverityGood, recomputed.Pillars.RA.Severity)
}

func TestScoreRejectsDuplicateIndicators(t *testing.T) {
	in := cycleInput("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements = append(in.Measurements, in.Measurements[0])

	_, _, err := Score(in, config.ScoringConfig{})

	var cfgErr *model.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDiagnoseBatch(t *testing.T) {
	eng := newEngineForTest(testConfig())
	inputs := []model.CycleInput{
		cycleInput("dest-1", 2, 0.45, 0.65, 0.8),
		cycleInput("dest-2", 1, 0.9, 0.9, 0.9),
		cycleInput("dest-1", 1, 0.60, 0.50, 0.8),
		cycleInput("dest-3", 1, 0.9, 0.9, 0.9),
	}
	inputs[3].Measurements = inputs[3].Measurements[:2]

	results, err := eng.DiagnoseBatch(context.Background(), inputs)

	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.True(t, results[0].Diagnosis.Outcome.HasAlert(model.AlertNegativeExternality), "cycle 2 sees cycle 1 of the same batch")
	assert.Equal(t, "dest-2", results[1].Diagnosis.Cycle.Subject)
	assert.Equal(t, 1, results[2].Diagnosis.Cycle.Sequence)
	assert.Error(t, results[3].Err)
	assert.NotEmpty(t, results[3].Error)
	assert.Equal(t, "insufficient_data", results[3].Kind)
	assert.Equal(t, model.PillarAO, results[3].Pillar)
	assert.Empty(t, results[0].Kind)
}

func TestDiagnoseBatchReportsConfigurationKind(t *testing.T) {
	eng := newEngineForTest(testConfig())
	bad := cycleInput("dest-1", 1, 0.5, 0.5, 0.5)
	bad.Measurements[1].Indicator.MinRef = f(100)

	results, err := eng.DiagnoseBatch(context.Background(), []model.CycleInput{bad, {}})

	require.NoError(t, err)
	assert.Equal(t, "configuration", results[0].Kind)
	assert.Equal(t, "OE-1", results[0].IndicatorCode)
	assert.Equal(t, "validation", results[1].Kind)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "configuration", ErrorKind(&model.ConfigurationError{IndicatorCode: "RA-1"}))
	assert.Equal(t, "insufficient_data", ErrorKind(&model.InsufficientDataError{Pillar: model.PillarOE}))
	assert.Equal(t, "validation", ErrorKind(ErrInvalidInput))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}

func TestDiagnoseFrozenCycleSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "igma.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() { _ = store.Close() })

	before := NewEngine(testConfig(), nil, metrics.NewStore(100), alerts.NewStore(100), store, metrics.NewCollectors())
	first, err := before.Diagnose(ctx, cycleInput("dest-1", 1, 0.5, 0.5, 0.5))
	require.NoError(t, err)

	after := NewEngine(testConfig(), nil, metrics.NewStore(100), alerts.NewStore(100), store, metrics.NewCollectors())
	again, err := after.Diagnose(ctx, cycleInput("dest-1", 1, 0.9, 0.9, 0.9))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 0.5, again.Pillars.RA.Score)

	stored, ok, err := store.Diagnosis(ctx, "dest-1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, stored.ID, "stored snapshot is left untouched")

	in := cycleInput("dest-1", 1, 0.9, 0.9, 0.9)
	in.Recompute = true
	recomputed, err := after.Diagnose(ctx, in)
	require.NoError(t, err)
	stored, _, err = store.Diagnosis(ctx, "dest-1", 1)
	require.NoError(t, err)
	assert.Equal(t, recomputed.ID, stored.ID)
	assert.Equal(t, 0.9, stored.Pillars.RA.Score)
}
