package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"igma/internal/alerts"
	"igma/internal/config"
	"igma/internal/evolution"
	"igma/internal/metrics"
	"igma/internal/model"
	"igma/internal/normalize"
	"igma/internal/pillar"
	"igma/internal/rules"
	"igma/internal/storage"
)

// Engine runs the diagnostic pipeline for submitted cycles and records each
// result in the snapshot store, the alert ring and optional storage.
type Engine struct {
	logger     *slog.Logger
	snapshots  *metrics.Store
	alerts     *alerts.Store
	store      storage.Store
	collectors *metrics.Collectors
	rules      *rules.Engine
	validate   *validator.Validate
	cfg        atomic.Value
	now        func() time.Time
}

var ErrInvalidInput = errors.New("invalid cycle input")

// BatchResult is the outcome of one cycle of a batch. On failure Kind,
// IndicatorCode and Pillar describe the error the same way the single-cycle
// API response does.
type BatchResult struct {
	Diagnosis     model.Diagnosis `json:"diagnosis"`
	Err           error           `json:"-"`
	Error         string          `json:"error,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	IndicatorCode string          `json:"indicator_code,omitempty"`
	Pillar        model.Pillar    `json:"pillar,omitempty"`
}

func newBatchResult(d model.Diagnosis, err error) BatchResult {
	r := BatchResult{Diagnosis: d, Err: err}
	if err == nil {
		return r
	}
	r.Error = err.Error()
	r.Kind = ErrorKind(err)
	var cfgErr *model.ConfigurationError
	var insuf *model.InsufficientDataError
	switch {
	case errors.As(err, &cfgErr):
		r.IndicatorCode = cfgErr.IndicatorCode
	case errors.As(err, &insuf):
		r.Pillar = insuf.Pillar
	}
	return r
}

// ErrorKind names the class of a Diagnose error: configuration,
// insufficient_data, validation or internal.
func ErrorKind(err error) string {
	var cfgErr *model.ConfigurationError
	var insuf *model.InsufficientDataError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &insuf):
		return "insufficient_data"
	case errors.Is(err, ErrInvalidInput):
		return "validation"
	default:
		return "internal"
	}
}

func NewEngine(cfg *config.Config, logger *slog.Logger, snapshots *metrics.Store, alertsStore *alerts.Store, store storage.Store, collectors *metrics.Collectors) *Engine {
	e := &Engine{
		logger:     logger,
		snapshots:  snapshots,
		alerts:     alertsStore,
		store:      store,
		collectors: collectors,
		rules:      rules.NewEngine(cfg.Rules),
		validate:   validator.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.rules.UpdateConfig(cfg.Rules)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Start(ctx context.Context, in <-chan model.CycleInput) {
	go func() {
		for {
			select {
			case input, ok := <-in:
				if !ok {
					return
				}
				if _, err := e.Diagnose(ctx, input); err != nil && e.logger != nil {
					e.logger.Warn("diagnosis failed",
						"subject", input.Cycle.Subject,
						"sequence", input.Cycle.Sequence,
						"err", err,
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Diagnose computes the full diagnostic of one cycle. A cycle that was
// already diagnosed is returned as stored unless in.Recompute is set.
func (e *Engine) Diagnose(ctx context.Context, in model.CycleInput) (model.Diagnosis, error) {
	cfg := e.config()
	if err := e.validate.Struct(in); err != nil {
		e.collectors.ObserveResult("invalid")
		return model.Diagnosis{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	subject := in.Cycle.Subject
	if !in.Recompute {
		d, ok, err := e.lookupCycle(ctx, in.Cycle)
		if err != nil {
			e.observeFailure(err)
			return model.Diagnosis{}, err
		}
		if ok {
			return d, nil
		}
	}

	scores, pillars, err := Score(in, cfg.Scoring)
	if err != nil {
		e.observeFailure(err)
		return model.Diagnosis{}, err
	}

	prevCycle, prevPillars, err := e.resolvePrevious(ctx, in, cfg)
	if err != nil {
		e.observeFailure(err)
		return model.Diagnosis{}, err
	}

	outcome, err := e.rules.Evaluate(rules.Input{
		Subject:     subject,
		Current:     pillars,
		Previous:    prevPillars,
		EvaluatedAt: in.Cycle.At,
		Indicators:  indicators(in.Measurements),
	})
	if err != nil {
		e.observeFailure(err)
		return model.Diagnosis{}, err
	}

	d := model.Diagnosis{
		ID:              uuid.NewString(),
		Cycle:           in.Cycle,
		IndicatorScores: scores,
		Pillars:         pillars,
		Outcome:         outcome,
		PreviousCycle:   prevCycle,
		ComputedAt:      e.now(),
	}
	if prevPillars != nil {
		d.Evolution = evolution.CompareCycles(subject, pillars, prevPillars)
	}
	e.record(ctx, d)
	return d, nil
}

// DiagnoseBatch diagnoses many submissions concurrently. Cycles of the same
// subject run in sequence order on one worker so each can see its
// predecessor. Results follow input order.
func (e *Engine) DiagnoseBatch(ctx context.Context, inputs []model.CycleInput) ([]BatchResult, error) {
	results := make([]BatchResult, len(inputs))
	groups := make(map[string][]int)
	var subjects []string
	for i, in := range inputs {
		s := in.Cycle.Subject
		if _, ok := groups[s]; !ok {
			subjects = append(subjects, s)
		}
		groups[s] = append(groups[s], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := e.config().Scoring.BatchWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, s := range subjects {
		idx := groups[s]
		sort.SliceStable(idx, func(a, b int) bool {
			return inputs[idx[a]].Cycle.Sequence < inputs[idx[b]].Cycle.Sequence
		})
		g.Go(func() error {
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				d, err := e.Diagnose(gctx, inputs[i])
				results[i] = newBatchResult(d, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Score normalizes every measurement of a cycle and aggregates the pillars.
// Values declared below minConfidence are treated as unmeasured.
func Score(in model.CycleInput, cfg config.ScoringConfig) ([]model.IndicatorScore, model.PillarScores, error) {
	seen := make(map[string]bool, len(in.Measurements))
	scores := make([]model.IndicatorScore, 0, len(in.Measurements))
	for _, m := range in.Measurements {
		code := m.Indicator.Code
		if seen[code] {
			return nil, model.PillarScores{}, &model.ConfigurationError{IndicatorCode: code, Reason: "measured more than once in the cycle"}
		}
		seen[code] = true
		if m.Value.IndicatorCode != "" && m.Value.IndicatorCode != code {
			return nil, model.PillarScores{}, &model.ConfigurationError{IndicatorCode: code, Reason: fmt.Sprintf("value references indicator %s", m.Value.IndicatorCode)}
		}
		if cfg.MinConfidence > 0 && m.Value.Confidence > 0 && m.Value.Confidence < cfg.MinConfidence {
			continue
		}
		score, ok, err := normalize.NormalizeValue(m)
		if err != nil {
			return nil, model.PillarScores{}, err
		}
		if ok {
			scores = append(scores, score)
		}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].IndicatorCode < scores[j].IndicatorCode
	})
	pillars, err := pillar.AggregateAll(scores, in.Weights)
	if err != nil {
		return nil, model.PillarScores{}, err
	}
	return scores, pillars, nil
}

func (e *Engine) resolvePrevious(ctx context.Context, in model.CycleInput, cfg *config.Config) (*model.Cycle, *model.PillarScores, error) {
	var prevCycle model.Cycle
	var prevPillars model.PillarScores
	switch {
	case in.Previous != nil:
		_, ps, err := Score(*in.Previous, cfg.Scoring)
		if err != nil {
			return nil, nil, fmt.Errorf("previous cycle: %w", err)
		}
		prevCycle, prevPillars = in.Previous.Cycle, ps
	default:
		d, ok, err := e.lookupPrevious(ctx, in.Cycle)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, nil
		}
		prevCycle, prevPillars = d.Cycle, d.Pillars
	}
	if !evolution.Comparable(in.Cycle, prevCycle, cfg.Evolution.MaxCycleGap) {
		if e.logger != nil {
			e.logger.Info("previous cycle not comparable",
				"subject", in.Cycle.Subject,
				"sequence", in.Cycle.Sequence,
				"previous_sequence", prevCycle.Sequence,
			)
		}
		return nil, nil, nil
	}
	return &prevCycle, &prevPillars, nil
}

// lookupCycle finds an earlier diagnosis of the same cycle in memory or storage.
func (e *Engine) lookupCycle(ctx context.Context, cycle model.Cycle) (model.Diagnosis, bool, error) {
	if e.snapshots != nil {
		if d, ok := e.snapshots.Cycle(cycle.Subject, cycle.Sequence); ok {
			return d, true, nil
		}
	}
	if e.store == nil {
		return model.Diagnosis{}, false, nil
	}
	d, ok, err := e.store.Diagnosis(ctx, cycle.Subject, cycle.Sequence)
	if err != nil {
		return model.Diagnosis{}, false, fmt.Errorf("load stored diagnosis: %w", err)
	}
	return d, ok, nil
}

func (e *Engine) lookupPrevious(ctx context.Context, cycle model.Cycle) (model.Diagnosis, bool, error) {
	if e.snapshots != nil {
		if d, ok := e.snapshots.Previous(cycle.Subject, cycle.Sequence); ok {
			return d, true, nil
		}
	}
	if e.store == nil {
		return model.Diagnosis{}, false, nil
	}
	d, ok, err := e.store.PreviousDiagnosis(ctx, cycle.Subject, cycle.Sequence)
	if err != nil {
		return model.Diagnosis{}, false, fmt.Errorf("load previous diagnosis: %w", err)
	}
	return d, ok, nil
}

func (e *Engine) record(ctx context.Context, d model.Diagnosis) {
	if e.snapshots != nil {
		e.snapshots.Update(d)
	}
	e.collectors.ObserveDiagnosis(d)
	for _, code := range d.Outcome.Alerts {
		alert := model.Alert{
			Timestamp: d.ComputedAt,
			Subject:   d.Cycle.Subject,
			Sequence:  d.Cycle.Sequence,
			Code:      code,
			Severity:  d.Outcome.WorstSeverity,
			Pillars:   d.Pillars,
			Context:   map[string]string{"diagnosis_id": d.ID},
		}
		if e.alerts != nil {
			e.alerts.Add(alert)
		}
		if e.logger != nil {
			e.logger.Warn("rule alert",
				"subject", alert.Subject,
				"sequence", alert.Sequence,
				"code", alert.Code,
				"ra", d.Pillars.RA.Score,
				"oe", d.Pillars.OE.Score,
				"ao", d.Pillars.AO.Score,
			)
		}
	}
	if e.logger != nil {
		e.logger.Info("diagnosis computed",
			"subject", d.Cycle.Subject,
			"sequence", d.Cycle.Sequence,
			"worst_severity", d.Outcome.WorstSeverity,
			"next_review_at", d.Outcome.NextReviewAt,
		)
	}
	if e.store != nil {
		if err := e.store.SaveDiagnosis(ctx, d); err != nil && e.logger != nil {
			e.logger.Error("persist diagnosis failed", "subject", d.Cycle.Subject, "err", err)
		}
	}
}

func (e *Engine) observeFailure(err error) {
	var cfgErr *model.ConfigurationError
	var insuf *model.InsufficientDataError
	switch {
	case errors.As(err, &cfgErr):
		e.collectors.ObserveResult("configuration_error")
	case errors.As(err, &insuf):
		e.collectors.ObserveResult("insufficient_data")
	default:
		e.collectors.ObserveResult("error")
	}
}

func (e *Engine) Reset() {
	if e.snapshots != nil {
		e.snapshots.Clear()
	}
	if e.alerts != nil {
		e.alerts.Clear()
	}
}

func indicators(ms []model.Measurement) []model.Indicator {
	out := make([]model.Indicator, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Indicator)
	}
	return out
}
