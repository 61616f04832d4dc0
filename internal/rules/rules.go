package rules

import (
	"sort"
	"sync/atomic"
	"time"

	"igma/internal/config"
	"igma/internal/model"
)

type Input struct {
	Subject     string
	Current     model.PillarScores
	Previous    *model.PillarScores
	EvaluatedAt time.Time
	// Indicators is consulted for cross-sector dependency tagging only.
	Indicators []model.Indicator
}

// Engine evaluates the IGMA rule battery. The review cadence comes from
// config and may be swapped at runtime.
type Engine struct {
	cfg atomic.Value
}

func NewEngine(cfg config.RulesConfig) *Engine {
	e := &Engine{}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg config.RulesConfig) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() config.RulesConfig {
	if v := e.cfg.Load(); v != nil {
		return v.(config.RulesConfig)
	}
	return config.DefaultConfig().Rules
}

// Evaluate runs the six rules in their fixed order. Every current pillar
// must be defined; an incomplete diagnostic yields InsufficientDataError
// instead of an outcome.
func (e *Engine) Evaluate(in Input) (model.RuleOutcome, error) {
	for _, p := range model.Pillars {
		if !in.Current.Get(p).Defined {
			return model.RuleOutcome{}, &model.InsufficientDataError{Subject: in.Subject, Pillar: p}
		}
	}
	cfg := e.config()
	out := model.RuleOutcome{Alerts: make([]model.AlertCode, 0, 3)}
	ra, oe, ao := in.Current.RA, in.Current.OE, in.Current.AO

	// 1. environmental priority
	if ra.Severity == model.SeverityCritical {
		out.Alerts = append(out.Alerts, model.AlertRABlocksOE)
		out.Blocks.StructuralExpansionBlocked = true
	}

	// 2. review cadence
	out.WorstSeverity = worstSeverity(in.Current)
	out.ReviewIntervalMonths = reviewMonths(cfg.ReviewMonths, out.WorstSeverity)
	if !in.EvaluatedAt.IsZero() {
		out.NextReviewAt = in.EvaluatedAt.AddDate(0, out.ReviewIntervalMonths, 0)
	}

	// 3. externality
	if in.Previous != nil && in.Previous.OE.Defined && in.Previous.RA.Defined {
		out.ExternalityEvaluated = true
		if oe.Score > in.Previous.OE.Score && ra.Score < in.Previous.RA.Score {
			out.Alerts = append(out.Alerts, model.AlertNegativeExternality)
		}
	}

	// 4. central governance
	if ao.Severity == model.SeverityCritical {
		out.Alerts = append(out.Alerts, model.AlertAOBlocksSystem)
		out.Blocks.AllActionsBlocked = true
	}

	// 5. marketing gate
	if ra.Severity == model.SeverityCritical || ao.Severity == model.SeverityCritical {
		out.Blocks.MarketingBlocked = true
	}

	// 6. cross-sector dependencies
	out.CrossSector = crossSector(in.Indicators, in.Current)
	return out, nil
}

func worstSeverity(ps model.PillarScores) model.Severity {
	worst := model.SeverityGood
	for _, p := range model.Pillars {
		if s := ps.Get(p).Severity; s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}

func reviewMonths(cfg config.ReviewMonthsConfig, worst model.Severity) int {
	switch worst {
	case model.SeverityCritical:
		return cfg.Critical
	case model.SeverityModerate:
		return cfg.Moderate
	default:
		return cfg.Good
	}
}

func crossSector(indicators []model.Indicator, current model.PillarScores) []model.CrossSectorDependency {
	var out []model.CrossSectorDependency
	seen := make(map[string]bool)
	for _, ind := range indicators {
		if len(ind.ExternalSectors) == 0 || !ind.Pillar.Valid() || seen[ind.Code] {
			continue
		}
		ps := current.Get(ind.Pillar)
		if ps.Severity == model.SeverityGood {
			continue
		}
		seen[ind.Code] = true
		sectors := append([]string(nil), ind.ExternalSectors...)
		sort.Strings(sectors)
		out = append(out, model.CrossSectorDependency{
			IndicatorCode: ind.Code,
			Pillar:        ind.Pillar,
			Severity:      ps.Severity,
			Sectors:       sectors,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IndicatorCode < out[j].IndicatorCode
	})
	return out
}
