package pillar

import (
	"fmt"
	"math"
	"sort"

	"igma/internal/model"
)

const scoreDecimals = 1e4

// Aggregate combines the indicator scores of one pillar into its weighted
// mean. A pillar with no participating indicator comes back with
// Defined=false; that is "insufficient data", not a zero score.
// weights overrides the per-score weight for the listed indicator codes.
func Aggregate(pillar model.Pillar, scores []model.IndicatorScore, weights map[string]float64) (model.PillarScore, error) {
	out := model.PillarScore{Pillar: pillar}
	if len(scores) == 0 {
		return out, nil
	}
	ordered := append([]model.IndicatorScore(nil), scores...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].IndicatorCode < ordered[j].IndicatorCode
	})

	var sum, sumWeights float64
	for _, s := range ordered {
		if s.Pillar != pillar {
			panic(fmt.Sprintf("pillar: indicator %s belongs to %s, not %s", s.IndicatorCode, s.Pillar, pillar))
		}
		if s.Score < 0 || s.Score > 1 || math.IsNaN(s.Score) {
			panic(fmt.Sprintf("pillar: indicator %s score %v outside [0,1]", s.IndicatorCode, s.Score))
		}
		w := s.Weight
		if override, ok := weights[s.IndicatorCode]; ok {
			w = override
		}
		if w < 0 || math.IsNaN(w) {
			return model.PillarScore{}, &model.ConfigurationError{IndicatorCode: s.IndicatorCode, Reason: fmt.Sprintf("negative weight %v", w)}
		}
		sum += s.Score * w
		sumWeights += w
	}
	if sumWeights == 0 {
		return model.PillarScore{}, &model.ConfigurationError{Reason: fmt.Sprintf("pillar %s: all indicator weights are zero", pillar)}
	}
	mean := sum / sumWeights
	// Severity follows the unrounded mean.
	out.Severity = model.SeverityOf(mean)
	out.Score = math.Round(mean*scoreDecimals) / scoreDecimals
	out.Defined = true
	out.Indicators = len(ordered)
	return out, nil
}

// AggregateAll groups scores by pillar and aggregates each one.
func AggregateAll(scores []model.IndicatorScore, weights map[string]float64) (model.PillarScores, error) {
	grouped := make(map[model.Pillar][]model.IndicatorScore, len(model.Pillars))
	for _, s := range scores {
		if !s.Pillar.Valid() {
			return model.PillarScores{}, &model.ConfigurationError{IndicatorCode: s.IndicatorCode, Reason: fmt.Sprintf("unknown pillar %q", s.Pillar)}
		}
		grouped[s.Pillar] = append(grouped[s.Pillar], s)
	}
	var out model.PillarScores
	for _, p := range model.Pillars {
		ps, err := Aggregate(p, grouped[p], weights)
		if err != nil {
			return model.PillarScores{}, err
		}
		out.Set(ps)
	}
	return out, nil
}
