package normalize

import (
	"fmt"
	"math"
	"strconv"

	"igma/internal/model"
)

// Normalize converts one raw measurement into a [0,1] score using the
// indicator's declared method. ok is false when the value is unmeasured; such
// scores must be left out of aggregation rather than counted as zero.
func Normalize(ind model.Indicator, raw *float64, minOverride, maxOverride *float64) (model.IndicatorScore, bool, error) {
	if raw == nil || math.IsNaN(*raw) || math.IsInf(*raw, 0) {
		return model.IndicatorScore{}, false, nil
	}
	value := *raw
	out := model.IndicatorScore{
		IndicatorCode: ind.Code,
		Pillar:        ind.Pillar,
		Method:        ind.Normalization,
		Weight:        1,
	}
	if ind.Weight != nil {
		out.Weight = *ind.Weight
	}

	switch ind.Normalization {
	case model.MethodMinMax:
		lo, hi, err := resolveRange(ind, minOverride, maxOverride)
		if err != nil {
			return model.IndicatorScore{}, false, err
		}
		var score float64
		if ind.Direction == model.LowIsBetter {
			score = (hi - value) / (hi - lo)
		} else {
			score = (value - lo) / (hi - lo)
		}
		out.Score = clamp01(score)
		out.MinRef = floatPtr(lo)
		out.MaxRef = floatPtr(hi)
		out.Explanation = fmt.Sprintf("min-max %s: value %s within [%s, %s] -> %s",
			directionLabel(ind.Direction), fmtNum(value), fmtNum(lo), fmtNum(hi), fmtNum(out.Score))
	case model.MethodBinary:
		met := value != 0
		threshold := "non-zero"
		if ind.BinaryThreshold != nil {
			met = value >= *ind.BinaryThreshold
			threshold = ">= " + fmtNum(*ind.BinaryThreshold)
		}
		if ind.Direction == model.LowIsBetter {
			met = !met
		}
		if met {
			out.Score = 1
		}
		out.Explanation = fmt.Sprintf("binary %s: value %s against threshold %s -> %s",
			directionLabel(ind.Direction), fmtNum(value), threshold, fmtNum(out.Score))
	case model.MethodBands:
		band, err := matchBand(ind, value)
		if err != nil {
			return model.IndicatorScore{}, false, err
		}
		out.Score = clamp01(band.Score)
		out.Band = bandLabel(band)
		out.Explanation = fmt.Sprintf("bands: value %s matched %s -> %s", fmtNum(value), out.Band, fmtNum(out.Score))
	default:
		return model.IndicatorScore{}, false, &model.ConfigurationError{
			IndicatorCode: ind.Code,
			Reason:        fmt.Sprintf("unknown normalization method %q", ind.Normalization),
		}
	}
	return out, true, nil
}

// NormalizeValue applies the per-cycle overrides carried by the value.
func NormalizeValue(m model.Measurement) (model.IndicatorScore, bool, error) {
	score, ok, err := Normalize(m.Indicator, m.Value.Value, m.Value.MinRef, m.Value.MaxRef)
	if err != nil || !ok {
		return score, ok, err
	}
	if m.Value.Weight != nil {
		score.Weight = *m.Value.Weight
	}
	return score, true, nil
}

func resolveRange(ind model.Indicator, minOverride, maxOverride *float64) (float64, float64, error) {
	lo := ind.MinRef
	if minOverride != nil {
		lo = minOverride
	}
	hi := ind.MaxRef
	if maxOverride != nil {
		hi = maxOverride
	}
	if lo == nil || hi == nil {
		return 0, 0, &model.ConfigurationError{IndicatorCode: ind.Code, Reason: "min-max normalization requires min_ref and max_ref"}
	}
	if *hi == *lo {
		return 0, 0, &model.ConfigurationError{IndicatorCode: ind.Code, Reason: fmt.Sprintf("degenerate reference range [%s, %s]", fmtNum(*lo), fmtNum(*hi))}
	}
	return *lo, *hi, nil
}

func matchBand(ind model.Indicator, value float64) (model.Band, error) {
	if len(ind.Bands) == 0 {
		return model.Band{}, &model.ConfigurationError{IndicatorCode: ind.Code, Reason: "bands normalization requires a band table"}
	}
	var fallback *model.Band
	for i := range ind.Bands {
		b := ind.Bands[i]
		if b.Fallback {
			if fallback == nil {
				fallback = &ind.Bands[i]
			}
			continue
		}
		if value >= b.Low && value < b.High {
			return b, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return model.Band{}, &model.ConfigurationError{
		IndicatorCode: ind.Code,
		Reason:        fmt.Sprintf("value %s matches no band and no fallback band is defined", fmtNum(value)),
	}
}

func bandLabel(b model.Band) string {
	if b.Label != "" {
		return b.Label
	}
	if b.Fallback {
		return "fallback"
	}
	return "[" + fmtNum(b.Low) + ", " + fmtNum(b.High) + ")"
}

func directionLabel(d model.Direction) string {
	if d == model.LowIsBetter {
		return "low-is-better"
	}
	return "high-is-better"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floatPtr(v float64) *float64 {
	return &v
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
