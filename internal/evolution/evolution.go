package evolution

import (
	"math"
	"time"

	"igma/internal/model"
)

// MinDetectableChange is the smallest score movement treated as a real
// change between cycles. Smaller differences are measurement noise.
const MinDetectableChange = 0.02

const diffDecimals = 1e6

// Compare classifies the trajectory of one pillar between two cycles. With no
// usable previous score the state is StateNone, which is not stagnation.
func Compare(subject string, current model.PillarScore, previous *model.PillarScore) model.EvolutionRecord {
	rec := model.EvolutionRecord{
		Subject:      subject,
		Pillar:       current.Pillar,
		CurrentScore: current.Score,
	}
	if previous == nil || !previous.Defined {
		return rec
	}
	prev := previous.Score
	rec.PreviousScore = &prev
	if !current.Defined {
		return rec
	}
	diff := math.Round((current.Score-prev)*diffDecimals) / diffDecimals
	switch {
	case diff > MinDetectableChange:
		rec.State = model.StateEvolution
	case diff < -MinDetectableChange:
		rec.State = model.StateRegression
	default:
		rec.State = model.StateStagnation
	}
	return rec
}

// CompareCycles returns one record per pillar in canonical order.
func CompareCycles(subject string, current model.PillarScores, previous *model.PillarScores) []model.EvolutionRecord {
	out := make([]model.EvolutionRecord, 0, len(model.Pillars))
	for _, p := range model.Pillars {
		var prev *model.PillarScore
		if previous != nil {
			ps := previous.Get(p)
			prev = &ps
		}
		out = append(out, Compare(subject, current.Get(p), prev))
	}
	return out
}

// Comparable reports whether previous may be compared against current:
// same subject, strictly earlier, and no further apart than maxGap (0 means
// unlimited).
func Comparable(current, previous model.Cycle, maxGap time.Duration) bool {
	if current.Subject != previous.Subject {
		return false
	}
	if previous.Sequence >= current.Sequence || !previous.At.Before(current.At) {
		return false
	}
	if maxGap > 0 && current.At.Sub(previous.At) > maxGap {
		return false
	}
	return true
}

type Summary struct {
	Evolution     int `json:"evolution"`
	Stagnation    int `json:"stagnation"`
	Regression    int `json:"regression"`
	NotComparable int `json:"not_comparable"`
}

// Compared is the number of records that carried a state.
func (s Summary) Compared() int {
	return s.Evolution + s.Stagnation + s.Regression
}

// Summarize counts states. Records without a previous cycle go to
// NotComparable and never into Stagnation.
func Summarize(records []model.EvolutionRecord) Summary {
	var s Summary
	for _, r := range records {
		switch r.State {
		case model.StateEvolution:
			s.Evolution++
		case model.StateStagnation:
			s.Stagnation++
		case model.StateRegression:
			s.Regression++
		case model.StateNone:
			s.NotComparable++
		default:
			panic("evolution: unknown state " + string(r.State))
		}
	}
	return s
}
