package model

import (
	"encoding/json"
	"time"
)

type Pillar string

const (
	PillarRA Pillar = "RA"
	PillarOE Pillar = "OE"
	PillarAO Pillar = "AO"
)

// Pillars is the canonical evaluation order.
var Pillars = []Pillar{PillarRA, PillarOE, PillarAO}

func (p Pillar) Valid() bool {
	switch p {
	case PillarRA, PillarOE, PillarAO:
		return true
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityModerate Severity = "MODERATE"
	SeverityGood     Severity = "GOOD"
)

const (
	CriticalBelow = 0.34
	GoodFrom      = 0.67
)

func SeverityOf(score float64) Severity {
	switch {
	case score < CriticalBelow:
		return SeverityCritical
	case score < GoodFrom:
		return SeverityModerate
	default:
		return SeverityGood
	}
}

// Rank orders severities from best (0) to worst (2).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityModerate:
		return 1
	default:
		return 0
	}
}

type Direction string

const (
	HighIsBetter Direction = "HIGH_IS_BETTER"
	LowIsBetter  Direction = "LOW_IS_BETTER"
)

type NormalizationMethod string

const (
	MethodMinMax NormalizationMethod = "MIN_MAX"
	MethodBands  NormalizationMethod = "BANDS"
	MethodBinary NormalizationMethod = "BINARY"
)

type Band struct {
	Low      float64 `json:"low" yaml:"low"`
	High     float64 `json:"high" yaml:"high"`
	Score    float64 `json:"score" yaml:"score"`
	Fallback bool    `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Label    string  `json:"label,omitempty" yaml:"label,omitempty"`
}

type Indicator struct {
	Code            string              `json:"code" validate:"required"`
	Name            string              `json:"name"`
	Pillar          Pillar              `json:"pillar" validate:"required,oneof=RA OE AO"`
	Theme           string              `json:"theme,omitempty"`
	Direction       Direction           `json:"direction" validate:"required,oneof=HIGH_IS_BETTER LOW_IS_BETTER"`
	Normalization   NormalizationMethod `json:"normalization" validate:"required,oneof=MIN_MAX BANDS BINARY"`
	MinRef          *float64            `json:"min_ref,omitempty"`
	MaxRef          *float64            `json:"max_ref,omitempty"`
	Unit            string              `json:"unit,omitempty"`
	Weight          *float64            `json:"weight,omitempty"`
	Bands           []Band              `json:"bands,omitempty"`
	BinaryThreshold *float64            `json:"binary_threshold,omitempty"`
	ExternalSectors []string            `json:"external_sectors,omitempty"`
}

type IndicatorValue struct {
	IndicatorCode string   `json:"indicator_code"`
	Value         *float64 `json:"value"`
	Source        string   `json:"source,omitempty"`
	ReferenceYear int      `json:"reference_year,omitempty"`
	Confidence    int      `json:"confidence,omitempty" validate:"omitempty,min=1,max=5"`
	MinRef        *float64 `json:"min_ref,omitempty"`
	MaxRef        *float64 `json:"max_ref,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
}

type Measurement struct {
	Indicator Indicator      `json:"indicator"`
	Value     IndicatorValue `json:"value"`
}

type IndicatorScore struct {
	IndicatorCode string              `json:"indicator_code"`
	Pillar        Pillar              `json:"pillar"`
	Score         float64             `json:"score"`
	Method        NormalizationMethod `json:"method"`
	MinRef        *float64            `json:"min_ref,omitempty"`
	MaxRef        *float64            `json:"max_ref,omitempty"`
	Band          string              `json:"band,omitempty"`
	Weight        float64             `json:"weight"`
	Explanation   string              `json:"explanation"`
}

type PillarScore struct {
	Pillar     Pillar   `json:"pillar"`
	Score      float64  `json:"score"`
	Severity   Severity `json:"severity,omitempty"`
	Defined    bool     `json:"defined"`
	Indicators int      `json:"indicators"`
}

type PillarScores struct {
	RA PillarScore `json:"RA"`
	OE PillarScore `json:"OE"`
	AO PillarScore `json:"AO"`
}

func (p PillarScores) Get(pillar Pillar) PillarScore {
	switch pillar {
	case PillarRA:
		return p.RA
	case PillarOE:
		return p.OE
	case PillarAO:
		return p.AO
	}
	panic("model: unknown pillar " + string(pillar))
}

func (p *PillarScores) Set(score PillarScore) {
	switch score.Pillar {
	case PillarRA:
		p.RA = score
	case PillarOE:
		p.OE = score
	case PillarAO:
		p.AO = score
	default:
		panic("model: unknown pillar " + string(score.Pillar))
	}
}

type Cycle struct {
	Subject  string    `json:"subject" validate:"required"`
	Sequence int       `json:"sequence" validate:"min=1"`
	At       time.Time `json:"at" validate:"required"`
}

type AlertCode string

const (
	AlertRABlocksOE          AlertCode = "RA_BLOCKS_OE"
	AlertNegativeExternality AlertCode = "NEGATIVE_EXTERNALITY"
	AlertAOBlocksSystem      AlertCode = "AO_BLOCKS_SYSTEM"
)

type Action string

const (
	ActionStructuralExpansion Action = "structural_expansion"
	ActionMarketing           Action = "marketing"
	ActionTraining            Action = "training"
)

type BlockFlags struct {
	StructuralExpansionBlocked bool `json:"structural_expansion_blocked"`
	AllActionsBlocked          bool `json:"all_actions_blocked"`
	MarketingBlocked           bool `json:"marketing_blocked"`
}

type CrossSectorDependency struct {
	IndicatorCode string   `json:"indicator_code"`
	Pillar        Pillar   `json:"pillar"`
	Severity      Severity `json:"severity"`
	Sectors       []string `json:"sectors"`
}

type RuleOutcome struct {
	Alerts               []AlertCode             `json:"alerts"`
	Blocks               BlockFlags              `json:"blocks"`
	WorstSeverity        Severity                `json:"worst_severity"`
	ReviewIntervalMonths int                     `json:"review_interval_months"`
	NextReviewAt         time.Time               `json:"next_review_at"`
	ExternalityEvaluated bool                    `json:"externality_evaluated"`
	CrossSector          []CrossSectorDependency `json:"cross_sector,omitempty"`
}

func (o RuleOutcome) HasAlert(code AlertCode) bool {
	for _, a := range o.Alerts {
		if a == code {
			return true
		}
	}
	return false
}

// Blocked reports the effective block for an action. all_actions_blocked
// covers every action regardless of the narrower flags.
func (o RuleOutcome) Blocked(action Action) bool {
	if o.Blocks.AllActionsBlocked {
		return true
	}
	switch action {
	case ActionStructuralExpansion:
		return o.Blocks.StructuralExpansionBlocked
	case ActionMarketing:
		return o.Blocks.MarketingBlocked
	}
	return false
}

type EvolutionState string

const (
	StateNone       EvolutionState = ""
	StateEvolution  EvolutionState = "EVOLUTION"
	StateStagnation EvolutionState = "STAGNATION"
	StateRegression EvolutionState = "REGRESSION"
)

func (s EvolutionState) Comparable() bool {
	return s != StateNone
}

func (s EvolutionState) MarshalJSON() ([]byte, error) {
	if s == StateNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *EvolutionState) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StateNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = EvolutionState(raw)
	return nil
}

type EvolutionRecord struct {
	Subject       string         `json:"subject"`
	Pillar        Pillar         `json:"pillar"`
	CurrentScore  float64        `json:"current_score"`
	PreviousScore *float64       `json:"previous_score"`
	State         EvolutionState `json:"state"`
}

type Diagnosis struct {
	ID              string            `json:"id"`
	Cycle           Cycle             `json:"cycle"`
	IndicatorScores []IndicatorScore  `json:"indicator_scores"`
	Pillars         PillarScores      `json:"pillars"`
	Outcome         RuleOutcome       `json:"outcome"`
	Evolution       []EvolutionRecord `json:"evolution,omitempty"`
	PreviousCycle   *Cycle            `json:"previous_cycle,omitempty"`
	ComputedAt      time.Time         `json:"computed_at"`
}

// CycleInput is one submission from the collection tier: every measurement of
// a subject for a cycle, optionally with the preceding cycle inline.
type CycleInput struct {
	Cycle        Cycle              `json:"cycle"`
	Measurements []Measurement      `json:"measurements" validate:"dive"`
	Weights      map[string]float64 `json:"weights,omitempty"`
	Previous     *CycleInput        `json:"previous,omitempty"`
	Recompute    bool               `json:"recompute,omitempty"`
}

type Alert struct {
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"`
	Sequence  int               `json:"sequence"`
	Code      AlertCode         `json:"code"`
	Severity  Severity          `json:"severity"`
	Pillars   PillarScores      `json:"pillars"`
	Context   map[string]string `json:"context,omitempty"`
}
