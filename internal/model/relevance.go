package model

type CandidateKind string

const (
	KindCourse      CandidateKind = "course"
	KindLiveSession CandidateKind = "live_session"
	KindTrack       CandidateKind = "track"
)

type Candidate struct {
	ID              string        `json:"id"`
	Kind            CandidateKind `json:"kind"`
	Title           string        `json:"title"`
	Pillar          Pillar        `json:"pillar,omitempty"`
	Themes          []string      `json:"themes,omitempty"`
	Audience        string        `json:"audience,omitempty"`
	DurationMinutes int           `json:"duration_minutes,omitempty"`
	IndicatorCodes  []string      `json:"indicator_codes,omitempty"`
}

// Profile is the declared interest set of a subject.
type Profile struct {
	Pillars          []Pillar `json:"pillars,omitempty"`
	Themes           []string `json:"themes,omitempty"`
	Audience         string   `json:"audience,omitempty"`
	AvailableMinutes int      `json:"available_minutes,omitempty"`
}

func (p Profile) Empty() bool {
	return len(p.Pillars) == 0 && len(p.Themes) == 0 && p.Audience == "" && p.AvailableMinutes <= 0
}

type Reason struct {
	Reason string `json:"reason"`
	Weight int    `json:"weight"`
}

type RelevanceResult struct {
	Candidate Candidate `json:"candidate"`
	Score     int       `json:"score"`
	Reasons   []Reason  `json:"reasons"`
}
