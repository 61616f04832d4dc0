// Package relevance ranks learning content against a subject profile or a
// selection of indicators. Scores are additive, explainable and capped at 100.
package relevance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"igma/internal/config"
	"igma/internal/model"
)

const maxScore = 100

// Scorer holds the point values and floors. It has no mutable state and is
// safe for concurrent use.
type Scorer struct {
	cfg config.RelevanceConfig
}

func NewScorer(cfg config.RelevanceConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// ScoreProfile scores one candidate against a declared profile.
func (s *Scorer) ScoreProfile(c model.Candidate, p model.Profile) model.RelevanceResult {
	res := model.RelevanceResult{Candidate: c, Reasons: []model.Reason{}}

	if c.Pillar != "" && containsPillar(p.Pillars, c.Pillar) {
		addReason(&res, fmt.Sprintf("matches pillar interest %s", c.Pillar), s.cfg.PillarWeight)
	}

	if overlap := themeOverlap(c.Themes, p.Themes); len(overlap) > 0 {
		pts := len(overlap) * s.cfg.ThemeWeight
		if pts > s.cfg.ThemeCap {
			pts = s.cfg.ThemeCap
		}
		addReason(&res, fmt.Sprintf("shares themes: %s", strings.Join(overlap, ", ")), pts)
	}

	if audienceMatches(c.Audience, p.Audience) {
		addReason(&res, fmt.Sprintf("targets audience %q", strings.TrimSpace(p.Audience)), s.cfg.AudienceWeight)
	}

	if c.DurationMinutes > 0 && p.AvailableMinutes > 0 && c.DurationMinutes <= p.AvailableMinutes {
		addReason(&res, fmt.Sprintf("fits in %d available minutes", p.AvailableMinutes), s.cfg.DurationWeight)
	}

	if res.Score > maxScore {
		res.Score = maxScore
	}
	return res
}

// ScoreIndicators scores one candidate by the share of the selected
// indicators it addresses, as a percentage. ok is false when the coverage is
// below the configured floor.
func (s *Scorer) ScoreIndicators(c model.Candidate, selected []string) (model.RelevanceResult, bool) {
	res := model.RelevanceResult{Candidate: c, Reasons: []model.Reason{}}
	wanted := dedupe(selected)
	if len(wanted) == 0 {
		return res, false
	}
	addressed := make(map[string]bool, len(c.IndicatorCodes))
	for _, code := range c.IndicatorCodes {
		addressed[strings.TrimSpace(code)] = true
	}
	var matched []string
	for _, code := range wanted {
		if addressed[code] {
			matched = append(matched, code)
		}
	}
	coverage := float64(len(matched)) / float64(len(wanted))
	if len(matched) == 0 || coverage < s.cfg.MinCoverage {
		return res, false
	}
	addReason(&res, fmt.Sprintf("addresses %d of %d selected indicators: %s", len(matched), len(wanted), strings.Join(matched, ", ")),
		int(math.Round(coverage*maxScore)))
	return res, true
}

// RankProfile scores the pool against p, drops results under the minimum
// score and returns the best first, ties kept in input order. An empty
// profile or pool yields an empty list.
func (s *Scorer) RankProfile(pool []model.Candidate, p model.Profile, limit int) []model.RelevanceResult {
	if p.Empty() {
		return []model.RelevanceResult{}
	}
	results := make([]model.RelevanceResult, 0, len(pool))
	for _, c := range pool {
		results = append(results, s.ScoreProfile(c, p))
	}
	return s.rank(results, limit)
}

func (s *Scorer) RankIndicators(pool []model.Candidate, selected []string, limit int) []model.RelevanceResult {
	results := make([]model.RelevanceResult, 0, len(pool))
	for _, c := range pool {
		if r, ok := s.ScoreIndicators(c, selected); ok {
			results = append(results, r)
		}
	}
	return s.rank(results, limit)
}

func (s *Scorer) rank(results []model.RelevanceResult, limit int) []model.RelevanceResult {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	kept := make([]model.RelevanceResult, 0, len(results))
	for _, r := range results {
		if r.Score >= s.cfg.MinScore && r.Score > 0 {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func addReason(r *model.RelevanceResult, reason string, weight int) {
	if weight <= 0 {
		return
	}
	r.Reasons = append(r.Reasons, model.Reason{Reason: reason, Weight: weight})
	r.Score += weight
}

func containsPillar(list []model.Pillar, p model.Pillar) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

// themeOverlap returns the candidate themes found in the profile, compared
// case-insensitively, in candidate order without duplicates.
func themeOverlap(candidate, profile []string) []string {
	want := make(map[string]bool, len(profile))
	for _, t := range profile {
		if k := normalizeTag(t); k != "" {
			want[k] = true
		}
	}
	var out []string
	seen := make(map[string]bool)
	for _, t := range candidate {
		k := normalizeTag(t)
		if k == "" || seen[k] || !want[k] {
			continue
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(t))
	}
	return out
}

func audienceMatches(candidate, profile string) bool {
	c := normalizeTag(candidate)
	p := normalizeTag(profile)
	if c == "" || p == "" {
		return false
	}
	return strings.Contains(c, p) || strings.Contains(p, c)
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type Request struct {
	Candidates []model.Candidate `json:"candidates"`
	Profile    *model.Profile    `json:"profile,omitempty"`
	Indicators []string          `json:"indicators,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

type Response struct {
	Mode    string                  `json:"mode"`
	Results []model.RelevanceResult `json:"results"`
	Count   int                     `json:"count"`
}

// Recommend ranks by selected indicators when any are given and by profile
// otherwise.
func (s *Scorer) Recommend(req Request) Response {
	var resp Response
	if len(req.Indicators) > 0 {
		resp.Mode = "indicators"
		resp.Results = s.RankIndicators(req.Candidates, req.Indicators, req.Limit)
	} else {
		var p model.Profile
		if req.Profile != nil {
			p = *req.Profile
		}
		resp.Mode = "profile"
		resp.Results = s.RankProfile(req.Candidates, p, req.Limit)
	}
	resp.Count = len(resp.Results)
	return resp
}
