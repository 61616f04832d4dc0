package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igma/internal/config"
	"igma/internal/model"
)

func defaultScorer() *Scorer {
	return NewScorer(config.DefaultConfig().Relevance)
}

func TestScoreProfile_AllCriteria(t *testing.T) {
	c := model.Candidate{
		ID:              "course-1",
		Pillar:          model.PillarRA,
		Themes:          []string{"Water", "waste", "energy", "biodiversity"},
		Audience:        "municipal tourism managers",
		DurationMinutes: 90,
	}
	p := model.Profile{
		Pillars:          []model.Pillar{model.PillarRA},
		Themes:           []string{"water", "Waste", "energy", "biodiversity"},
		Audience:         "Tourism Managers",
		AvailableMinutes: 120,
	}

	res := defaultScorer().ScoreProfile(c, p)

	assert.Equal(t, 100, res.Score, "40 + capped 30 + 15 + 15")
	require.Len(t, res.Reasons, 4)
	assert.Equal(t, 40, res.Reasons[0].Weight)
	assert.Equal(t, 30, res.Reasons[1].Weight, "theme overlap is capped")
	assert.Equal(t, 15, res.Reasons[2].Weight)
	assert.Equal(t, 15, res.Reasons[3].Weight)
}

func TestScoreProfile_ThemeScaling(t *testing.T) {
	c := model.Candidate{ID: "c", Themes: []string{"heritage", "gastronomy", "heritage"}}
	p := model.Profile{Themes: []string{"Heritage", "gastronomy"}}

	res := defaultScorer().ScoreProfile(c, p)

	assert.Equal(t, 20, res.Score)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0].Reason, "heritage, gastronomy")
}

func TestScoreProfile_DurationTooLong(t *testing.T) {
	c := model.Candidate{ID: "c", DurationMinutes: 240}
	p := model.Profile{AvailableMinutes: 60}

	res := defaultScorer().ScoreProfile(c, p)

	assert.Zero(t, res.Score)
	assert.Empty(t, res.Reasons)
}

func TestRankProfile_Floor(t *testing.T) {
	cfg := config.DefaultConfig().Relevance
	cfg.AudienceWeight = 19
	cfg.DurationWeight = 20
	s := NewScorer(cfg)
	pool := []model.Candidate{
		{ID: "audience-only", Audience: "guides"},
		{ID: "duration-only", DurationMinutes: 30},
	}
	p := model.Profile{Audience: "guides", AvailableMinutes: 45}

	res := s.RankProfile(pool, p, 0)

	require.Len(t, res, 1)
	assert.Equal(t, "duration-only", res[0].Candidate.ID)
	assert.Equal(t, 20, res[0].Score)
}

func TestRankProfile_DeterministicTies(t *testing.T) {
	pool := []model.Candidate{
		{ID: "a", Pillar: model.PillarOE},
		{ID: "b", Pillar: model.PillarAO, Themes: []string{"governance"}},
		{ID: "c", Pillar: model.PillarOE},
		{ID: "d", Pillar: model.PillarRA},
		{ID: "e", Pillar: model.PillarOE},
	}
	p := model.Profile{Pillars: []model.Pillar{model.PillarOE, model.PillarAO}, Themes: []string{"governance"}}
	s := defaultScorer()

	first := s.RankProfile(pool, p, 0)
	second := s.RankProfile(pool, p, 0)

	require.Equal(t, first, second)
	ids := make([]string, 0, len(first))
	for _, r := range first {
		ids = append(ids, r.Candidate.ID)
	}
	assert.Equal(t, []string{"b", "a", "c", "e"}, ids)
}

func TestRankProfile_Limit(t *testing.T) {
	pool := make([]model.Candidate, 0, 30)
	for i := 0; i < 30; i++ {
		pool = append(pool, model.Candidate{ID: string(rune('A' + i)), Pillar: model.PillarRA})
	}
	p := model.Profile{Pillars: []model.Pillar{model.PillarRA}}
	s := defaultScorer()

	assert.Len(t, s.RankProfile(pool, p, 0), 20, "default limit")
	assert.Len(t, s.RankProfile(pool, p, 5), 5)
}

func TestRankProfile_EmptyInputs(t *testing.T) {
	s := defaultScorer()

	assert.Empty(t, s.RankProfile(nil, model.Profile{Pillars: []model.Pillar{model.PillarRA}}, 0))
	assert.NotNil(t, s.RankProfile(nil, model.Profile{}, 0))
	assert.Empty(t, s.RankProfile([]model.Candidate{{ID: "x", Pillar: model.PillarRA}}, model.Profile{}, 0))
}

func TestRankIndicators_Coverage(t *testing.T) {
	pool := []model.Candidate{
		{ID: "full", IndicatorCodes: []string{"RA-1", "RA-2", "OE-4"}},
		{ID: "partial", IndicatorCodes: []string{"RA-1"}},
		{ID: "none", IndicatorCodes: []string{"AO-9"}},
		{ID: "two", IndicatorCodes: []string{"OE-4", "RA-2"}},
	}
	s := defaultScorer()

	res := s.RankIndicators(pool, []string{"RA-1", "RA-2", "OE-4"}, 0)

	require.Len(t, res, 3)
	assert.Equal(t, "full", res[0].Candidate.ID)
	assert.Equal(t, 100, res[0].Score)
	assert.Equal(t, "two", res[1].Candidate.ID)
	assert.Equal(t, 67, res[1].Score)
	assert.Equal(t, "partial", res[2].Candidate.ID)
	assert.Equal(t, 33, res[2].Score)
}

func TestRankIndicators_MinCoverage(t *testing.T) {
	cfg := config.DefaultConfig().Relevance
	cfg.MinCoverage = 0.5
	s := NewScorer(cfg)
	pool := []model.Candidate{{ID: "one-of-three", IndicatorCodes: []string{"RA-1"}}}

	assert.Empty(t, s.RankIndicators(pool, []string{"RA-1", "RA-2", "RA-3"}, 0))
	assert.Empty(t, s.RankIndicators(pool, nil, 0))
}
