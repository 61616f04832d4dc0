package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igma/internal/alerts"
	"igma/internal/config"
	"igma/internal/engine"
	"igma/internal/metrics"
	"igma/internal/model"
	"igma/internal/relevance"
)

type fixture struct {
	srv       *httptest.Server
	snapshots *metrics.Store
	alerts    *alerts.Store
	cfg       *config.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "igma.yaml")
	require.NoError(t, config.Save(path, config.DefaultConfig()))
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	snapshots := metrics.NewStore(100)
	alertsStore := alerts.NewStore(100)
	collectors := metrics.NewCollectors()
	eng := engine.NewEngine(mgr.Get(), nil, snapshots, alertsStore, nil, collectors)
	server := NewServer(mgr, snapshots, alertsStore, collectors, eng, nil, "test")
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, snapshots: snapshots, alerts: alertsStore, cfg: mgr}
}

func f(v float64) *float64 { return &v }

func measurement(code string, p model.Pillar, v *float64) model.Measurement {
	return model.Measurement{
		Indicator: model.Indicator{
			Code:          code,
			Pillar:        p,
			Direction:     model.HighIsBetter,
			Normalization: model.MethodMinMax,
			MinRef:        f(0),
			MaxRef:        f(1),
		},
		Value: model.IndicatorValue{IndicatorCode: code, Value: v},
	}
}

func cycle(subject string, seq int, ra, oe, ao float64) model.CycleInput {
	return model.CycleInput{
		Cycle: model.Cycle{Subject: subject, Sequence: seq, At: time.Date(2022+seq, 1, 1, 0, 0, 0, 0, time.UTC)},
		Measurements: []model.Measurement{
			measurement("RA-1", model.PillarRA, f(ra)),
			measurement("OE-1", model.PillarOE, f(oe)),
			measurement("AO-1", model.PillarAO, f(ao)),
		},
	}
}

func (fx *fixture) post(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(fx.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (fx *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(fx.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestDiagnoseAndQuery(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.post(t, "/diagnose", cycle("dest-1", 1, 0.2, 0.9, 0.9))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var d model.Diagnosis
	require.NoError(t, json.Unmarshal(body, &d))
	assert.True(t, d.Outcome.Blocks.StructuralExpansionBlocked)
	assert.True(t, d.Outcome.Blocks.MarketingBlocked)

	resp, body = fx.get(t, "/diagnostics/dest-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"subject":"dest-1"`)

	resp, _ = fx.get(t, "/diagnostics/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = fx.get(t, "/alerts?subject=dest-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alertsResp struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &alertsResp))
	require.Equal(t, 1, alertsResp.Count)
	assert.Equal(t, model.AlertRABlocksOE, alertsResp.Alerts[0].Code)

	resp, _ = fx.get(t, "/alerts?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiagnoseErrors(t *testing.T) {
	fx := newFixture(t)

	in := cycle("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements[1].Value.Value = nil
	resp, body := fx.post(t, "/diagnose", in)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "insufficient_data", e.Kind)
	assert.Equal(t, model.PillarOE, e.Pillar)

	in = cycle("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements[0].Indicator.Normalization = "LOG"
	resp, _ = fx.post(t, "/diagnose", in)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown methods fail validation before scoring")

	in = cycle("dest-1", 1, 0.5, 0.5, 0.5)
	in.Measurements[0].Indicator.MinRef = f(1)
	resp, body = fx.post(t, "/diagnose", in)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "configuration", e.Kind)
	assert.Equal(t, "RA-1", e.IndicatorCode)

	resp, _ = fx.post(t, "/diagnose", cycle("", 1, 0.5, 0.5, 0.5))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiagnoseBatchAndEvolutionSummary(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.post(t, "/diagnose", []model.CycleInput{
		cycle("dest-1", 2, 0.45, 0.65, 0.8),
		cycle("dest-1", 1, 0.60, 0.50, 0.8),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"count":2`)

	resp, body = fx.get(t, "/evolution/summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Summary struct {
			Evolution  int `json:"evolution"`
			Stagnation int `json:"stagnation"`
			Regression int `json:"regression"`
		} `json:"summary"`
		Compared int `json:"compared"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 3, out.Compared)
	assert.Equal(t, 1, out.Summary.Evolution)
	assert.Equal(t, 1, out.Summary.Stagnation)
	assert.Equal(t, 1, out.Summary.Regression)

	resp, body = fx.get(t, "/evolution/summary?pillar=ra")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Compared)

	resp, _ = fx.get(t, "/evolution/summary?pillar=XX")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiagnoseBatchErrorKinds(t *testing.T) {
	fx := newFixture(t)
	misconfigured := cycle("dest-1", 1, 0.5, 0.5, 0.5)
	misconfigured.Measurements[2].Indicator.MaxRef = f(0)
	partial := cycle("dest-2", 1, 0.5, 0.5, 0.5)
	partial.Measurements = partial.Measurements[:1]

	resp, body := fx.post(t, "/diagnose", []model.CycleInput{misconfigured, partial})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Results []engine.BatchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "configuration", out.Results[0].Kind)
	assert.Equal(t, "AO-1", out.Results[0].IndicatorCode)
	assert.Equal(t, "insufficient_data", out.Results[1].Kind)
	assert.Equal(t, model.PillarOE, out.Results[1].Pillar)
}

func TestRecommendations(t *testing.T) {
	fx := newFixture(t)
	pool := []model.Candidate{
		{ID: "ra-course", Kind: model.KindCourse, Pillar: model.PillarRA, IndicatorCodes: []string{"RA-1", "RA-2"}},
		{ID: "oe-course", Kind: model.KindCourse, Pillar: model.PillarOE},
	}

	resp, body := fx.post(t, "/recommendations", relevance.Request{
		Candidates: pool,
		Profile:    &model.Profile{Pillars: []model.Pillar{model.PillarRA}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Mode    string                  `json:"mode"`
		Results []model.RelevanceResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "profile", out.Mode)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "ra-course", out.Results[0].Candidate.ID)
	assert.Equal(t, 40, out.Results[0].Score)

	resp, body = fx.post(t, "/recommendations", relevance.Request{Candidates: pool, Indicators: []string{"RA-1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "indicators", out.Mode)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "ra-course", out.Results[0].Candidate.ID)
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t)
	fx.post(t, "/diagnose", cycle("dest-1", 1, 0.9, 0.9, 0.1))

	resp, body := fx.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `igma_diagnoses_total{result="ok"} 1`)
	assert.Contains(t, text, `igma_rule_alerts_total{code="AO_BLOCKS_SYSTEM"} 1`)
}

func TestRelevanceConfigUpdate(t *testing.T) {
	fx := newFixture(t)

	resp, _ := fx.post(t, "/config/relevance", map[string]any{"min_score": 150})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 20, fx.cfg.Get().Relevance.MinScore)

	resp, _ = fx.post(t, "/config/relevance", map[string]any{"min_score": 45})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 45, fx.cfg.Get().Relevance.MinScore)
	assert.Equal(t, 40, fx.cfg.Get().Relevance.PillarWeight, "unspecified fields keep their value")

	reloaded, err := config.Load(fx.cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, 45, reloaded.Relevance.MinScore)
}

func TestAdminClear(t *testing.T) {
	fx := newFixture(t)
	fx.post(t, "/diagnose", cycle("dest-1", 1, 0.1, 0.9, 0.9))
	require.Len(t, fx.alerts.Query(alerts.Filter{}), 1)

	resp, _ := fx.post(t, "/admin/clear", map[string]string{"target": "alerts"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, fx.alerts.Query(alerts.Filter{}))
	_, _, ok := fx.snapshots.Get("dest-1")
	assert.True(t, ok)

	resp, _ = fx.post(t, "/admin/clear", map[string]string{"target": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.post(t, "/admin/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, ok = fx.snapshots.Get("dest-1")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.get(t, "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"storage":"disabled"`))

	resp, err := http.Post(fx.srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
