package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"igma/internal/alerts"
	"igma/internal/config"
	"igma/internal/engine"
	"igma/internal/evolution"
	"igma/internal/ingest"
	"igma/internal/metrics"
	"igma/internal/model"
	"igma/internal/relevance"
)

type EngineControl interface {
	Diagnose(ctx context.Context, in model.CycleInput) (model.Diagnosis, error)
	DiagnoseBatch(ctx context.Context, inputs []model.CycleInput) ([]engine.BatchResult, error)
	Reset()
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg        *config.Manager
	snapshots  *metrics.Store
	alerts     *alerts.Store
	collectors *metrics.Collectors
	engine     EngineControl
	logger     *slog.Logger
	version    string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	Storage    string       `json:"storage"`
	Subjects   int          `json:"subjects"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	Kafka    bool `json:"kafka"`
	FileTail bool `json:"file_tail"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type errorResponse struct {
	Error         string       `json:"error"`
	Kind          string       `json:"kind"`
	IndicatorCode string       `json:"indicator_code,omitempty"`
	Pillar        model.Pillar `json:"pillar,omitempty"`
}

func NewServer(cfg *config.Manager, snapshots *metrics.Store, alertsStore *alerts.Store, collectors *metrics.Collectors, eng EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:        cfg,
		snapshots:  snapshots,
		alerts:     alertsStore,
		collectors: collectors,
		engine:     eng,
		logger:     logger,
		version:    version,
	}
}

func Start(ctx context.Context, server *Server) *http.Server {
	if server == nil || server.cfg == nil {
		return nil
	}
	logger := server.logger
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/diagnostics/", s.handleDiagnostics)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/evolution/summary", s.handleEvolutionSummary)
	mux.HandleFunc("/diagnose", s.handleDiagnose)
	mux.HandleFunc("/recommendations", s.handleRecommendations)
	mux.HandleFunc("/config/relevance", s.handleRelevanceConfig)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	if s.collectors != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.collectors.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	storage := "disabled"
	if cfg.Storage.Enabled {
		storage = cfg.Storage.Driver
	}
	subjects := 0
	if s.snapshots != nil {
		subjects = len(s.snapshots.GetAll())
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
		},
		API:      apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage:  storage,
		Subjects: subjects,
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	subject := strings.TrimPrefix(r.URL.Path, "/diagnostics")
	subject = strings.TrimPrefix(subject, "/")
	if subject != "" {
		d, updated, ok := s.snapshots.Get(subject)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subject":    subject,
			"updated_at": updated.Format(time.RFC3339Nano),
			"diagnosis":  d,
		})
		return
	}
	all := s.snapshots.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnostics": all,
		"count":       len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		since = ts
	}
	list := s.alerts.Query(alerts.Filter{Subject: q.Get("subject"), Since: since, Limit: limit})
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleEvolutionSummary counts the evolution states of the latest diagnosis
// of every subject, optionally for one pillar.
func (s *Server) handleEvolutionSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var only model.Pillar
	if v := r.URL.Query().Get("pillar"); v != "" {
		only = model.Pillar(strings.ToUpper(v))
		if !only.Valid() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	var records []model.EvolutionRecord
	all := s.snapshots.GetAll()
	for _, d := range all {
		for _, rec := range d.Evolution {
			if only == "" || rec.Pillar == only {
				records = append(records, rec)
			}
		}
	}
	summary := evolution.Summarize(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":  summary,
		"compared": summary.Compared(),
		"subjects": len(all),
	})
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	inputs, err := ingest.DecodeCycles(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "decode"})
		return
	}
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		results, err := s.engine.DiagnoseBatch(r.Context(), inputs)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: "internal"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": results,
			"count":   len(results),
		})
		return
	}
	d, err := s.engine.Diagnose(r.Context(), inputs[0])
	if err != nil {
		status, resp := describeError(err)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req relevance.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "decode"})
		return
	}
	writeJSON(w, http.StatusOK, relevance.NewScorer(s.cfg.Get().Relevance).Recommend(req))
}

func (s *Server) handleRelevanceConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"relevance": s.cfg.Get().Relevance,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		if err := json.Unmarshal(body, &next.Relevance); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := config.Validate(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "configuration"})
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.snapshots != nil {
			s.snapshots.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "diagnostics":
		if s.snapshots != nil {
			s.snapshots.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func describeError(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error(), Kind: engine.ErrorKind(err)}
	var cfgErr *model.ConfigurationError
	var insuf *model.InsufficientDataError
	switch {
	case errors.As(err, &cfgErr):
		resp.IndicatorCode = cfgErr.IndicatorCode
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &insuf):
		resp.Pillar = insuf.Pillar
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
