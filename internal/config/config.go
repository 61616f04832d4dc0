package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring"`
	Rules     RulesConfig     `json:"rules" yaml:"rules"`
	Evolution EvolutionConfig `json:"evolution" yaml:"evolution"`
	Relevance RelevanceConfig `json:"relevance" yaml:"relevance"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Snapshots SnapshotsConfig `json:"snapshots" yaml:"snapshots"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type ScoringConfig struct {
	// MinConfidence drops values whose declared confidence is below it. 0 disables.
	MinConfidence int `json:"min_confidence" yaml:"min_confidence"`
	BatchWorkers  int `json:"batch_workers" yaml:"batch_workers"`
}

type RulesConfig struct {
	ReviewMonths ReviewMonthsConfig `json:"review_months" yaml:"review_months"`
}

type ReviewMonthsConfig struct {
	Critical int `json:"critical" yaml:"critical"`
	Moderate int `json:"moderate" yaml:"moderate"`
	Good     int `json:"good" yaml:"good"`
}

type EvolutionConfig struct {
	// MaxCycleGap suppresses comparison between cycles further apart. 0 disables.
	MaxCycleGap time.Duration `json:"max_cycle_gap" yaml:"max_cycle_gap"`
}

// MarshalJSON writes MaxCycleGap as a duration string ("8760h0m0s").
func (e EvolutionConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MaxCycleGap string `json:"max_cycle_gap"`
	}{MaxCycleGap: e.MaxCycleGap.String()})
}

// UnmarshalJSON accepts MaxCycleGap either as a duration string or as
// integer nanoseconds. A missing field keeps the current value.
func (e *EvolutionConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		MaxCycleGap json.RawMessage `json:"max_cycle_gap"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.MaxCycleGap) == 0 || string(raw.MaxCycleGap) == "null" {
		return nil
	}
	gap, err := parseDuration(raw.MaxCycleGap)
	if err != nil {
		return fmt.Errorf("evolution.max_cycle_gap: %w", err)
	}
	e.MaxCycleGap = gap
	return nil
}

func parseDuration(raw json.RawMessage) (time.Duration, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return time.ParseDuration(text)
	}
	var nanos int64
	if err := json.Unmarshal(raw, &nanos); err != nil {
		return 0, fmt.Errorf("want a duration string or integer nanoseconds, got %s", raw)
	}
	return time.Duration(nanos), nil
}

type RelevanceConfig struct {
	PillarWeight   int     `json:"pillar_weight" yaml:"pillar_weight"`
	ThemeWeight    int     `json:"theme_weight" yaml:"theme_weight"`
	ThemeCap       int     `json:"theme_cap" yaml:"theme_cap"`
	AudienceWeight int     `json:"audience_weight" yaml:"audience_weight"`
	DurationWeight int     `json:"duration_weight" yaml:"duration_weight"`
	MinScore       int     `json:"min_score" yaml:"min_score"`
	MinCoverage    float64 `json:"min_coverage" yaml:"min_coverage"`
	DefaultLimit   int     `json:"default_limit" yaml:"default_limit"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Files      []string `json:"files" yaml:"files"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type SnapshotsConfig struct {
	SubjectLimit int `json:"subject_limit" yaml:"subject_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Scoring:  ScoringConfig{MinConfidence: 0, BatchWorkers: 8},
		Rules: RulesConfig{
			ReviewMonths: ReviewMonthsConfig{Critical: 6, Moderate: 12, Good: 18},
		},
		Evolution: EvolutionConfig{MaxCycleGap: 0},
		Relevance: RelevanceConfig{
			PillarWeight:   40,
			ThemeWeight:    10,
			ThemeCap:       30,
			AudienceWeight: 15,
			DurationWeight: 15,
			MinScore:       20,
			MinCoverage:    0.2,
			DefaultLimit:   20,
		},
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
		},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:igma.db?_pragma=busy_timeout(5000)"},
		Snapshots: SnapshotsConfig{SubjectLimit: 5000},
		Alerts:    AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Snapshots.SubjectLimit <= 0 {
		cfg.Snapshots.SubjectLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Scoring.BatchWorkers <= 0 {
		cfg.Scoring.BatchWorkers = 8
	}
	rm := &cfg.Rules.ReviewMonths
	if rm.Critical <= 0 {
		rm.Critical = 6
	}
	if rm.Moderate <= 0 {
		rm.Moderate = 12
	}
	if rm.Good <= 0 {
		rm.Good = 18
	}
	if cfg.Relevance.DefaultLimit <= 0 {
		cfg.Relevance.DefaultLimit = 20
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Scoring.MinConfidence < 0 || cfg.Scoring.MinConfidence > 5 {
		return fmt.Errorf("scoring.min_confidence must be within 0..5, got %d", cfg.Scoring.MinConfidence)
	}
	rm := cfg.Rules.ReviewMonths
	if !(rm.Critical <= rm.Moderate && rm.Moderate <= rm.Good) {
		return errors.New("rules.review_months must not shorten as severity improves")
	}
	if cfg.Evolution.MaxCycleGap < 0 {
		return fmt.Errorf("evolution.max_cycle_gap must be >= 0: %s", cfg.Evolution.MaxCycleGap)
	}
	r := cfg.Relevance
	if r.PillarWeight < 0 || r.ThemeWeight < 0 || r.ThemeCap < 0 || r.AudienceWeight < 0 || r.DurationWeight < 0 {
		return errors.New("relevance weights must be >= 0")
	}
	if r.MinScore < 0 || r.MinScore > 100 {
		return fmt.Errorf("relevance.min_score must be within 0..100, got %d", r.MinScore)
	}
	if r.MinCoverage < 0 || r.MinCoverage > 1 {
		return fmt.Errorf("relevance.min_coverage must be within 0..1, got %g", r.MinCoverage)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
