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
	StateDir  string          `json:"state_dir" yaml:"state_dir"`
	Judgment  JudgmentConfig  `json:"judgment" yaml:"judgment"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Patterns  PatternsConfig  `json:"patterns" yaml:"patterns"`
	Proactive ProactiveConfig `json:"proactive" yaml:"proactive"`
	Delivery  DeliveryConfig  `json:"delivery" yaml:"delivery"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type JudgmentConfig struct {
	Model   string        `json:"model" yaml:"model"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type PipelineConfig struct {
	PushBudgetPerDay int `json:"push_budget_per_day" yaml:"push_budget_per_day"`
	QueueSize        int `json:"queue_size" yaml:"queue_size"`
}

type PatternsConfig struct {
	WindowDays int           `json:"window_days" yaml:"window_days"`
	Interval   time.Duration `json:"interval" yaml:"interval"`
}

type ProactiveConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	WarmupDelay time.Duration `json:"warmup_delay" yaml:"warmup_delay"`
}

type DeliveryConfig struct {
	Command   string        `json:"command" yaml:"command"`
	Channel   string        `json:"channel" yaml:"channel"`
	SessionID string        `json:"session_id" yaml:"session_id"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

type IngestConfig struct {
	RPC   RPCConfig   `json:"rpc" yaml:"rpc"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RPCConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Judgment: JudgmentConfig{
			Model:   "openai/gpt-4o-mini",
			Timeout: 15 * time.Second,
		},
		Pipeline: PipelineConfig{
			PushBudgetPerDay: 10,
			QueueSize:        1024,
		},
		Patterns: PatternsConfig{
			WindowDays: 14,
			Interval:   6 * time.Hour,
		},
		Proactive: ProactiveConfig{
			Enabled:     true,
			Interval:    1 * time.Hour,
			WarmupDelay: 5 * time.Minute,
		},
		Delivery: DeliveryConfig{
			Command:   "betterclaw",
			Channel:   "telegram",
			SessionID: "main",
			Timeout:   30 * time.Second,
		},
		Ingest: IngestConfig{
			RPC:   RPCConfig{Enabled: true, Addr: ":8790"},
			Kafka: KafkaConfig{Enabled: false},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: ""},
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
	if cfg.Judgment.Model == "" {
		cfg.Judgment.Model = "openai/gpt-4o-mini"
	}
	if cfg.Judgment.Timeout <= 0 {
		cfg.Judgment.Timeout = 15 * time.Second
	}
	if cfg.Pipeline.PushBudgetPerDay <= 0 {
		cfg.Pipeline.PushBudgetPerDay = 10
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = 1024
	}
	if cfg.Patterns.WindowDays <= 0 {
		cfg.Patterns.WindowDays = 14
	}
	if cfg.Patterns.Interval <= 0 {
		cfg.Patterns.Interval = 6 * time.Hour
	}
	if cfg.Proactive.Interval <= 0 {
		cfg.Proactive.Interval = 1 * time.Hour
	}
	if cfg.Proactive.WarmupDelay <= 0 {
		cfg.Proactive.WarmupDelay = 5 * time.Minute
	}
	if cfg.Delivery.Command == "" {
		cfg.Delivery.Command = "betterclaw"
	}
	if cfg.Delivery.Channel == "" {
		cfg.Delivery.Channel = "telegram"
	}
	if cfg.Delivery.SessionID == "" {
		cfg.Delivery.SessionID = "main"
	}
	if cfg.Delivery.Timeout <= 0 {
		cfg.Delivery.Timeout = 30 * time.Second
	}
}

func Validate(cfg *Config) error {
	if cfg.Pipeline.PushBudgetPerDay <= 0 {
		return errors.New("pipeline.push_budget_per_day must be > 0")
	}
	if cfg.Patterns.WindowDays <= 0 {
		return errors.New("patterns.window_days must be > 0")
	}
	if cfg.Ingest.RPC.Enabled && cfg.Ingest.RPC.Addr == "" {
		return errors.New("ingest.rpc.addr required when ingest.rpc.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if !strings.Contains(cfg.Judgment.Model, "/") {
		return fmt.Errorf("judgment.model must be provider/model, got %q", cfg.Judgment.Model)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

// NewManager loads the file at path, falling back to defaults when the
// file does not exist. The plugin runs fine with zero configuration.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if path == "" {
		m.cfg.Store(DefaultConfig())
		return m, nil
	}
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.cfg.Store(DefaultConfig())
			return m, nil
		}
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
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

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
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

// ResolveStateDir returns the directory holding context.json,
// patterns.json and events.jsonl.
func ResolveStateDir(cfg *Config) string {
	if cfg != nil && cfg.StateDir != "" {
		return cfg.StateDir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "betterclaw-state"
	}
	return filepath.Join(base, "betterclaw")
}
