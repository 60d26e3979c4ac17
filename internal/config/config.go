// Package config provides configuration loading and defaults for hostwatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	Sampler   SamplerConfig   `yaml:"sampler"`
	History   HistoryConfig   `yaml:"history"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SamplerConfig controls the distribution loop and the metrics provider.
type SamplerConfig struct {
	// Interval is a duration string between ticks (e.g. "1s").
	Interval string `yaml:"interval"`
	// MaxProcesses keeps the top N processes by memory. 0 keeps all.
	MaxProcesses int `yaml:"max_processes"`
	// Temperatures toggles sensor reads, which are slow on some hosts.
	Temperatures bool `yaml:"temperatures"`
	// Connections toggles per-interface connection counting.
	Connections bool `yaml:"connections"`
}

// HistoryConfig controls the rolling sample history.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// AlertsConfig holds thresholds, extra rules and notifier settings.
type AlertsConfig struct {
	MemoryWarning  float64         `yaml:"memory_warning"`
	MemoryCritical float64         `yaml:"memory_critical"`
	NotifyTimeout  string          `yaml:"notify_timeout"`
	Rules          []RuleConfig    `yaml:"rules"`
	Notifiers      NotifiersConfig `yaml:"notifiers"`
}

// RuleConfig declares an additional threshold rule.
type RuleConfig struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"` // cpu, memory, disk, load1, temperature
	Op        string  `yaml:"op"`     // >, >=, <, <=
	Threshold float64 `yaml:"threshold"`
	Severity  string  `yaml:"severity"` // info, warning, critical
}

// NotifiersConfig toggles the built-in notifiers.
type NotifiersConfig struct {
	Log        bool   `yaml:"log"`
	File       string `yaml:"file"`
	WebhookURL string `yaml:"webhook_url"`
	Kafka      bool   `yaml:"kafka"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	// StaticDir, when set, is served at / (e.g. "./static" with an index.html).
	StaticDir string `yaml:"static_dir"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of: sqlite, kafka, none.
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	QueueSize    int    `yaml:"queue_size"`
	Workers      int    `yaml:"workers"`
	BatchSize    int    `yaml:"batch_size"`
	BatchTimeout string `yaml:"batch_timeout"`
}

// KafkaConfig holds broker, topic and producer settings.
type KafkaConfig struct {
	Brokers     []string       `yaml:"brokers"`
	Topic       string         `yaml:"topic"`
	AlertsTopic string         `yaml:"alerts_topic"`
	Producer    ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the kafka writer pool.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DashboardConfig holds terminal dashboard settings.
type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	RefreshRate    string `yaml:"refresh_rate"`
	BarWidth       int    `yaml:"bar_width"`
	ShowDiskInfo   bool   `yaml:"show_disk_info"`
	ShowSystemLoad bool   `yaml:"show_system_load"`
	ProcessRows    int    `yaml:"process_rows"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a sensible default config for local use.
func Default() *Config {
	return &Config{
		Sampler: SamplerConfig{
			Interval:     "1s",
			MaxProcesses: 50,
			Temperatures: true,
			Connections:  true,
		},
		History: HistoryConfig{
			Capacity: 100,
		},
		Alerts: AlertsConfig{
			MemoryWarning:  80,
			MemoryCritical: 90,
			NotifyTimeout:  "500ms",
			Notifiers: NotifiersConfig{
				Log: true,
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Storage: StorageConfig{
			Backend:      "sqlite",
			Path:         "metrics.db",
			QueueSize:    256,
			Workers:      1,
			BatchSize:    16,
			BatchTimeout: "5s",
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			Topic:       "hostwatch.samples",
			AlertsTopic: "hostwatch.alerts",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 5 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   2,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Dashboard: DashboardConfig{
			Enabled:        true,
			RefreshRate:    "1s",
			BarWidth:       50,
			ShowDiskInfo:   true,
			ShowSystemLoad: true,
			ProcessRows:    10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "logs/hostwatch.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads a YAML configuration file and merges it over the defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// ApplyEnvOverrides updates cfg in place from environment variables.
// Recognized variables:
//   - HOSTWATCH_LOG_LEVEL overrides cfg.Logging.Level
//   - HOSTWATCH_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - HOSTWATCH_KAFKA_BROKERS (comma separated) overrides cfg.Kafka.Brokers
func ApplyEnvOverrides(cfg *Config) {
	if level := os.Getenv("HOSTWATCH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if token := os.Getenv("HOSTWATCH_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	if brokers := os.Getenv("HOSTWATCH_KAFKA_BROKERS"); brokers != "" {
		var list []string
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				list = append(list, b)
			}
		}
		cfg.Kafka.Brokers = list
	}
}

var (
	validBackends   = map[string]bool{"sqlite": true, "kafka": true, "none": true}
	validMetrics    = map[string]bool{"cpu": true, "memory": true, "disk": true, "load1": true, "temperature": true}
	validOps        = map[string]bool{">": true, ">=": true, "<": true, "<=": true}
	validSeverities = map[string]bool{"info": true, "warning": true, "critical": true}
)

// Validate checks the configuration for logical consistency. It is meant to
// run once at startup; any error is fatal.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Interval(); err != nil {
		errs = append(errs, fmt.Errorf("sampler.interval: %w", err))
	}
	if c.Sampler.MaxProcesses < 0 {
		errs = append(errs, fmt.Errorf("sampler.max_processes must be non-negative, got %d", c.Sampler.MaxProcesses))
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity))
	}

	if c.Alerts.MemoryWarning <= 0 || c.Alerts.MemoryWarning > 100 {
		errs = append(errs, fmt.Errorf("alerts.memory_warning must be in (0, 100], got %v", c.Alerts.MemoryWarning))
	}
	if c.Alerts.MemoryCritical <= 0 || c.Alerts.MemoryCritical > 100 {
		errs = append(errs, fmt.Errorf("alerts.memory_critical must be in (0, 100], got %v", c.Alerts.MemoryCritical))
	}
	if c.Alerts.MemoryWarning > c.Alerts.MemoryCritical {
		errs = append(errs, fmt.Errorf("alerts.memory_warning (%v) must not exceed alerts.memory_critical (%v)",
			c.Alerts.MemoryWarning, c.Alerts.MemoryCritical))
	}
	if _, err := c.NotifyTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("alerts.notify_timeout: %w", err))
	}
	for i, r := range c.Alerts.Rules {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("alerts.rules[%d].name is required", i))
		}
		if !validMetrics[r.Metric] {
			errs = append(errs, fmt.Errorf("alerts.rules[%d].metric %q is not supported", i, r.Metric))
		}
		if !validOps[r.Op] {
			errs = append(errs, fmt.Errorf("alerts.rules[%d].op %q is not supported", i, r.Op))
		}
		if r.Severity != "" && !validSeverities[r.Severity] {
			errs = append(errs, fmt.Errorf("alerts.rules[%d].severity %q is not supported", i, r.Severity))
		}
	}
	if c.Alerts.Notifiers.Kafka && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("alerts.notifiers.kafka requires kafka.brokers"))
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required when the server is enabled"))
	}
	if c.Server.StaticDir != "" {
		if fi, err := os.Stat(c.Server.StaticDir); err != nil || !fi.IsDir() {
			errs = append(errs, fmt.Errorf("server.static_dir %q is not a directory", c.Server.StaticDir))
		}
	}

	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Errorf("storage.backend must be 'sqlite', 'kafka' or 'none', got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
	}
	if c.Storage.Backend == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("storage backend kafka requires kafka.brokers and kafka.topic"))
	}
	if _, err := time.ParseDuration(c.Storage.BatchTimeout); c.Storage.Backend != "none" && err != nil {
		errs = append(errs, fmt.Errorf("storage.batch_timeout: %w", err))
	}

	if _, err := c.RefreshRate(); c.Dashboard.Enabled && err != nil {
		errs = append(errs, fmt.Errorf("dashboard.refresh_rate: %w", err))
	}

	return errors.Join(errs...)
}

// Interval returns the parsed sampling interval.
func (c *Config) Interval() (time.Duration, error) {
	return positiveDuration(c.Sampler.Interval)
}

// NotifyTimeout returns the parsed per-notifier timeout.
func (c *Config) NotifyTimeout() (time.Duration, error) {
	return positiveDuration(c.Alerts.NotifyTimeout)
}

// RefreshRate returns the parsed dashboard refresh rate.
func (c *Config) RefreshRate() (time.Duration, error) {
	return positiveDuration(c.Dashboard.RefreshRate)
}

// BatchTimeout returns the parsed persistence batch timeout, or 0 when unset.
func (c *Config) BatchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Storage.BatchTimeout)
	if err != nil {
		return 0
	}
	return d
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}
