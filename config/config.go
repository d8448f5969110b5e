package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPollInterval      = 2 * time.Second
	defaultDeviceTimeout     = 5 * time.Second
	defaultNoticeDuration    = 3 * time.Second
	defaultDistancePrecision = 1
	defaultHistoryTable      = "status_readings"
	defaultHistoryBuffer     = 64
	defaultLiveViewListen    = ":18080"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DeviceConfig describes how to reach the gate controller.
type DeviceConfig struct {
	// Host is the address that serves the device page, e.g. "192.168.4.1" or "http://gate.local:8080".
	Host    string   `yaml:"host"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// PollConfig configures the refresh cadence.
type PollConfig struct {
	Interval Duration `yaml:"interval"`
}

// DisplayConfig tunes how snapshots are rendered.
type DisplayConfig struct {
	DistancePrecision *int32   `yaml:"distance_precision,omitempty"`
	NoticeDuration    Duration `yaml:"notice_duration,omitempty"`
}

// ParametersConfig configures the editable parameter form.
type ParametersConfig struct {
	// Schema holds inline CUE constraints applied before a save.
	Schema     string            `yaml:"schema,omitempty"`
	SchemaFile string            `yaml:"schema_file,omitempty"`
	Labels     map[string]string `yaml:"labels,omitempty"`
}

// AlertConfig describes a rule evaluated against every status snapshot.
type AlertConfig struct {
	ID      string `yaml:"id"`
	When    string `yaml:"when"`
	Message string `yaml:"message"`
	Level   string `yaml:"level,omitempty"`
}

// HistoryConfig enables recording of status snapshots into PostgreSQL.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table,omitempty"`
	Buffer  int    `yaml:"buffer,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	File   string     `yaml:"file,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// LiveViewConfig configures the read-only HTTP mirror.
type LiveViewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Config is the root configuration structure for the client.
type Config struct {
	Name       string           `yaml:"name,omitempty"`
	Device     DeviceConfig     `yaml:"device"`
	Poll       PollConfig       `yaml:"poll"`
	Display    DisplayConfig    `yaml:"display"`
	Parameters ParametersConfig `yaml:"parameters"`
	Alerts     []AlertConfig    `yaml:"alerts,omitempty"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	LiveView   LiveViewConfig   `yaml:"live_view"`
	HotReload  bool             `yaml:"hot_reload,omitempty"`

	// Source is the absolute path of the file the configuration was read from.
	Source string `yaml:"-"`
}

// Load reads and decodes the configuration file from disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Source = abs
	if cfg.Parameters.SchemaFile != "" && !filepath.IsAbs(cfg.Parameters.SchemaFile) {
		cfg.Parameters.SchemaFile = filepath.Join(filepath.Dir(abs), cfg.Parameters.SchemaFile)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the client cannot work with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if _, err := c.Device.BaseURL(); err != nil {
		return err
	}
	if c.Poll.Interval.Duration < 0 {
		return fmt.Errorf("poll interval must not be negative")
	}
	if p := c.Display.DistancePrecision; p != nil && (*p < 0 || *p > 6) {
		return fmt.Errorf("distance precision %d out of range 0..6", *p)
	}
	seen := make(map[string]struct{}, len(c.Alerts))
	for i, alert := range c.Alerts {
		id := strings.TrimSpace(alert.ID)
		if id == "" {
			return fmt.Errorf("alert %d: id must not be empty", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate alert %q", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(alert.When) == "" {
			return fmt.Errorf("alert %s: when must not be empty", id)
		}
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return errors.New("history enabled but dsn is empty")
	}
	return nil
}

// BaseURL derives the device base URL from the configured host. A bare host
// is served over plain http, the same way the device page addresses itself.
func (d DeviceConfig) BaseURL() (string, error) {
	host := strings.TrimSpace(d.Host)
	if host == "" {
		return "", errors.New("device host is required")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("parse device host %q: %w", d.Host, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("device host %q has no host part", d.Host)
	}
	return strings.TrimRight(parsed.Scheme+"://"+parsed.Host+parsed.Path, "/"), nil
}

// RequestTimeout returns the per-request transport timeout.
func (d DeviceConfig) RequestTimeout() time.Duration {
	if d.Timeout.Duration <= 0 {
		return defaultDeviceTimeout
	}
	return d.Timeout.Duration
}

// PollInterval returns the configured refresh interval.
func (c *Config) PollInterval() time.Duration {
	if c == nil || c.Poll.Interval.Duration <= 0 {
		return defaultPollInterval
	}
	return c.Poll.Interval.Duration
}

// Precision returns the number of decimals used for the distance reading.
func (d DisplayConfig) Precision() int32 {
	if d.DistancePrecision == nil {
		return defaultDistancePrecision
	}
	return *d.DistancePrecision
}

// NoticeTTL returns how long operator notices stay visible.
func (d DisplayConfig) NoticeTTL() time.Duration {
	if d.NoticeDuration.Duration <= 0 {
		return defaultNoticeDuration
	}
	return d.NoticeDuration.Duration
}

// SchemaSource returns the CUE constraints for parameters, reading schema_file when set.
func (p ParametersConfig) SchemaSource() (string, error) {
	parts := make([]string, 0, 2)
	if p.SchemaFile != "" {
		raw, err := os.ReadFile(p.SchemaFile)
		if err != nil {
			return "", fmt.Errorf("read parameter schema: %w", err)
		}
		parts = append(parts, string(raw))
	}
	if strings.TrimSpace(p.Schema) != "" {
		parts = append(parts, p.Schema)
	}
	return strings.Join(parts, "\n"), nil
}

// TableName returns the history table, defaulting to status_readings.
func (h HistoryConfig) TableName() string {
	if strings.TrimSpace(h.Table) == "" {
		return defaultHistoryTable
	}
	return h.Table
}

// BufferSize returns the number of snapshots queued for the recorder.
func (h HistoryConfig) BufferSize() int {
	if h.Buffer <= 0 {
		return defaultHistoryBuffer
	}
	return h.Buffer
}

// ListenAddress returns the live view listen address.
func (l LiveViewConfig) ListenAddress() string {
	if l.Listen == "" {
		return defaultLiveViewListen
	}
	return l.Listen
}

// SourceFiles returns the files that contributed to the configuration.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make([]string, 0, 2)
	if cfg.Source != "" {
		files = append(files, cfg.Source)
	}
	if cfg.Parameters.SchemaFile != "" {
		files = append(files, cfg.Parameters.SchemaFile)
	}
	return files
}
