// Package config loads the optional gitfolio CLI configuration file and
// applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultServerURL = "https://gitfolio.dev"

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the root CLI configuration.
type Config struct {
	ServerURL          string
	LogLevel           string
	HTTPTimeout        time.Duration
	InsecureSkipVerify bool
	Telemetry          TelemetryConfig
	Tracing            TracingConfig
}

// TelemetryConfig configures the fire-and-forget merge report.
type TelemetryConfig struct {
	Enabled bool
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool
	SampleRatio float64
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the config file at path. A missing file is not an error:
// it yields the defaults, since the config file is optional.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return Load(file)
}

// ApplyEnv overlays environment variables onto a loaded configuration.
func ApplyEnv(cfg *Config) {
	if serverURL := strings.TrimSpace(os.Getenv("GITFOLIO_SERVER_URL")); serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if level := strings.TrimSpace(os.Getenv("GITFOLIO_LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}
	if insecure := strings.TrimSpace(os.Getenv("GITFOLIO_INSECURE")); insecure == "1" || strings.EqualFold(insecure, "true") {
		cfg.InsecureSkipVerify = true
	}
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, "log_level must be one of debug|info|warn|error")
	}
	if strings.TrimSpace(c.ServerURL) == "" {
		errs = append(errs, "server_url is required")
	} else if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		errs = append(errs, "server_url must start with http:// or https://")
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, "http_timeout must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sample_ratio must be in [0,1]")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

type rawConfig struct {
	ServerURL          string       `yaml:"server_url"`
	LogLevel           string       `yaml:"log_level"`
	HTTPTimeout        duration     `yaml:"http_timeout"`
	InsecureSkipVerify bool         `yaml:"insecure_skip_verify"`
	Telemetry          rawTelemetry `yaml:"telemetry"`
	Tracing            rawTracing   `yaml:"tracing"`
}

type rawTelemetry struct {
	Enabled bool `yaml:"enabled"`
}

type rawTracing struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		ServerURL:          r.ServerURL,
		LogLevel:           r.LogLevel,
		HTTPTimeout:        r.HTTPTimeout.Duration,
		InsecureSkipVerify: r.InsecureSkipVerify,
		Telemetry: TelemetryConfig{
			Enabled: r.Telemetry.Enabled,
		},
		Tracing: TracingConfig{
			Enabled:     r.Tracing.Enabled,
			SampleRatio: r.Tracing.SampleRatio,
		},
	}
}
