// Package config holds the runtime knobs of the veritas CLI. Kernel
// identity is never configurable; see package versioning.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/Mindburn-Labs/veritas/pkg/observability"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel  string `env:"VERITAS_LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"VERITAS_LOG_FORMAT" envDefault:"text"`
	OTel      OTel
}

// OTel configures telemetry export.
type OTel struct {
	Enabled     bool    `env:"VERITAS_OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"VERITAS_OTEL_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"VERITAS_OTEL_INSECURE" envDefault:"false"`
	SampleRate  float64 `env:"VERITAS_OTEL_SAMPLE_RATE" envDefault:"1.0"`
	Environment string  `env:"VERITAS_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the log settings and sample rate.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid VERITAS_LOG_FORMAT %q: want text or json", c.LogFormat)
	}
	if c.OTel.SampleRate < 0 || c.OTel.SampleRate > 1 {
		return fmt.Errorf("invalid VERITAS_OTEL_SAMPLE_RATE %v: want 0.0 to 1.0", c.OTel.SampleRate)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid VERITAS_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger builds a logger writing to w in the configured format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Observability maps the OTel settings onto a provider config.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = versioning.Current().KernelVersion
	oc.Environment = c.OTel.Environment
	oc.OTLPEndpoint = c.OTel.Endpoint
	oc.SampleRate = c.OTel.SampleRate
	oc.Enabled = c.OTel.Enabled
	oc.Insecure = c.OTel.Insecure
	return oc
}
