package config_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veritas/pkg/config"
)

var envKeys = []string{
	"VERITAS_LOG_LEVEL",
	"VERITAS_LOG_FORMAT",
	"VERITAS_OTEL_ENABLED",
	"VERITAS_OTEL_ENDPOINT",
	"VERITAS_OTEL_INSECURE",
	"VERITAS_OTEL_SAMPLE_RATE",
	"VERITAS_ENVIRONMENT",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, config.FormatText, cfg.LogFormat)
	assert.False(t, cfg.OTel.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTel.Endpoint)
	assert.Equal(t, 1.0, cfg.OTel.SampleRate)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VERITAS_LOG_LEVEL", "debug")
	t.Setenv("VERITAS_LOG_FORMAT", "json")
	t.Setenv("VERITAS_OTEL_ENABLED", "true")
	t.Setenv("VERITAS_OTEL_ENDPOINT", "collector:4317")
	t.Setenv("VERITAS_OTEL_INSECURE", "true")
	t.Setenv("VERITAS_OTEL_SAMPLE_RATE", "0.25")
	t.Setenv("VERITAS_ENVIRONMENT", "ci")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.FormatJSON, cfg.LogFormat)

	oc := cfg.Observability()
	assert.True(t, oc.Enabled)
	assert.True(t, oc.Insecure)
	assert.Equal(t, "collector:4317", oc.OTLPEndpoint)
	assert.Equal(t, 0.25, oc.SampleRate)
	assert.Equal(t, "ci", oc.Environment)
	assert.Equal(t, "1.0.0", oc.ServiceVersion)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct{ key, value string }{
		{"VERITAS_LOG_LEVEL", "LOUD"},
		{"VERITAS_LOG_FORMAT", "xml"},
		{"VERITAS_OTEL_SAMPLE_RATE", "2"},
		{"VERITAS_OTEL_ENABLED", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{LogLevel: "WARN", LogFormat: "json"}
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	cfg = &config.Config{LogLevel: "bogus", LogFormat: "text"}
	cfg.Logger(&buf).Info("fallback")
	assert.Contains(t, buf.String(), "msg=fallback")
}
