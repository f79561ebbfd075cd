package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Transport.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RateLimitSleep())
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeoutDuration())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"transport": {"max_retries": 5, "rate_limit_sleep_ms": 250, "http_timeout": "10s"},
		"logging": {"level": "debug", "format": "json", "output": "stdout"},
		"export": {"exchange": "okx", "output_dir": "/tmp/data"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Transport.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimitSleep())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "okx", cfg.Export.Exchange)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MARKETDATA_LOG_LEVEL", "warn")
	t.Setenv("MARKETDATA_MAX_RETRIES", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Transport.MaxRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"zero retries", func(c *AppConfig) { c.Transport.MaxRetries = 0 }},
		{"negative sleep", func(c *AppConfig) { c.Transport.RateLimitSleepMS = -1 }},
		{"bad timeout", func(c *AppConfig) { c.Transport.HTTPTimeout = "fast" }},
		{"bad level", func(c *AppConfig) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *AppConfig) { c.Logging.Format = "xml" }},
		{"file output without path", func(c *AppConfig) { c.Logging.Output = "file" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
