// Package config provides configuration for the exporter CLI and the
// shared transport layer. Values load in three layers: built-in defaults,
// an optional JSON file, then environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Export    ExportConfig    `json:"export"`
}

// TransportConfig tunes the shared HTTP layer.
type TransportConfig struct {
	MaxRetries       int    `json:"max_retries" env:"MARKETDATA_MAX_RETRIES"`
	RateLimitSleepMS int    `json:"rate_limit_sleep_ms" env:"MARKETDATA_RATE_LIMIT_SLEEP_MS"`
	HTTPTimeout      string `json:"http_timeout" env:"MARKETDATA_HTTP_TIMEOUT"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `json:"level" env:"MARKETDATA_LOG_LEVEL"`    // debug, info, warn, error
	Format     string `json:"format" env:"MARKETDATA_LOG_FORMAT"`  // json, text
	Output     string `json:"output" env:"MARKETDATA_LOG_OUTPUT"`  // stdout, stderr, file
	FilePath   string `json:"file_path" env:"MARKETDATA_LOG_FILE"` // used when Output is "file"
	MaxSizeMB  int    `json:"max_size_mb" env:"MARKETDATA_LOG_MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"MARKETDATA_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"MARKETDATA_LOG_MAX_AGE_DAYS"`
	Compress   bool   `json:"compress" env:"MARKETDATA_LOG_COMPRESS"`
}

// ExportConfig holds CLI defaults.
type ExportConfig struct {
	Exchange  string `json:"exchange" env:"MARKETDATA_EXCHANGE"`
	OutputDir string `json:"output_dir" env:"MARKETDATA_OUTPUT_DIR"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Transport: TransportConfig{
			MaxRetries:       3,
			RateLimitSleepMS: 100,
			HTTPTimeout:      "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Export: ExportConfig{
			Exchange:  "binance",
			OutputDir: ".",
		},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path, and environment overrides, then validates the result.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	envString("MARKETDATA_LOG_LEVEL", &c.Logging.Level)
	envString("MARKETDATA_LOG_FORMAT", &c.Logging.Format)
	envString("MARKETDATA_LOG_OUTPUT", &c.Logging.Output)
	envString("MARKETDATA_LOG_FILE", &c.Logging.FilePath)
	envInt("MARKETDATA_LOG_MAX_SIZE_MB", &c.Logging.MaxSizeMB)
	envInt("MARKETDATA_LOG_MAX_BACKUPS", &c.Logging.MaxBackups)
	envInt("MARKETDATA_LOG_MAX_AGE_DAYS", &c.Logging.MaxAgeDays)
	envBool("MARKETDATA_LOG_COMPRESS", &c.Logging.Compress)

	envInt("MARKETDATA_MAX_RETRIES", &c.Transport.MaxRetries)
	envInt("MARKETDATA_RATE_LIMIT_SLEEP_MS", &c.Transport.RateLimitSleepMS)
	envString("MARKETDATA_HTTP_TIMEOUT", &c.Transport.HTTPTimeout)

	envString("MARKETDATA_EXCHANGE", &c.Export.Exchange)
	envString("MARKETDATA_OUTPUT_DIR", &c.Export.OutputDir)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks value ranges and enum fields.
func (c *AppConfig) Validate() error {
	if c.Transport.MaxRetries < 1 {
		return fmt.Errorf("transport.max_retries must be at least 1, got %d", c.Transport.MaxRetries)
	}
	if c.Transport.RateLimitSleepMS < 0 {
		return fmt.Errorf("transport.rate_limit_sleep_ms must not be negative, got %d", c.Transport.RateLimitSleepMS)
	}
	if _, err := time.ParseDuration(c.Transport.HTTPTimeout); err != nil {
		return fmt.Errorf("transport.http_timeout: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("logging.file_path is required when logging.output is \"file\"")
		}
	default:
		return fmt.Errorf("logging.output must be stdout, stderr or file, got %q", c.Logging.Output)
	}
	return nil
}

// HTTPTimeoutDuration returns the parsed transport timeout. Validate
// must have accepted the config first.
func (c *AppConfig) HTTPTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Transport.HTTPTimeout)
	return d
}

// RateLimitSleep returns the request spacing as a duration.
func (c *AppConfig) RateLimitSleep() time.Duration {
	return time.Duration(c.Transport.RateLimitSleepMS) * time.Millisecond
}
