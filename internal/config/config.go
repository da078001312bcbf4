// Package config loads service configuration from a YAML file with
// environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Template TemplateConfig `yaml:"template"`
	ESign    ESignConfig    `yaml:"esign"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures the SQLite task store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen"`
}

// TemplateConfig configures workflow template loading.
type TemplateConfig struct {
	// Dir holds CUE template files. Empty means the built-in
	// equity-donation template only.
	Dir string `yaml:"dir"`
}

// ESignConfig configures the e-signature provider integration.
type ESignConfig struct {
	// BaseURL is the provider's REST API root. Empty disables document
	// fetching; completions then proceed without a signed document ref.
	BaseURL string `yaml:"base_url"`
	// Token authenticates provider API calls.
	Token string `yaml:"token"`
	// ArtifactDir is where fetched signed documents are stored.
	ArtifactDir string `yaml:"artifact_dir"`

	// Retry bounds for document fetches.
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	// ScanLimit caps the last-resort correlation scan.
	ScanLimit int `yaml:"scan_limit"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns a Config with working defaults for local use.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "taskflow.db"},
		HTTP:     HTTPConfig{Listen: ":8080"},
		ESign: ESignConfig{
			ArtifactDir:       "artifacts",
			MaxAttempts:       3,
			BackoffBase:       500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			ScanLimit:         200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.ESign.MaxAttempts < 1 {
		return fmt.Errorf("esign.max_attempts must be at least 1")
	}
	if c.ESign.ScanLimit < 1 {
		return fmt.Errorf("esign.scan_limit must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Load reads the YAML file at path (when it exists), applies environment
// overrides, and validates the result. A missing file is not an error:
// defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnv layers TASKFLOW_* environment variables over the file values.
func (c *Config) applyEnv() {
	setString(&c.Database.Path, "TASKFLOW_DB_PATH")
	setString(&c.HTTP.Listen, "TASKFLOW_HTTP_LISTEN")
	setString(&c.Template.Dir, "TASKFLOW_TEMPLATE_DIR")
	setString(&c.ESign.BaseURL, "TASKFLOW_ESIGN_BASE_URL")
	setString(&c.ESign.Token, "TASKFLOW_ESIGN_TOKEN")
	setString(&c.ESign.ArtifactDir, "TASKFLOW_ESIGN_ARTIFACT_DIR")
	setInt(&c.ESign.MaxAttempts, "TASKFLOW_ESIGN_MAX_ATTEMPTS")
	setInt(&c.ESign.ScanLimit, "TASKFLOW_ESIGN_SCAN_LIMIT")
	setString(&c.Log.Level, "TASKFLOW_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
