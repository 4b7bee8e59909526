// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port                  string
	FrontendURL           string
	BackendURL            string
	BackendConnectTimeout time.Duration
	HealthCheckTimeout    time.Duration
	DBPath                string
	AllowedOrigins        []string
	Transcript            TranscriptConfig
	Archive               ArchiveConfig
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ArchiveConfig controls the SQLite turn archive.
type ArchiveConfig struct {
	Enabled   bool
	Retention time.Duration
}

// fileConfig is the optional YAML overlay. Unset fields keep their defaults;
// environment variables still win.
type fileConfig struct {
	Port           *string  `yaml:"port"`
	FrontendURL    *string  `yaml:"frontend_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Backend        struct {
		URL            *string `yaml:"url"`
		ConnectTimeout *string `yaml:"connect_timeout"`
	} `yaml:"backend"`
	Transcript struct {
		Enabled   *bool   `yaml:"enabled"`
		Dir       *string `yaml:"dir"`
		QueueSize *int    `yaml:"queue_size"`
	} `yaml:"transcript"`
	Archive struct {
		Enabled   *bool   `yaml:"enabled"`
		DBPath    *string `yaml:"db_path"`
		Retention *string `yaml:"retention"`
	} `yaml:"archive"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                  "8080",
		BackendURL:            "http://localhost:8000",
		BackendConnectTimeout: 10 * time.Second,
		HealthCheckTimeout:    5 * time.Second,
		DBPath:                "./data/chat.db",
		Transcript: TranscriptConfig{
			Enabled:   true,
			Dir:       "./data/logs/transcripts",
			QueueSize: 1000,
		},
		Archive: ArchiveConfig{
			Enabled:   true,
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from the optional CHAT_CONFIG_FILE overlay and
// then from environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CHAT_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.FrontendURL, fc.FrontendURL)
	setString(&c.BackendURL, fc.Backend.URL)
	setString(&c.Transcript.Dir, fc.Transcript.Dir)
	setString(&c.DBPath, fc.Archive.DBPath)
	if fc.Transcript.Enabled != nil {
		c.Transcript.Enabled = *fc.Transcript.Enabled
	}
	if fc.Transcript.QueueSize != nil {
		c.Transcript.QueueSize = *fc.Transcript.QueueSize
	}
	if fc.Archive.Enabled != nil {
		c.Archive.Enabled = *fc.Archive.Enabled
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if err := setDuration(&c.BackendConnectTimeout, fc.Backend.ConnectTimeout, "backend.connect_timeout"); err != nil {
		return err
	}
	return setDuration(&c.Archive.Retention, fc.Archive.Retention, "archive.retention")
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.BackendConnectTimeout = getEnvDuration("BACKEND_CONNECT_TIMEOUT", c.BackendConnectTimeout)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.Transcript.Enabled = getEnvBool("TRANSCRIPT_LOG_ENABLED", c.Transcript.Enabled)
	c.Transcript.Dir = getEnv("TRANSCRIPT_LOG_DIR", c.Transcript.Dir)
	c.Transcript.QueueSize = getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", c.Transcript.QueueSize)
	c.Archive.Enabled = getEnvBool("ARCHIVE_ENABLED", c.Archive.Enabled)
	c.Archive.Retention = getEnvDuration("ARCHIVE_RETENTION", c.Archive.Retention)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if len(c.AllowedOrigins) == 0 && c.FrontendURL != "" {
		c.AllowedOrigins = []string{c.FrontendURL}
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if c.BackendConnectTimeout <= 0 {
		return fmt.Errorf("BACKEND_CONNECT_TIMEOUT must be > 0")
	}
	if c.Archive.Enabled {
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
		if c.Archive.Retention <= 0 {
			return fmt.Errorf("ARCHIVE_RETENTION must be > 0")
		}
	}
	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("config file %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
