// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds the application configuration loaded from MOODLINK_ environment
// variables. DATABASE_URL, when set, selects the postgres credential store
// over sqlite. S3Bucket, when set, selects S3 staging over the local directory.
type Config struct {
	ListenAddr  string `env:"MOODLINK_LISTEN_ADDR" default:"127.0.0.1:8080"`
	DBPath      string `env:"MOODLINK_DB_PATH" default:"moodlink.db"`
	DatabaseURL string `env:"MOODLINK_DATABASE_URL"`
	// SecretKey is 64 hex characters; empty stores credential secrets in cleartext.
	SecretKey string `env:"MOODLINK_SECRET_KEY"`

	PinterestBaseURL string        `env:"MOODLINK_PINTEREST_BASE_URL" default:"https://www.pinterest.com"`
	PinterestAuthURL string        `env:"MOODLINK_PINTEREST_AUTH_URL"`
	PinterestRPS     float64       `env:"MOODLINK_PINTEREST_RPS" default:"2"`
	FeedMaxPages     int           `env:"MOODLINK_FEED_MAX_PAGES" default:"50"`
	FeedTimeout      time.Duration `env:"MOODLINK_FEED_TIMEOUT" default:"2m"`
	// SessionDir holds one cookie file per linked user so sessions survive a
	// restart. Empty keeps sessions in memory only.
	SessionDir string `env:"MOODLINK_SESSION_DIR" default:"sessions"`

	FalKey          string        `env:"MOODLINK_FAL_KEY"`
	FalQueueURL     string        `env:"MOODLINK_FAL_QUEUE_URL" default:"https://queue.fal.run"`
	FalStorageURL   string        `env:"MOODLINK_FAL_STORAGE_URL" default:"https://rest.alpha.fal.ai"`
	FalModel        string        `env:"MOODLINK_FAL_MODEL" default:"fal-ai/alpha-image-232/edit-image"`
	FalPollInterval time.Duration `env:"MOODLINK_FAL_POLL_INTERVAL" default:"1s"`
	EditTimeout     time.Duration `env:"MOODLINK_EDIT_TIMEOUT" default:"5m"`

	StagingDir  string `env:"MOODLINK_STAGING_DIR" default:"uploads"`
	S3Bucket    string `env:"MOODLINK_S3_BUCKET"`
	S3Endpoint  string `env:"MOODLINK_S3_ENDPOINT"`
	S3Region    string `env:"MOODLINK_S3_REGION" default:"us-east-1"`
	S3AccessKey string `env:"MOODLINK_S3_ACCESS_KEY"`
	S3SecretKey string `env:"MOODLINK_S3_SECRET_KEY"`

	LogLevel  string `env:"MOODLINK_LOG_LEVEL" default:"info"`
	LogFormat string `env:"MOODLINK_LOG_FORMAT" default:"text"`
}

// HasFal reports whether image editing is configured.
func (c *Config) HasFal() bool {
	return strings.TrimSpace(c.FalKey) != ""
}

// Load reads an optional .env file, then decodes and validates the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return errors.New("MOODLINK_LISTEN_ADDR must not be empty")
	}
	if cfg.DatabaseURL == "" && cfg.DBPath == "" {
		return errors.New("one of MOODLINK_DB_PATH or MOODLINK_DATABASE_URL is required")
	}

	if cfg.SecretKey != "" {
		key, err := hex.DecodeString(cfg.SecretKey)
		if err != nil {
			return fmt.Errorf("MOODLINK_SECRET_KEY must be valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("MOODLINK_SECRET_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(key))
		}
	}

	for name, raw := range map[string]string{
		"MOODLINK_PINTEREST_BASE_URL": cfg.PinterestBaseURL,
		"MOODLINK_PINTEREST_AUTH_URL": cfg.PinterestAuthURL,
		"MOODLINK_FAL_QUEUE_URL":      cfg.FalQueueURL,
		"MOODLINK_FAL_STORAGE_URL":    cfg.FalStorageURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s has invalid url %q", name, raw)
		}
	}

	if cfg.PinterestRPS < 0 {
		return fmt.Errorf("MOODLINK_PINTEREST_RPS must not be negative, got %v", cfg.PinterestRPS)
	}
	if cfg.FeedMaxPages <= 0 {
		return fmt.Errorf("MOODLINK_FEED_MAX_PAGES must be positive, got %d", cfg.FeedMaxPages)
	}
	for name, d := range map[string]time.Duration{
		"MOODLINK_FEED_TIMEOUT":      cfg.FeedTimeout,
		"MOODLINK_FAL_POLL_INTERVAL": cfg.FalPollInterval,
		"MOODLINK_EDIT_TIMEOUT":      cfg.EditTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if cfg.S3Bucket != "" && (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return errors.New("MOODLINK_S3_ACCESS_KEY and MOODLINK_S3_SECRET_KEY must be set together")
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("MOODLINK_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("MOODLINK_LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	return nil
}
