package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Account  AccountConfig  `yaml:"account"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

type RemoteConfig struct {
	APIURL             string        `yaml:"api_url"`
	GraphQLURL         string        `yaml:"graphql_url"`
	Token              string        `yaml:"token"`
	PrimaryHost        bool          `yaml:"primary_host"` // false for enterprise installs
	PerPage            int           `yaml:"per_page"`
	Timeout            time.Duration `yaml:"timeout"`
	TimelineEnrichment bool          `yaml:"timeline_enrichment"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
}

type AccountConfig struct {
	Login string `yaml:"login"`
}

type SyncConfig struct {
	Interval            time.Duration `yaml:"interval"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	IntervalStep        time.Duration `yaml:"interval_step"`
	FirstCycleMaxPages  int           `yaml:"first_cycle_max_pages"`
	MaxResults          int           `yaml:"max_results"`
	MaxQueryLength      int           `yaml:"max_query_length"`
	MaxItems            int           `yaml:"max_items"`
	OldItemPolicy       bool          `yaml:"old_item_policy"`
	OldItemThreshold    time.Duration `yaml:"old_item_threshold"`
	SelfUpdateTolerance time.Duration `yaml:"self_update_tolerance"`
	CorrectionDelay     time.Duration `yaml:"correction_delay"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	TokenSecret   string `yaml:"token_secret"`
	TokenDuration string `yaml:"token_duration"` // e.g. "720h"
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(c.Account.Login) == "" {
		return fmt.Errorf("account.login must be configured (ISSUESTREAM_LOGIN)")
	}
	if strings.TrimSpace(c.Remote.Token) == "" {
		return fmt.Errorf("remote.token must be configured (ISSUESTREAM_GITHUB_TOKEN)")
	}
	if c.Auth.TokenSecret == "" || c.Auth.TokenSecret == "change-me-in-production" {
		return fmt.Errorf("ISSUESTREAM_TOKEN_SECRET must be set to a non-default value")
	}
	if len(c.Auth.TokenSecret) < 16 {
		return fmt.Errorf("ISSUESTREAM_TOKEN_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.TokenSecret))
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.MaxItems <= 0 {
		return fmt.Errorf("sync.max_items must be positive")
	}
	if c.Sync.MaxResults <= 0 {
		return fmt.Errorf("sync.max_results must be positive")
	}
	if c.Sync.SelfUpdateTolerance < 0 || c.Sync.SelfUpdateTolerance > time.Second {
		return fmt.Errorf("sync.self_update_tolerance must be between 0 and 1s (got %s)", c.Sync.SelfUpdateTolerance)
	}
	return nil
}

// SlogLevel maps log.level onto slog levels; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "issuestream.db",
		},
		Remote: RemoteConfig{
			APIURL:      "https://api.github.com",
			GraphQLURL:  "https://api.github.com/graphql",
			PrimaryHost: true,
			PerPage:     100,
			Timeout:     30 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          2 * time.Minute,
				FailureThreshold: 0.8,
				MinRequests:      5,
			},
		},
		Sync: SyncConfig{
			Interval:            10 * time.Second,
			MaxInterval:         time.Minute,
			IntervalStep:        time.Second,
			FirstCycleMaxPages:  1,
			MaxResults:          1000,
			MaxQueryLength:      256,
			MaxItems:            10000,
			OldItemPolicy:       false,
			OldItemThreshold:    30 * 24 * time.Hour,
			SelfUpdateTolerance: time.Second,
			CorrectionDelay:     time.Second,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3017,
		},
		Auth: AuthConfig{
			TokenSecret:   "change-me-in-production",
			TokenDuration: "720h",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ISSUESTREAM_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ISSUESTREAM_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ISSUESTREAM_API_URL"); v != "" {
		cfg.Remote.APIURL = strings.TrimRight(strings.TrimSpace(v), "/")
	}
	if v := os.Getenv("ISSUESTREAM_GRAPHQL_URL"); v != "" {
		cfg.Remote.GraphQLURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("ISSUESTREAM_GITHUB_TOKEN"); v != "" {
		cfg.Remote.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("ISSUESTREAM_PRIMARY_HOST"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Remote.PrimaryHost = enabled
		}
	}
	if v := os.Getenv("ISSUESTREAM_LOGIN"); v != "" {
		cfg.Account.Login = strings.TrimSpace(v)
	}
	if v := os.Getenv("ISSUESTREAM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sync.Interval = d
		}
	}
	if v := os.Getenv("ISSUESTREAM_MAX_ITEMS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.Sync.MaxItems = value
		}
	}
	if v := os.Getenv("ISSUESTREAM_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ISSUESTREAM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("ISSUESTREAM_TOKEN_SECRET"); v != "" {
		cfg.Auth.TokenSecret = v
	}
	if v := os.Getenv("ISSUESTREAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ISSUESTREAM_LOG_FILE"); v != "" {
		cfg.Log.File = strings.TrimSpace(v)
	}
}
