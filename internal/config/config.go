// Package config defines the top-level configuration for the tracker and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by STRIKEWATCH_* environment
// variables.
type Config struct {
	Upstox     UpstoxConfig     `toml:"upstox"`
	Market     MarketConfig     `toml:"market"`
	Ingest     IngestConfig     `toml:"ingest"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// UpstoxConfig holds broker API endpoints and credentials.
type UpstoxConfig struct {
	BaseURL            string `toml:"base_url"`
	FeedURL            string `toml:"feed_url"`
	AccessToken        string `toml:"access_token"`
	EncryptedTokenPath string `toml:"encrypted_token_path"`
	TokenPassword      string `toml:"token_password"`
	RateLimitPerSecond int    `toml:"rate_limit_per_second"`
}

// MarketConfig holds exchange session parameters.
type MarketConfig struct {
	Timezone    string `toml:"timezone"`
	MarketClose string `toml:"market_close"` // "HH:MM" exchange-local
}

// IngestConfig holds tick pipeline parameters.
type IngestConfig struct {
	Workers       int      `toml:"workers"`
	QueueBound    int      `toml:"queue_bound"`
	SkewTolerance duration `toml:"skew_tolerance"`
	TickLogSize   int      `toml:"tick_log_size"`
}

// TrackerConfig holds engine-wide tracking parameters.
type TrackerConfig struct {
	Retention           duration `toml:"retention"`
	AdvanceInterval     duration `toml:"advance_interval"`
	NearTargetThreshold float64  `toml:"near_target_threshold"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	SweepInterval  duration `toml:"sweep_interval"`
	ChunkSize      int      `toml:"chunk_size"`
}

// CheckpointConfig holds durability parameters.
type CheckpointConfig struct {
	Interval duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials and routing.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueBound        int      `toml:"queue_bound"`
	// Retention bounds the notification history; zero disables pruning.
	Retention duration `toml:"retention"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Upstox: UpstoxConfig{
			BaseURL:            "https://api.upstox.com/v2",
			FeedURL:            "wss://api.upstox.com/v2/feed/market-data-feed",
			RateLimitPerSecond: 25,
		},
		Market: MarketConfig{
			Timezone:    "Asia/Kolkata",
			MarketClose: "15:30",
		},
		Ingest: IngestConfig{
			Workers:       4,
			QueueBound:    1024,
			SkewTolerance: duration{0},
			TickLogSize:   1 << 20,
		},
		Tracker: TrackerConfig{
			Retention:           duration{time.Hour},
			AdvanceInterval:     duration{time.Second},
			NearTargetThreshold: 15.0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "strikewatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "strikewatch-data",
			UseSSL:         false,
			ForcePathStyle: true,
			SweepInterval:  duration{5 * time.Minute},
			ChunkSize:      5000,
		},
		Checkpoint: CheckpointConfig{
			Interval: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events:     []string{"NEW_LOW", "NEAR_TARGET", "STOP_LOSS_HIT"},
			QueueBound: 256,
			Retention:  duration{7 * 24 * time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"track":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: track, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Upstox credentials are only needed when live tracking runs.
	needsToken := c.Mode == "track" || c.Mode == "full"
	if needsToken {
		if c.Upstox.AccessToken == "" && c.Upstox.EncryptedTokenPath == "" {
			errs = append(errs, "upstox: either access_token or encrypted_token_path must be set for mode "+c.Mode)
		}
		if c.Upstox.EncryptedTokenPath != "" && c.Upstox.TokenPassword == "" {
			errs = append(errs, "upstox: token_password is required when encrypted_token_path is set")
		}
	}
	if c.Upstox.BaseURL == "" {
		errs = append(errs, "upstox: base_url must not be empty")
	}
	if needsToken && c.Upstox.FeedURL == "" {
		errs = append(errs, "upstox: feed_url must not be empty for mode "+c.Mode)
	}
	if c.Upstox.RateLimitPerSecond < 1 {
		errs = append(errs, "upstox: rate_limit_per_second must be >= 1")
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("market: unknown timezone %q", c.Market.Timezone))
	}
	if !validHHMM(c.Market.MarketClose) {
		errs = append(errs, fmt.Sprintf("market: market_close must be HH:MM, got %q", c.Market.MarketClose))
	}

	if c.Ingest.Workers < 1 {
		errs = append(errs, "ingest: workers must be >= 1")
	}
	if c.Ingest.QueueBound < 1 {
		errs = append(errs, "ingest: queue_bound must be >= 1")
	}
	if c.Ingest.SkewTolerance.Duration < 0 {
		errs = append(errs, "ingest: skew_tolerance must not be negative")
	}

	if c.Tracker.AdvanceInterval.Duration <= 0 {
		errs = append(errs, "tracker: advance_interval must be positive")
	}
	if c.Tracker.NearTargetThreshold <= 0 {
		errs = append(errs, "tracker: near_target_threshold must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ChunkSize < 1 {
			errs = append(errs, "s3: chunk_size must be >= 1")
		}
	}

	if c.Checkpoint.Interval.Duration <= 0 {
		errs = append(errs, "checkpoint: interval must be positive")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Notify.QueueBound < 1 {
		errs = append(errs, "notify: queue_bound must be >= 1")
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}
	if c.Notify.Retention.Duration < 0 {
		errs = append(errs, "notify: retention must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validHHMM reports whether s parses as a 24h "HH:MM" wall-clock time.
func validHHMM(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
