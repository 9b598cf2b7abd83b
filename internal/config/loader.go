package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STRIKEWATCH_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STRIKEWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Upstox
	setStr(&cfg.Upstox.BaseURL, "STRIKEWATCH_UPSTOX_BASE_URL")
	setStr(&cfg.Upstox.FeedURL, "STRIKEWATCH_UPSTOX_FEED_URL")
	setStr(&cfg.Upstox.AccessToken, "STRIKEWATCH_UPSTOX_ACCESS_TOKEN")
	setStr(&cfg.Upstox.EncryptedTokenPath, "STRIKEWATCH_UPSTOX_ENCRYPTED_TOKEN_PATH")
	setStr(&cfg.Upstox.TokenPassword, "STRIKEWATCH_UPSTOX_TOKEN_PASSWORD")
	setInt(&cfg.Upstox.RateLimitPerSecond, "STRIKEWATCH_UPSTOX_RATE_LIMIT_PER_SECOND")

	// Market
	setStr(&cfg.Market.Timezone, "STRIKEWATCH_MARKET_TIMEZONE")
	setStr(&cfg.Market.MarketClose, "STRIKEWATCH_MARKET_CLOSE")

	// Ingest
	setInt(&cfg.Ingest.Workers, "STRIKEWATCH_INGEST_WORKERS")
	setInt(&cfg.Ingest.QueueBound, "STRIKEWATCH_INGEST_QUEUE_BOUND")
	setDuration(&cfg.Ingest.SkewTolerance, "STRIKEWATCH_INGEST_SKEW_TOLERANCE")
	setInt(&cfg.Ingest.TickLogSize, "STRIKEWATCH_INGEST_TICK_LOG_SIZE")

	// Tracker
	setDuration(&cfg.Tracker.Retention, "STRIKEWATCH_TRACKER_RETENTION")
	setDuration(&cfg.Tracker.AdvanceInterval, "STRIKEWATCH_TRACKER_ADVANCE_INTERVAL")
	setFloat64(&cfg.Tracker.NearTargetThreshold, "STRIKEWATCH_TRACKER_NEAR_TARGET_THRESHOLD")

	// Postgres
	setStr(&cfg.Postgres.DSN, "STRIKEWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "STRIKEWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STRIKEWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STRIKEWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STRIKEWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STRIKEWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STRIKEWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STRIKEWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STRIKEWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STRIKEWATCH_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "STRIKEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STRIKEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STRIKEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STRIKEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STRIKEWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STRIKEWATCH_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "STRIKEWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STRIKEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STRIKEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "STRIKEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STRIKEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STRIKEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STRIKEWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STRIKEWATCH_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.SweepInterval, "STRIKEWATCH_S3_SWEEP_INTERVAL")
	setInt(&cfg.S3.ChunkSize, "STRIKEWATCH_S3_CHUNK_SIZE")

	// Checkpoint
	setDuration(&cfg.Checkpoint.Interval, "STRIKEWATCH_CHECKPOINT_INTERVAL")

	// Server
	setBool(&cfg.Server.Enabled, "STRIKEWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STRIKEWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STRIKEWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "STRIKEWATCH_SERVER_API_KEY")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "STRIKEWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STRIKEWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STRIKEWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STRIKEWATCH_NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueBound, "STRIKEWATCH_NOTIFY_QUEUE_BOUND")
	setDuration(&cfg.Notify.Retention, "STRIKEWATCH_NOTIFY_RETENTION")

	// Top-level
	setStr(&cfg.Mode, "STRIKEWATCH_MODE")
	setStr(&cfg.LogLevel, "STRIKEWATCH_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
