package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateWithToken(t *testing.T) {
	cfg := Defaults()
	cfg.Upstox.AccessToken = "token"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "race"
	cfg.LogLevel = "loud"
	cfg.Market.Timezone = "Mars/Olympus"
	cfg.Market.MarketClose = "25:99"
	cfg.Ingest.Workers = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mode", "log_level", "timezone", "market_close", "workers", "redis"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateServerModeNeedsNoToken(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestValidateEncryptedTokenNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Upstox.EncryptedTokenPath = "/etc/strikewatch/token.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_password")
}

func TestValidateS3OnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Upstox.AccessToken = "token"
	cfg.S3.Bucket = ""
	require.NoError(t, cfg.Validate())

	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "track"

[upstox]
access_token = "file-token"

[ingest]
workers        = 8
skew_tolerance = "2s"

[server]
port = 9100
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "track", cfg.Mode)
	assert.Equal(t, "file-token", cfg.Upstox.AccessToken)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 2*time.Second, cfg.Ingest.SkewTolerance.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, "Asia/Kolkata", cfg.Market.Timezone)
	assert.Equal(t, 1024, cfg.Ingest.QueueBound)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "track"`), 0o600))

	t.Setenv("STRIKEWATCH_MODE", "server")
	t.Setenv("STRIKEWATCH_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("STRIKEWATCH_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STRIKEWATCH_CHECKPOINT_INTERVAL", "45s")
	t.Setenv("STRIKEWATCH_S3_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 45*time.Second, cfg.Checkpoint.Interval.Duration)
	assert.True(t, cfg.S3.Enabled)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Upstox.AccessToken = "token"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tg"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Upstox.AccessToken)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// The original must stay intact.
	assert.Equal(t, "token", cfg.Upstox.AccessToken)

	// Mutating the redacted copy's slices must not leak back.
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
