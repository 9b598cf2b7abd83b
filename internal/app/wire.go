package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/kunalnaik/strikewatch/internal/blob/s3"
	"github.com/kunalnaik/strikewatch/internal/cache/redis"
	"github.com/kunalnaik/strikewatch/internal/config"
	"github.com/kunalnaik/strikewatch/internal/crypto"
	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/notify"
	"github.com/kunalnaik/strikewatch/internal/platform/upstox"
	"github.com/kunalnaik/strikewatch/internal/resolver"
	"github.com/kunalnaik/strikewatch/internal/store/postgres"
	"github.com/kunalnaik/strikewatch/internal/ticklog"
)

// Dependencies bundles the infrastructure-level dependencies the operating
// modes share. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Clock domain.Clock

	// Stores
	Postgres          *postgres.Client
	StrategyStore     domain.StrategyStore
	NotificationStore domain.NotificationStore

	// Caches and coordination
	Redis       *redis.Client
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	SessionLock domain.SessionLock

	// Blob storage; nil unless s3.enabled.
	S3         *s3blob.Client
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Broker
	Upstox   *upstox.Client
	Catalog  *upstox.Catalog
	Resolver *resolver.Resolver

	// Tick archive and notification pipeline
	TickLog    *ticklog.Log
	Dispatcher *notify.Dispatcher
}

// needsUpstox returns true for modes that run the live tick pipeline and so
// require broker credentials.
func needsUpstox(mode string) bool {
	switch mode {
	case "track", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Clock: domain.SystemClock{}}

	// --- PostgreSQL (checkpoints and the notification log) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Postgres = pgClient
	pool := pgClient.Pool()
	deps.StrategyStore = postgres.NewStrategyStore(pool)
	deps.NotificationStore = postgres.NewNotificationStore(pool)

	// --- Redis (price cache, signal bus, rate limiter, session lock) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.SessionLock = redis.NewSessionLock(redisClient)

	// --- S3-compatible blob storage (only when the archiver is enabled) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Upstox (REST catalog; the token is mandatory only for live modes) ---
	var token string
	if cfg.Upstox.AccessToken != "" || cfg.Upstox.EncryptedTokenPath != "" {
		token, err = crypto.LoadToken(crypto.TokenConfig{
			RawToken:           cfg.Upstox.AccessToken,
			EncryptedTokenPath: cfg.Upstox.EncryptedTokenPath,
			TokenPassword:      cfg.Upstox.TokenPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: broker token: %w", err)
		}
	}
	if token == "" && needsUpstox(cfg.Mode) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: mode %s requires a broker token", cfg.Mode)
	}

	deps.Upstox = upstox.NewClient(cfg.Upstox.BaseURL, token, deps.RateLimiter, cfg.Upstox.RateLimitPerSecond)
	deps.Catalog = upstox.NewCatalog(deps.Upstox, deps.Clock, logger, 0)
	deps.Resolver = resolver.New(deps.Catalog)

	// --- Tick archive ---
	deps.TickLog = ticklog.New(cfg.Ingest.TickLogSize, logger)

	// --- Notification pipeline ---
	kinds := make([]domain.NotificationKind, 0, len(cfg.Notify.Events))
	for _, ev := range cfg.Notify.Events {
		kinds = append(kinds, domain.NotificationKind(ev))
	}
	opts := []notify.Option{
		notify.WithStore(deps.NotificationStore),
		notify.WithBus(deps.SignalBus),
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		sender := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		opts = append(opts, notify.WithSender(notify.NewFilteredSender(sender, kinds...)))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		sender := notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL)
		opts = append(opts, notify.WithSender(notify.NewFilteredSender(sender, kinds...)))
	}
	deps.Dispatcher = notify.NewDispatcher(cfg.Notify.QueueBound, logger, opts...)

	return deps, cleanup, nil
}
