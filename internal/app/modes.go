package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/kunalnaik/strikewatch/internal/blob/s3"
	"github.com/kunalnaik/strikewatch/internal/checkpoint"
	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/feed"
	"github.com/kunalnaik/strikewatch/internal/ingest"
	"github.com/kunalnaik/strikewatch/internal/notify"
	"github.com/kunalnaik/strikewatch/internal/server"
	"github.com/kunalnaik/strikewatch/internal/server/handler"
	"github.com/kunalnaik/strikewatch/internal/server/ws"
	"github.com/kunalnaik/strikewatch/internal/service"
	"github.com/kunalnaik/strikewatch/internal/strategy"
	"github.com/kunalnaik/strikewatch/internal/ticklog"
)

const (
	// sessionTTL bounds how long a crashed tracker can hold the
	// trading-day lock before another process may take over.
	sessionTTL = 12 * time.Hour

	// subscriptionSyncInterval drives the watch-set diff against the feed.
	subscriptionSyncInterval = 5 * time.Second

	// trimInterval drives the tick log retention pass.
	trimInterval = time.Minute
)

// core bundles the tracking engine built per mode: the strategy manager, the
// checkpoint loop, and the snapshot publisher.
type core struct {
	manager      *strategy.Manager
	checkpointer *checkpoint.Checkpointer
	publisher    *service.Publisher
	location     *time.Location
}

// managerSource breaks the construction cycle between the manager (whose
// hooks need the publisher) and the publisher and checkpointer (whose
// snapshots need the manager). The manager is assigned right after it is
// built, before any goroutine starts.
type managerSource struct {
	m *strategy.Manager
}

func (s *managerSource) List() []domain.StrategySnapshot {
	if s.m == nil {
		return nil
	}
	return s.m.List()
}

// buildCore constructs the strategy manager with its checkpoint and snapshot
// plumbing. stats may be nil for modes without a live tick pipeline.
func (a *App) buildCore(deps *Dependencies, stats service.TickStats) (*core, error) {
	loc, err := time.LoadLocation(a.cfg.Market.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: market timezone: %w", err)
	}

	src := &managerSource{}
	checkpointer := checkpoint.New(checkpoint.Config{
		Interval: a.cfg.Checkpoint.Interval.Duration,
	}, deps.StrategyStore, src, a.logger)

	publisher := service.NewPublisher(src, stats, deps.SignalBus, deps.Clock, a.logger,
		service.WithDropCounter(deps.Dispatcher),
		service.WithDurabilityFlag(checkpointer),
	)

	hooks := service.Hooks(deps.Dispatcher, publisher, deps.Clock, a.cfg.Tracker.NearTargetThreshold)

	manager, err := strategy.NewManager(strategy.Config{
		MarketClose:     a.cfg.Market.MarketClose,
		Location:        loc,
		Retention:       a.cfg.Tracker.Retention.Duration,
		AdvanceInterval: a.cfg.Tracker.AdvanceInterval.Duration,
	}, deps.Resolver, deps.Catalog, deps.TickLog, deps.Clock, a.logger, hooks)
	if err != nil {
		return nil, fmt.Errorf("app: strategy manager: %w", err)
	}
	src.m = manager

	return &core{
		manager:      manager,
		checkpointer: checkpointer,
		publisher:    publisher,
		location:     loc,
	}, nil
}

// restore seeds the manager from the last checkpoint. A failed restore is
// logged and the process starts with an empty strategy set.
func (a *App) restore(ctx context.Context, c *core) {
	snaps, err := c.checkpointer.Restore(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "checkpoint restore failed, starting empty",
			slog.Any("error", err))
		return
	}
	c.manager.Restore(snaps)
}

// TrackMode runs the headless live pipeline: feed, ingest, strategy engine,
// notifications, checkpointing, and archival. No HTTP surface.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode")

	ing := a.newIngestor(deps)
	c, err := a.buildCore(deps, ing)
	if err != nil {
		return err
	}
	a.restore(ctx, c)

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTracking(ctx, g, deps, c, ing); err != nil {
		return err
	}
	a.startCoreLoops(ctx, g, deps, c)
	return g.Wait()
}

// ServerMode serves the API and dashboard over restored state without a live
// feed. Checkpoints are not written; the live tracker owns durability.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(deps, nil)
	if err != nil {
		return err
	}
	a.restore(ctx, c)

	g, ctx := errgroup.WithContext(ctx)
	a.startCoreLoops(ctx, g, deps, c)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs the live pipeline and the API server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	ing := a.newIngestor(deps)
	c, err := a.buildCore(deps, ing)
	if err != nil {
		return err
	}
	a.restore(ctx, c)

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTracking(ctx, g, deps, c, ing); err != nil {
		return err
	}
	a.startCoreLoops(ctx, g, deps, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	return g.Wait()
}

func (a *App) newIngestor(deps *Dependencies) *ingest.Ingestor {
	return ingest.New(ingest.Config{
		Workers:       a.cfg.Ingest.Workers,
		QueueBound:    a.cfg.Ingest.QueueBound,
		SkewTolerance: a.cfg.Ingest.SkewTolerance.Duration,
	}, a.logger, deps.Clock)
}

// startCoreLoops runs the engine goroutines common to every mode: the phase
// timer, the snapshot publisher, and the notification dispatcher.
func (a *App) startCoreLoops(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	g.Go(func() error { return c.manager.Run(ctx) })
	g.Go(func() error { return c.publisher.Run(ctx) })
	g.Go(func() error { return deps.Dispatcher.Run(ctx) })
}

// startTracking acquires the trading-day session lock and starts the live
// tick pipeline: feed into ingest into manager, tick log, and price cache,
// plus the subscription syncer, checkpoint loop, retention passes, and the
// blob archiver when object storage is wired.
func (a *App) startTracking(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core, ing *ingest.Ingestor) error {
	day := deps.Clock.Now().In(c.location).Format("2006-01-02")
	release, err := deps.SessionLock.Acquire(ctx, "tracker:"+day, sessionTTL)
	if err != nil {
		return fmt.Errorf("app: session lock for %s: %w", day, err)
	}
	g.Go(func() error {
		<-ctx.Done()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			a.logger.Warn("session lock release failed", slog.Any("error", err))
		}
		return nil
	})

	ing.Subscribe(c.manager.HandleTick)
	ing.Subscribe(deps.TickLog.HandleTick)
	ing.Subscribe(func(ctx context.Context, tick domain.Tick) error {
		return deps.PriceCache.SetPrice(ctx, tick.Instrument, tick.Price, tick.ExchangeTS)
	})
	g.Go(func() error { return ing.Run(ctx) })

	feedClient := feed.NewClient(a.feedURL(deps), ing, deps.Clock, a.logger)
	g.Go(func() error { return feedClient.Run(ctx) })
	g.Go(func() error { return a.syncSubscriptions(ctx, c.manager, feedClient) })

	// Single checkpoint writer, guarded by the session lock above.
	g.Go(func() error { return c.checkpointer.Run(ctx) })

	g.Go(func() error { return a.trimTickLog(ctx, c.manager, deps.TickLog) })

	if a.cfg.Notify.Retention.Duration > 0 {
		pruner := notify.NewPruner(deps.NotificationStore, a.cfg.Notify.Retention.Duration, 0, deps.Clock, a.logger)
		g.Go(func() error { return pruner.Run(ctx) })
	}

	if deps.BlobWriter != nil {
		arch := s3blob.NewArchiver(s3blob.ArchiverConfig{
			Interval:  a.cfg.S3.SweepInterval.Duration,
			ChunkSize: a.cfg.S3.ChunkSize,
		}, deps.BlobWriter, deps.TickLog, c.manager, a.logger)
		g.Go(func() error { return arch.Run(ctx) })
	}

	return nil
}

// feedURL returns the websocket URL provider. Feed URLs are single-use, so
// each (re)connect asks the broker for a fresh authorized URL, falling back
// to the configured static URL when authorization fails.
func (a *App) feedURL(deps *Dependencies) feed.URLProvider {
	return func(ctx context.Context) (string, error) {
		url, err := deps.Upstox.AuthorizeFeed(ctx)
		if err != nil {
			if a.cfg.Upstox.FeedURL != "" {
				a.logger.WarnContext(ctx, "feed authorize failed, using configured feed url",
					slog.Any("error", err))
				return a.cfg.Upstox.FeedURL, nil
			}
			return "", err
		}
		return url, nil
	}
}

// syncSubscriptions keeps the feed subscription aligned with the union of
// every live strategy's watch set. Wire failures are logged and recovered by
// the feed client's resubscribe-on-reconnect.
func (a *App) syncSubscriptions(ctx context.Context, m *strategy.Manager, fc *feed.Client) error {
	ticker := time.NewTicker(subscriptionSyncInterval)
	defer ticker.Stop()

	current := make(map[domain.InstrumentID]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			want := m.WatchedInstruments()
			wanted := make(map[domain.InstrumentID]bool, len(want))
			var add []domain.InstrumentID
			for _, id := range want {
				wanted[id] = true
				if !current[id] {
					add = append(add, id)
				}
			}
			var remove []domain.InstrumentID
			for id := range current {
				if !wanted[id] {
					remove = append(remove, id)
				}
			}

			if len(add) > 0 {
				if err := fc.Subscribe(add...); err != nil {
					a.logger.WarnContext(ctx, "feed subscribe failed",
						slog.Int("instruments", len(add)), slog.Any("error", err))
				}
			}
			if len(remove) > 0 {
				if err := fc.Unsubscribe(remove...); err != nil {
					a.logger.WarnContext(ctx, "feed unsubscribe failed",
						slog.Int("instruments", len(remove)), slog.Any("error", err))
				}
			}
			current = wanted
		}
	}
}

// trimTickLog drops ticks older than the oldest live strategy's lookback
// start. With no live strategies the log is left alone so previews keep
// their history.
func (a *App) trimTickLog(ctx context.Context, m *strategy.Manager, log *ticklog.Log) error {
	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var cutoff time.Time
			for _, snap := range m.List() {
				if snap.Phase.Terminal() {
					continue
				}
				if cutoff.IsZero() || snap.LookbackStart.Before(cutoff) {
					cutoff = snap.LookbackStart
				}
			}
			if cutoff.IsZero() {
				continue
			}
			log.TrimBefore(cutoff)
		}
	}
}

// startHTTPServer adds the API server and websocket hub goroutines to the
// errgroup and shuts the server down when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	checks := []handler.Check{
		{Name: "redis", Probe: deps.Redis.Ping},
		{Name: "postgres", Probe: func(ctx context.Context) error {
			return deps.Postgres.Pool().Ping(ctx)
		}},
	}
	if deps.S3 != nil {
		checks = append(checks, handler.Check{Name: "s3", Probe: deps.S3.Health})
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(a.logger, checks...),
		Strategies:    handler.NewStrategyHandler(c.manager, a.logger),
		Snapshot:      handler.NewSnapshotHandler(c.publisher, a.logger),
		Notifications: handler.NewNotificationsHandler(deps.NotificationStore, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
