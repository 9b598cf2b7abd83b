// Package checkpoint periodically persists the live strategy set so a
// restart resumes without replaying tick history. Write failures are retried
// with exponential backoff and are never fatal to live tracking; while
// writes keep failing the checkpointer reports degraded durability, which
// the snapshot feed surfaces to viewers.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// Source provides the state to persist. The strategy manager satisfies it.
type Source interface {
	List() []domain.StrategySnapshot
}

// Config tunes the checkpointer.
type Config struct {
	// Interval between checkpoint cycles. Defaults to 30s.
	Interval time.Duration
	// MaxRetryElapsed bounds the retry budget of one cycle so cycles never
	// pile up. Defaults to Interval.
	MaxRetryElapsed time.Duration
}

// Checkpointer drives the periodic save loop.
type Checkpointer struct {
	cfg    Config
	store  domain.StrategyStore
	source Source
	logger *slog.Logger

	degraded atomic.Bool
}

// New creates a Checkpointer.
func New(cfg Config, store domain.StrategyStore, source Source, logger *slog.Logger) *Checkpointer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = cfg.Interval
	}
	return &Checkpointer{
		cfg:    cfg,
		store:  store,
		source: source,
		logger: logger.With(slog.String("component", "checkpoint")),
	}
}

// Degraded reports whether the last checkpoint cycle ultimately failed.
func (c *Checkpointer) Degraded() bool {
	return c.degraded.Load()
}

// Restore loads the checkpointed strategy set.
func (c *Checkpointer) Restore(ctx context.Context) ([]domain.StrategySnapshot, error) {
	snaps, err := c.store.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: restore: %w", err)
	}
	return snaps, nil
}

// Run checkpoints on every interval until ctx is done, then writes one final
// checkpoint so a clean shutdown loses nothing.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.MaxRetryElapsed)
			defer cancel()
			if err := c.CheckpointNow(flushCtx); err != nil {
				c.logger.Error("final checkpoint failed", slog.Any("error", err))
			}
			return nil
		case <-ticker.C:
			if err := c.CheckpointNow(ctx); err != nil {
				c.logger.Error("checkpoint cycle failed, durability degraded",
					slog.Any("error", err))
			}
		}
	}
}

// CheckpointNow saves the current strategy set, retrying transient failures
// with exponential backoff within the cycle's retry budget.
func (c *Checkpointer) CheckpointNow(ctx context.Context) error {
	snaps := c.source.List()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	deadline := time.Now().Add(c.cfg.MaxRetryElapsed)
	var lastErr error
	for attempt := 1; ; attempt++ {
		err := c.store.SaveAll(ctx, snaps)
		if err == nil {
			c.degraded.Store(false)
			c.logger.Debug("checkpoint written",
				slog.Int("strategies", len(snaps)),
				slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop || time.Now().Add(sleep).After(deadline) {
			break
		}
		c.logger.Warn("checkpoint write failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("sleep", sleep),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			c.degraded.Store(true)
			return fmt.Errorf("checkpoint: save: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}

	c.degraded.Store(true)
	return fmt.Errorf("checkpoint: save: %w", lastErr)
}
