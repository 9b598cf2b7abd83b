package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// defaultPruneInterval is how often the retention pass runs.
const defaultPruneInterval = time.Hour

// Pruner periodically deletes notification history older than the retention
// horizon, keeping the log bounded across long-running deployments.
type Pruner struct {
	store     domain.NotificationStore
	retention time.Duration
	interval  time.Duration
	clock     domain.Clock
	logger    *slog.Logger
}

// NewPruner creates a Pruner. interval <= 0 uses the default hourly pass.
func NewPruner(store domain.NotificationStore, retention, interval time.Duration, clock domain.Clock, logger *slog.Logger) *Pruner {
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		clock:     clock,
		logger:    logger.With(slog.String("component", "notify")),
	}
}

// Run prunes on every interval until ctx is done. Failures are logged and
// retried on the next pass; the log growing for another hour is harmless.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.PruneOnce(ctx); err != nil {
				p.logger.Warn("notification prune failed", slog.Any("error", err))
			}
		}
	}
}

// PruneOnce deletes every event older than the retention horizon.
func (p *Pruner) PruneOnce(ctx context.Context) error {
	cutoff := p.clock.Now().Add(-p.retention)
	deleted, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("notify: prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		p.logger.Info("notification history pruned",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
