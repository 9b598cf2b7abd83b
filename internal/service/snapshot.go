// Package service glues the tracking core to its outward surfaces: the
// push-based state snapshot feed and the notification pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/ingest"
)

// SnapshotChannel is the signal bus channel the state snapshot feed
// publishes on.
const SnapshotChannel = "strikewatch:snapshot"

// defaultDebounce coalesces bursts of state changes into one publish.
const defaultDebounce = 250 * time.Millisecond

// StrategySource lists the current strategy snapshots.
type StrategySource interface {
	List() []domain.StrategySnapshot
}

// TickStats exposes the ingest counters.
type TickStats interface {
	Stats() ingest.Stats
}

// DropCounter exposes how many notifications were shed under backpressure.
type DropCounter interface {
	Dropped() int64
}

// DurabilityFlag reports whether checkpointing is currently failing.
type DurabilityFlag interface {
	Degraded() bool
}

// Publisher composes ManagerSnapshots and pushes them on the signal bus
// whenever the tracking core reports a state change. Consumers never poll;
// a change marks the publisher dirty and the next snapshot goes out after
// the debounce window.
type Publisher struct {
	src      StrategySource
	stats    TickStats
	drops    DropCounter
	degraded DurabilityFlag
	bus      domain.SignalBus
	clock    domain.Clock
	logger   *slog.Logger
	debounce time.Duration

	dirty chan struct{}
}

// PublisherOption customises a Publisher.
type PublisherOption func(*Publisher)

// WithDebounce overrides the coalescing window.
func WithDebounce(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.debounce = d }
}

// WithDropCounter wires the notification drop counter into snapshots.
func WithDropCounter(dc DropCounter) PublisherOption {
	return func(p *Publisher) { p.drops = dc }
}

// WithDurabilityFlag wires the checkpoint degradation flag into snapshots.
func WithDurabilityFlag(df DurabilityFlag) PublisherOption {
	return func(p *Publisher) { p.degraded = df }
}

// NewPublisher creates a Publisher. bus may be nil, in which case snapshots
// are still composable via Compose but nothing is pushed.
func NewPublisher(src StrategySource, stats TickStats, bus domain.SignalBus, clock domain.Clock, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		src:      src,
		stats:    stats,
		bus:      bus,
		clock:    clock,
		logger:   logger.With(slog.String("component", "snapshot")),
		debounce: defaultDebounce,
		dirty:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MarkDirty schedules a publish. Safe from any goroutine; calls during the
// debounce window coalesce into the next publish.
func (p *Publisher) MarkDirty() {
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

// Compose builds the current aggregate snapshot.
func (p *Publisher) Compose() domain.ManagerSnapshot {
	snap := domain.ManagerSnapshot{
		At:         p.clock.Now(),
		Strategies: p.src.List(),
	}
	if p.stats != nil {
		st := p.stats.Stats()
		snap.TicksProcessed = st.Processed
		snap.TicksDropped = st.Dropped
		snap.ClockSkewDropped = st.SkewDropped
	}
	if p.drops != nil {
		snap.NotificationsDropped = p.drops.Dropped()
	}
	if p.degraded != nil {
		snap.DurabilityDegraded = p.degraded.Degraded()
	}
	return snap
}

// Run publishes until ctx is cancelled. One final snapshot goes out on
// shutdown when a change is still pending.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			select {
			case <-p.dirty:
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := p.publish(flushCtx); err != nil {
					p.logger.Warn("final snapshot publish failed", slog.Any("error", err))
				}
				cancel()
			default:
			}
			return ctx.Err()
		case <-p.dirty:
			if err := p.publish(ctx); err != nil {
				p.logger.Warn("snapshot publish failed", slog.Any("error", err))
			}
			// Changes arriving inside this window pile into the single
			// buffered dirty slot and produce one follow-up publish.
			select {
			case <-ctx.Done():
			case <-time.After(p.debounce):
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	if p.bus == nil {
		return nil
	}
	snap := p.Compose()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("service: marshal snapshot: %w", err)
	}
	if err := p.bus.Publish(ctx, SnapshotChannel, payload); err != nil {
		return fmt.Errorf("service: publish snapshot: %w", err)
	}
	return nil
}
