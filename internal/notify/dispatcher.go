package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

func encodeEvent(ev domain.NotificationEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// Sender delivers one notification to an external channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev domain.NotificationEvent) error
}

// BusChannel is the signal bus channel notifications are published on.
const BusChannel = "strikewatch:notifications"

// Dispatcher fans notification events out to senders, the append-only store,
// and the signal bus. Publish never blocks: when the queue is full the event
// is dropped and counted, same policy as the tick queue.
type Dispatcher struct {
	logger  *slog.Logger
	senders []Sender
	store   domain.NotificationStore
	bus     domain.SignalBus

	queue   chan domain.NotificationEvent
	dropped atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStore appends every event to the notification log.
func WithStore(store domain.NotificationStore) Option {
	return func(d *Dispatcher) { d.store = store }
}

// WithBus publishes every event on BusChannel for live viewers.
func WithBus(bus domain.SignalBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithSender adds a delivery channel.
func WithSender(s Sender) Option {
	return func(d *Dispatcher) { d.senders = append(d.senders, s) }
}

// NewDispatcher creates a Dispatcher with the given queue bound.
func NewDispatcher(bound int, logger *slog.Logger, opts ...Option) *Dispatcher {
	if bound < 1 {
		bound = 256
	}
	d := &Dispatcher{
		logger: logger.With(slog.String("component", "notify")),
		queue:  make(chan domain.NotificationEvent, bound),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish enqueues an event and returns immediately.
func (d *Dispatcher) Publish(ev domain.NotificationEvent) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification dropped, queue full",
			slog.String("strategy", ev.StrategyID),
			slog.String("kind", string(ev.Kind)))
	}
}

// Dropped returns the number of events lost to the full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run drains the queue until ctx is done, then delivers whatever is already
// queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(context.WithoutCancel(ctx), ev)
				default:
					return nil
				}
			}
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.NotificationEvent) {
	if d.store != nil {
		if err := d.store.Append(ctx, ev); err != nil {
			d.logger.Error("notification store append failed",
				slog.String("id", ev.ID), slog.Any("error", err))
		}
	}
	if d.bus != nil {
		payload, err := encodeEvent(ev)
		if err == nil {
			err = d.bus.Publish(ctx, BusChannel, payload)
		}
		if err != nil {
			d.logger.Error("notification bus publish failed",
				slog.String("id", ev.ID), slog.Any("error", err))
		}
	}
	for _, s := range d.senders {
		if err := s.Send(ctx, ev); err != nil {
			d.logger.Error("notification send failed",
				slog.String("sender", s.Name()),
				slog.String("id", ev.ID),
				slog.Any("error", err))
		}
	}
}
