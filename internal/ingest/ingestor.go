// Package ingest decouples the market-feed transport from tracker
// computation. Ingest only enqueues and returns; worker goroutines drain
// partitioned, conflating queues and fan ticks out to subscribers.
//
// Ordering contract: all ticks for one instrument land in one partition and
// are delivered to every subscriber in arrival order. Ordering across
// instruments is not guaranteed. When a tick arrives for an instrument that
// already has an undelivered tick queued, the older one is replaced
// (last-value-wins) and the dropped counter increments, so a tick is never
// lost silently.
package ingest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// Handler consumes one tick. Errors are logged and isolated to the tick
// being processed; they never stop the ingest path.
type Handler func(ctx context.Context, tick domain.Tick) error

// Config tunes the ingestor.
type Config struct {
	// Workers is the partition/worker count. Minimum 1.
	Workers int
	// QueueBound caps the number of distinct instruments queued per
	// partition; beyond it the oldest queued tick in the partition is
	// dropped to admit the new one.
	QueueBound int
	// SkewTolerance is the maximum |receipt - exchange| timestamp gap
	// before a tick is discarded as clock skew. Zero disables the check.
	SkewTolerance time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.QueueBound < 1 {
		c.QueueBound = 1024
	}
	return c
}

// Stats is a point-in-time read of the ingestor counters.
type Stats struct {
	Processed   int64
	Dropped     int64
	SkewDropped int64
}

// Ingestor fans ticks out to subscribers through per-partition worker
// goroutines. Subscribe before Run; Ingest is safe from any goroutine.
type Ingestor struct {
	cfg    Config
	logger *slog.Logger
	clock  domain.Clock

	partitions []*partition
	handlers   []Handler
	running    atomic.Bool

	processed   atomic.Int64
	dropped     atomic.Int64
	skewDropped atomic.Int64
}

// New creates an Ingestor. A nil clock falls back to the system clock.
func New(cfg Config, logger *slog.Logger, clock domain.Clock) *Ingestor {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = domain.SystemClock{}
	}
	ing := &Ingestor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ingest")),
		clock:  clock,
	}
	ing.partitions = make([]*partition, cfg.Workers)
	for i := range ing.partitions {
		ing.partitions[i] = newPartition(cfg.QueueBound)
	}
	return ing
}

// Subscribe registers a handler for every delivered tick. Must be called
// before Run.
func (ing *Ingestor) Subscribe(h Handler) {
	if ing.running.Load() {
		panic("ingest: Subscribe after Run")
	}
	ing.handlers = append(ing.handlers, h)
}

// Ingest enqueues one tick and returns immediately. It never blocks on
// downstream consumers.
func (ing *Ingestor) Ingest(tick domain.Tick) {
	if tick.ReceivedTS.IsZero() {
		tick.ReceivedTS = ing.clock.Now()
	}
	if tol := ing.cfg.SkewTolerance; tol > 0 {
		skew := tick.ReceivedTS.Sub(tick.ExchangeTS)
		if skew < 0 {
			skew = -skew
		}
		if skew > tol {
			ing.skewDropped.Add(1)
			ing.logger.Debug("tick dropped for clock skew",
				slog.String("instrument", string(tick.Instrument)),
				slog.Duration("skew", skew))
			return
		}
	}

	p := ing.partitions[partitionFor(tick.Instrument, len(ing.partitions))]
	if evicted := p.put(tick); evicted > 0 {
		ing.dropped.Add(int64(evicted))
	}
}

// Run drains the partitions until ctx is done. Handler failures are logged
// and never returned; Run itself returns nil on context cancellation.
func (ing *Ingestor) Run(ctx context.Context) error {
	ing.running.Store(true)
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range ing.partitions {
		g.Go(func() error {
			return ing.drain(ctx, i, p)
		})
	}
	return g.Wait()
}

// Stats returns the current counter values.
func (ing *Ingestor) Stats() Stats {
	return Stats{
		Processed:   ing.processed.Load(),
		Dropped:     ing.dropped.Load(),
		SkewDropped: ing.skewDropped.Load(),
	}
}

func (ing *Ingestor) drain(ctx context.Context, worker int, p *partition) error {
	for {
		tick, ok := p.take()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.notify:
				continue
			}
		}
		ing.dispatch(ctx, worker, tick)
	}
}

func (ing *Ingestor) dispatch(ctx context.Context, worker int, tick domain.Tick) {
	for _, h := range ing.handlers {
		if err := h(ctx, tick); err != nil {
			ing.logger.Error("tick handler failed",
				slog.Int("worker", worker),
				slog.String("instrument", string(tick.Instrument)),
				slog.Any("error", err))
		}
	}
	ing.processed.Add(1)
}

func partitionFor(id domain.InstrumentID, n int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	// Reduce in uint32 space; int(Sum32()) overflows negative on 32-bit.
	return int(h.Sum32() % uint32(n))
}

// partition is a conflating queue: at most one pending tick per instrument,
// FIFO across instruments. put replaces an existing pending tick in place so
// the instrument keeps its queue position.
type partition struct {
	mu      sync.Mutex
	bound   int
	pending map[domain.InstrumentID]domain.Tick
	order   []domain.InstrumentID
	notify  chan struct{}
}

func newPartition(bound int) *partition {
	return &partition{
		bound:   bound,
		pending: make(map[domain.InstrumentID]domain.Tick),
		notify:  make(chan struct{}, 1),
	}
}

// put enqueues the tick and reports how many queued ticks it displaced.
func (p *partition) put(tick domain.Tick) (evicted int) {
	p.mu.Lock()
	if _, ok := p.pending[tick.Instrument]; ok {
		evicted++
	} else {
		if len(p.order) >= p.bound {
			oldest := p.order[0]
			p.order = p.order[1:]
			delete(p.pending, oldest)
			evicted++
		}
		p.order = append(p.order, tick.Instrument)
	}
	p.pending[tick.Instrument] = tick
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return evicted
}

// take pops the oldest queued tick, if any.
func (p *partition) take() (domain.Tick, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return domain.Tick{}, false
	}
	id := p.order[0]
	p.order = p.order[1:]
	tick := p.pending[id]
	delete(p.pending, id)
	return tick, true
}
