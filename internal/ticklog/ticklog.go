// Package ticklog keeps the in-process tick archive. It backs strategy
// previews, mid-lookback backfill, and the blob archiver's upload cursor.
// Retention policy: ticks older than the oldest live strategy's lookback
// start can be trimmed; nothing downstream ever needs them again.
package ticklog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// Log is an append-only, bounded, in-memory tick sequence. Every appended
// tick gets a monotonically increasing sequence number that survives trims,
// so readers can keep stable cursors.
type Log struct {
	logger *slog.Logger

	mu      sync.RWMutex
	ticks   []domain.Tick
	baseSeq int64 // sequence number of ticks[0]
	cap     int
	evicted int64
}

// New creates a Log bounded to capacity ticks; beyond it the oldest ticks
// are evicted. Capacity below 1 falls back to a day's worth of conflated
// ticks for a full watch set.
func New(capacity int, logger *slog.Logger) *Log {
	if capacity < 1 {
		capacity = 1 << 20
	}
	return &Log{
		logger: logger.With(slog.String("component", "ticklog")),
		cap:    capacity,
	}
}

// HandleTick appends one tick. Shaped as an ingest subscriber.
func (l *Log) HandleTick(ctx context.Context, tick domain.Tick) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ticks) >= l.cap {
		drop := len(l.ticks) - l.cap + 1
		l.ticks = l.ticks[drop:]
		l.baseSeq += int64(drop)
		l.evicted += int64(drop)
	}
	l.ticks = append(l.ticks, tick)
	return nil
}

// Replay invokes fn for every archived tick whose exchange timestamp falls
// in [from, to], in arrival order. fn returning an error stops the replay.
func (l *Log) Replay(ctx context.Context, from, to time.Time, fn func(domain.Tick) error) error {
	l.mu.RLock()
	ticks := append([]domain.Tick(nil), l.ticks...)
	l.mu.RUnlock()

	for _, tk := range ticks {
		if tk.ExchangeTS.Before(from) || tk.ExchangeTS.After(to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(tk); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrom returns ticks with sequence number >= seq (capped at limit) plus
// the next cursor. A cursor older than the trim horizon resumes at the
// oldest retained tick.
func (l *Log) ReadFrom(seq int64, limit int) ([]domain.Tick, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq < l.baseSeq {
		seq = l.baseSeq
	}
	start := int(seq - l.baseSeq)
	if start >= len(l.ticks) {
		return nil, l.baseSeq + int64(len(l.ticks))
	}
	end := len(l.ticks)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := append([]domain.Tick(nil), l.ticks[start:end]...)
	return out, l.baseSeq + int64(end)
}

// TrimBefore drops ticks with exchange timestamp strictly before cutoff and
// returns how many went.
func (l *Log) TrimBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := 0
	for i < len(l.ticks) && l.ticks[i].ExchangeTS.Before(cutoff) {
		i++
	}
	if i == 0 {
		return 0
	}
	l.ticks = append([]domain.Tick(nil), l.ticks[i:]...)
	l.baseSeq += int64(i)
	l.logger.Debug("tick log trimmed", slog.Int("dropped", i), slog.Time("cutoff", cutoff))
	return i
}

// Len reports the number of retained ticks.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ticks)
}

// Evicted reports how many ticks were lost to the capacity bound.
func (l *Log) Evicted() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}
