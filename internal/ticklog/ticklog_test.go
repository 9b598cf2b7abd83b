package ticklog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func tickAt(price float64, at time.Time) domain.Tick {
	return domain.Tick{Instrument: "NSE_FO|26200CE", Price: price, ExchangeTS: at, ReceivedTS: at}
}

func fill(t *testing.T, l *Log, base time.Time, prices ...float64) {
	t.Helper()
	for i, p := range prices {
		require.NoError(t, l.HandleTick(context.Background(), tickAt(p, base.Add(time.Duration(i)*time.Minute))))
	}
}

func TestReplayWindowed(t *testing.T) {
	l := New(0, discard())
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	fill(t, l, base, 1, 2, 3, 4, 5)

	var got []float64
	err := l.Replay(context.Background(), base.Add(time.Minute), base.Add(3*time.Minute), func(tk domain.Tick) error {
		got = append(got, tk.Price)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, got, "bounds are inclusive")
}

func TestReplayStopsOnError(t *testing.T) {
	l := New(0, discard())
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	fill(t, l, base, 1, 2, 3)

	calls := 0
	err := l.Replay(context.Background(), base, base.Add(time.Hour), func(tk domain.Tick) error {
		calls++
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestReadFromCursor(t *testing.T) {
	l := New(0, discard())
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	fill(t, l, base, 1, 2, 3)

	ticks, next := l.ReadFrom(0, 2)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1.0, ticks[0].Price)
	assert.Equal(t, int64(2), next)

	ticks, next = l.ReadFrom(next, 10)
	require.Len(t, ticks, 1)
	assert.Equal(t, 3.0, ticks[0].Price)
	assert.Equal(t, int64(3), next)

	// Caught up: nothing to read, cursor stable.
	ticks, next = l.ReadFrom(next, 10)
	assert.Empty(t, ticks)
	assert.Equal(t, int64(3), next)
}

func TestTrimBeforeKeepsCursorsStable(t *testing.T) {
	l := New(0, discard())
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	fill(t, l, base, 1, 2, 3, 4)

	dropped := l.TrimBefore(base.Add(2 * time.Minute))
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 2, l.Len())

	// A pre-trim cursor resumes at the oldest retained tick, never re-reads.
	ticks, next := l.ReadFrom(0, 10)
	require.Len(t, ticks, 2)
	assert.Equal(t, 3.0, ticks[0].Price)
	assert.Equal(t, int64(4), next)

	assert.Equal(t, 0, l.TrimBefore(base))
}

func TestCapacityEvictsOldest(t *testing.T) {
	l := New(3, discard())
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	fill(t, l, base, 1, 2, 3, 4, 5)

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, int64(2), l.Evicted())

	ticks, _ := l.ReadFrom(0, 10)
	require.Len(t, ticks, 3)
	assert.Equal(t, 3.0, ticks[0].Price)
	assert.Equal(t, 5.0, ticks[2].Price)
}
