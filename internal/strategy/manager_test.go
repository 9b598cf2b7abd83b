package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeResolver struct {
	instruments []domain.Instrument
	err         error
}

func (f *fakeResolver) Resolve(ctx context.Context, index domain.Index, spot float64, asOf time.Time) ([]domain.Instrument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instruments, nil
}

type fakeSpot struct{ spot float64 }

func (f *fakeSpot) SpotPrice(ctx context.Context, index domain.Index) (float64, error) {
	return f.spot, nil
}

type fakeHistory struct{ ticks []domain.Tick }

func (f *fakeHistory) Replay(ctx context.Context, from, to time.Time, fn func(domain.Tick) error) error {
	for _, tk := range f.ticks {
		if tk.ExchangeTS.Before(from) || tk.ExchangeTS.After(to) {
			continue
		}
		if err := fn(tk); err != nil {
			return err
		}
	}
	return nil
}

type hookRecorder struct {
	mu       sync.Mutex
	extremes []domain.ExtremeEvent
	stops    []domain.StrategySnapshot
	changes  int
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnExtreme: func(ev domain.ExtremeEvent, snap domain.StrategySnapshot) {
			h.mu.Lock()
			h.extremes = append(h.extremes, ev)
			h.mu.Unlock()
		},
		OnStopLoss: func(snap domain.StrategySnapshot, tick domain.Tick) {
			h.mu.Lock()
			h.stops = append(h.stops, snap)
			h.mu.Unlock()
		},
		OnChange: func() {
			h.mu.Lock()
			h.changes++
			h.mu.Unlock()
		},
	}
}

var ist = time.FixedZone("IST", 5*3600+1800)

func niftyInstruments() []domain.Instrument {
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, ist)
	mk := func(strike float64, ot domain.OptionType) domain.Instrument {
		return domain.Instrument{
			ID:         domain.InstrumentID(fmt.Sprintf("NSE_FO|%.0f%s", strike, ot)),
			Index:      domain.IndexNifty,
			Expiry:     expiry,
			Strike:     strike,
			OptionType: ot,
		}
	}
	return []domain.Instrument{mk(26200, domain.OptionCall), mk(26250, domain.OptionCall)}
}

func at(h, m int) time.Time {
	return time.Date(2026, 8, 24, h, m, 0, 0, ist)
}

func newTestManager(t *testing.T, clock *fakeClock, history TickHistory, hooks Hooks) *Manager {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	m, err := NewManager(
		Config{MarketClose: "15:30", Location: ist, Retention: time.Hour},
		&fakeResolver{instruments: niftyInstruments()},
		&fakeSpot{spot: 26224},
		history,
		clock,
		logger,
		hooks,
	)
	require.NoError(t, err)
	return m
}

func baseConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		Index:           domain.IndexNifty,
		EntryTime:       "11:00",
		LookbackMinutes: 60,
		TargetPremium:   50,
		StopLossPercent: 50,
	}
}

func tick(id domain.InstrumentID, price float64, ts time.Time) domain.Tick {
	return domain.Tick{Instrument: id, Price: price, ExchangeTS: ts, ReceivedTS: ts}
}

func TestLifecycleEndToEnd(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	rec := &hookRecorder{}
	m := newTestManager(t, clock, nil, rec.hooks())
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	snap, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePending, snap.Phase)

	// 10:00, lookback opens and candidate ticks arrive.
	clock.set(at(10, 0))
	m.AdvanceAll(clock.Now())
	snap, _ = m.Get(id)
	assert.Equal(t, domain.PhaseLookback, snap.Phase)

	ce200 := niftyInstruments()[0].ID
	ce250 := niftyInstruments()[1].ID
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))
	require.NoError(t, m.HandleTick(ctx, tick(ce250, 53.10, at(10, 5))))

	snap, _ = m.Get(id)
	require.Len(t, snap.Candidates, 2)

	// 11:00, entry: 48.75 is nearer to 50 than 53.10.
	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())
	snap, _ = m.Get(id)
	assert.Equal(t, domain.PhaseMonitoring, snap.Phase)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, ce200, *snap.Selected)
	assert.Equal(t, 48.75, snap.EntryPrice)

	// Stop-loss breach: (24 - 48.75) / 48.75 * 100 < -50.
	clock.set(at(11, 30))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 24.00, at(11, 30))))
	snap, _ = m.Get(id)
	assert.Equal(t, domain.PhaseCompleted, snap.Phase)
	assert.True(t, snap.StopLossHit)
	require.Len(t, rec.stops, 1)
	assert.Equal(t, id, rec.stops[0].ID)
}

func TestEntrySelectionTieBreakKeepsResolverOrder(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	ce200 := niftyInstruments()[0].ID
	ce250 := niftyInstruments()[1].ID
	clock.set(at(10, 0))
	// Lows 48 and 52 are both exactly 2 from target 50.
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48, at(10, 5))))
	require.NoError(t, m.HandleTick(ctx, tick(ce250, 52, at(10, 5))))

	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())
	snap, _ := m.Get(id)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, ce200, *snap.Selected, "exact tie keeps the earlier resolver order")
}

func TestEntryPriceIsLivePriceAtEntry(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	ce200 := niftyInstruments()[0].ID
	clock.set(at(10, 0))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))
	// The low stays 48.75 but the price recovers before entry.
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 51.20, at(10, 45))))

	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())
	snap, _ := m.Get(id)
	assert.Equal(t, 51.20, snap.EntryPrice, "entry uses the live price, not the low")
}

func TestPhasesNeverMoveBackward(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	ce200 := niftyInstruments()[0].ID
	clock.set(at(10, 0))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))
	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())

	// A stale timer pass with an earlier now must not regress the phase.
	m.AdvanceAll(at(10, 30))
	snap, _ := m.Get(id)
	assert.Equal(t, domain.PhaseMonitoring, snap.Phase)
}

func TestSelectedAssignedExactlyOnce(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	ce200 := niftyInstruments()[0].ID
	ce250 := niftyInstruments()[1].ID
	clock.set(at(10, 0))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))

	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())
	snap, _ := m.Get(id)
	require.NotNil(t, snap.Selected)
	first := *snap.Selected

	// Later ticks that would have changed the lookback ranking are inert:
	// the other candidate is no longer routed and entry never re-runs.
	require.NoError(t, m.HandleTick(ctx, tick(ce250, 50.00, at(11, 5))))
	m.AdvanceAll(clock.Now())
	snap, _ = m.Get(id)
	assert.Equal(t, first, *snap.Selected)

	// Config updates after entry are rejected.
	err = m.UpdateConfig(ctx, id, baseConfig())
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestMarketCloseCompletes(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	ce200 := niftyInstruments()[0].ID
	clock.set(at(10, 0))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))
	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())

	clock.set(at(15, 30))
	m.AdvanceAll(clock.Now())
	snap, _ := m.Get(id)
	assert.Equal(t, domain.PhaseCompleted, snap.Phase)
	assert.False(t, snap.StopLossHit)
}

func TestNoCandidateTicksCompletesWithoutEntry(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})

	id, err := m.Create(context.Background(), baseConfig())
	require.NoError(t, err)

	clock.set(at(11, 0))
	m.AdvanceAll(clock.Now())
	snap, _ := m.Get(id)
	assert.Equal(t, domain.PhaseCompleted, snap.Phase)
	assert.Nil(t, snap.Selected)
}

func TestRemove(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	require.NoError(t, m.Remove(id))
	snap, err := m.Get(id)
	require.NoError(t, err, "cancelled strategies stay visible until the retention purge")
	assert.Equal(t, domain.PhaseCancelled, snap.Phase)
	assert.Empty(t, m.WatchedInstruments(), "removal stops the tick routing")

	// Ticks after removal are inert.
	ce200 := niftyInstruments()[0].ID
	clock.set(at(10, 0))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))
	snap, _ = m.Get(id)
	assert.Equal(t, int64(0), snap.Candidates[0].Samples)

	// The retention purge drops it from the set.
	clock.set(at(12, 0))
	m.AdvanceAll(clock.Now())
	_, err = m.Get(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, m.Remove("nope"), domain.ErrNotFound)
}

func TestRemoveSurvivesRestart(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})

	id, err := m.Create(context.Background(), baseConfig())
	require.NoError(t, err)
	require.NoError(t, m.Remove(id))

	// The checkpoint written after removal carries the CANCELLED phase, so a
	// restart skips it instead of re-arming the pre-removal state.
	snaps := m.List()
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.PhaseCancelled, snaps[0].Phase)

	m2 := newTestManager(t, clock, nil, Hooks{})
	assert.Equal(t, 0, m2.Restore(snaps))
	_, err = m2.Get(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRejectsPastEntry(t *testing.T) {
	clock := &fakeClock{now: at(11, 30)}
	m := newTestManager(t, clock, nil, Hooks{})

	_, err := m.Create(context.Background(), baseConfig())
	require.Error(t, err)
}

func TestCreateMidLookbackBackfills(t *testing.T) {
	ce200 := niftyInstruments()[0].ID
	hist := &fakeHistory{ticks: []domain.Tick{
		tick(ce200, 47.10, at(10, 10)),
		tick(ce200, 49.90, at(10, 20)),
	}}
	clock := &fakeClock{now: at(10, 30)}
	m := newTestManager(t, clock, hist, Hooks{})

	id, err := m.Create(context.Background(), baseConfig())
	require.NoError(t, err)

	snap, _ := m.Get(id)
	assert.Equal(t, domain.PhaseLookback, snap.Phase)
	require.Len(t, snap.Candidates, 2)
	assert.Equal(t, 47.10, snap.Candidates[0].Low)
	assert.Equal(t, 49.90, snap.Candidates[0].LTP)
	assert.Equal(t, int64(0), snap.Candidates[1].Samples, "the untraded candidate stays listed")
}

func TestPreviewDoesNotTouchLiveSet(t *testing.T) {
	ce200 := niftyInstruments()[0].ID
	ce250 := niftyInstruments()[1].ID
	hist := &fakeHistory{ticks: []domain.Tick{
		tick(ce200, 48.75, at(10, 5)),
		tick(ce250, 53.10, at(10, 6)),
	}}
	clock := &fakeClock{now: at(11, 15)}
	m := newTestManager(t, clock, hist, Hooks{})

	snap, err := m.Preview(context.Background(), baseConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseMonitoring, snap.Phase)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, ce200, *snap.Selected)
	assert.Empty(t, m.List(), "preview must not register anything")
}

func TestValidateConfigCollectsProblems(t *testing.T) {
	err := ValidateConfig(domain.StrategyConfig{
		Index:           "DAX",
		EntryTime:       "25:99",
		LookbackMinutes: 0,
		TargetPremium:   -1,
		StopLossPercent: 150,
	})
	require.Error(t, err)
	for _, want := range []string{"index", "entry_time", "lookback_minutes", "target_premium", "stop_loss_percent"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	clock := &fakeClock{now: at(9, 45)}
	m := newTestManager(t, clock, nil, Hooks{})
	ctx := context.Background()

	id, err := m.Create(ctx, baseConfig())
	require.NoError(t, err)

	ce200 := niftyInstruments()[0].ID
	clock.set(at(10, 0))
	require.NoError(t, m.HandleTick(ctx, tick(ce200, 48.75, at(10, 5))))
	snaps := m.List()
	require.Len(t, snaps, 1)

	// Fresh manager, as after a restart.
	m2 := newTestManager(t, clock, nil, Hooks{})
	require.Equal(t, 1, m2.Restore(snaps))

	got, err := m2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLookback, got.Phase)
	require.Len(t, got.Candidates, 2)
	assert.Equal(t, 48.75, got.Candidates[0].Low)

	// The restored strategy keeps tracking live ticks.
	require.NoError(t, m2.HandleTick(ctx, tick(ce200, 47.00, at(10, 10))))
	got, _ = m2.Get(id)
	assert.Equal(t, 47.00, got.Candidates[0].Low)

	clock.set(at(11, 0))
	m2.AdvanceAll(clock.Now())
	got, _ = m2.Get(id)
	assert.Equal(t, domain.PhaseMonitoring, got.Phase)
	require.NotNil(t, got.Selected)
	assert.Equal(t, ce200, *got.Selected)
}
