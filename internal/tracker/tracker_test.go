package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

const inst = domain.InstrumentID("NSE_FO|46051")

func testWindow() domain.TrackingWindow {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return domain.TrackingWindow{
		ID:    "strat-1:lookback",
		Start: start,
		End:   start.Add(time.Hour),
	}
}

func TestFirstSampleInitializes(t *testing.T) {
	b := NewBook()
	w := testWindow()

	st, ok, ev := b.Update(inst, w, 52.40, w.Start.Add(time.Minute))
	require.True(t, ok)
	assert.Nil(t, ev, "first sample must not emit an event")
	assert.Equal(t, 52.40, st.Low)
	assert.Equal(t, 52.40, st.High)
	assert.Equal(t, 52.40, st.FirstPrice)
	assert.Equal(t, int64(1), st.SampleCount)
}

func TestNewLowStrictlyLessThan(t *testing.T) {
	b := NewBook()
	w := testWindow()
	at := w.Start.Add(time.Minute)

	b.Update(inst, w, 52.40, at)

	// Tie: no event.
	st, _, ev := b.Update(inst, w, 52.40, at.Add(time.Second))
	assert.Nil(t, ev)
	assert.Equal(t, 52.40, st.Low)
	assert.Equal(t, int64(2), st.SampleCount)

	// Strictly below: event with the documented drop percentage.
	st, _, ev = b.Update(inst, w, 51.80, at.Add(2*time.Second))
	require.NotNil(t, ev)
	assert.Equal(t, domain.ExtremeNewLow, ev.Kind)
	assert.Equal(t, 52.40, ev.Old)
	assert.Equal(t, 51.80, ev.New)
	assert.InDelta(t, 1.145, ev.DropPercent(), 0.001)
	assert.Equal(t, 51.80, st.Low)
}

func TestNewHighSymmetry(t *testing.T) {
	b := NewBook()
	w := testWindow()
	at := w.Start.Add(time.Minute)

	b.Update(inst, w, 50, at)
	_, _, ev := b.Update(inst, w, 55, at.Add(time.Second))
	require.NotNil(t, ev)
	assert.Equal(t, domain.ExtremeNewHigh, ev.Kind)
	assert.Equal(t, 50.0, ev.Old)
	assert.Equal(t, 55.0, ev.New)
}

func TestLowMonotonicHighMonotonic(t *testing.T) {
	b := NewBook()
	w := testWindow()
	at := w.Start

	prices := []float64{50, 48, 52, 47.5, 47.5, 60, 49, 46, 61}
	low, high := prices[0], prices[0]
	for i, p := range prices {
		st, ok, _ := b.Update(inst, w, p, at.Add(time.Duration(i)*time.Second))
		require.True(t, ok)
		assert.LessOrEqual(t, st.Low, low, "low is non-increasing")
		assert.GreaterOrEqual(t, st.High, high, "high is non-decreasing")
		assert.LessOrEqual(t, st.Low, st.CurrentPrice)
		assert.GreaterOrEqual(t, st.High, st.CurrentPrice)
		low, high = st.Low, st.High
	}
	assert.Equal(t, 46.0, low)
	assert.Equal(t, 61.0, high)
}

func TestOutOfWindowSamplesIgnored(t *testing.T) {
	b := NewBook()
	w := testWindow()

	// Before the window opens: nothing is created.
	_, ok, ev := b.Update(inst, w, 10, w.Start.Add(-time.Second))
	assert.False(t, ok)
	assert.Nil(t, ev)
	assert.Equal(t, 0, b.Len())

	b.Update(inst, w, 50, w.Start)

	// After the window closes the state is frozen.
	st, ok, ev := b.Update(inst, w, 1, w.End.Add(time.Second))
	require.True(t, ok)
	assert.Nil(t, ev)
	assert.Equal(t, 50.0, st.Low)
	assert.Equal(t, int64(1), st.SampleCount)
}

func TestWindowsAreIndependent(t *testing.T) {
	b := NewBook()
	w1 := testWindow()
	w2 := domain.TrackingWindow{ID: "strat-2:lookback", Start: w1.Start, End: w1.End}

	b.Update(inst, w1, 50, w1.Start)
	b.Update(inst, w2, 40, w1.Start)

	st1, ok := b.Get(inst, w1.ID)
	require.True(t, ok)
	st2, ok := b.Get(inst, w2.ID)
	require.True(t, ok)
	assert.Equal(t, 50.0, st1.Low)
	assert.Equal(t, 40.0, st2.Low)

	b.DropWindow(w1.ID)
	_, ok = b.Get(inst, w1.ID)
	assert.False(t, ok)
	_, ok = b.Get(inst, w2.ID)
	assert.True(t, ok)
}

func TestDropPercentUndefinedForZeroOldLow(t *testing.T) {
	ev := domain.ExtremeEvent{Kind: domain.ExtremeNewLow, Old: 0, New: -1}
	assert.Equal(t, 0.0, ev.DropPercent())
}
