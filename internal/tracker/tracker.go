// Package tracker maintains running low/high statistics per (instrument,
// window) key and emits an event when a sample strictly beats the current
// extreme. Keys are structured composites, not concatenated strings, so two
// windows watching the same contract can never collide.
package tracker

import (
	"sync"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// Key identifies one tracked series.
type Key struct {
	Instrument domain.InstrumentID
	Window     domain.WindowID
}

// Book owns a set of tracked series. Safe for concurrent use; per-instrument
// sample ordering is the caller's responsibility (the ingest layer
// serializes by instrument).
type Book struct {
	mu     sync.RWMutex
	states map[Key]*domain.TrackerState
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{states: make(map[Key]*domain.TrackerState)}
}

// Update applies one sample to the series for (instrument, window). Samples
// stamped outside [window.Start, window.End] are ignored and leave the state
// untouched; the returned bool is false when no state exists for the key
// yet. A strictly lower price than the running low yields a NEW_LOW event; a
// strictly higher price than the running high yields a NEW_HIGH event. Ties
// never fire, which keeps a price oscillating on a plateau from producing a
// notification storm.
func (b *Book) Update(id domain.InstrumentID, w domain.TrackingWindow, price float64, at time.Time) (domain.TrackerState, bool, *domain.ExtremeEvent) {
	key := Key{Instrument: id, Window: w.ID}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !w.Contains(at) {
		if !ok {
			return domain.TrackerState{}, false, nil
		}
		return *st, true, nil
	}

	if !ok {
		st = &domain.TrackerState{
			Low:          price,
			High:         price,
			FirstPrice:   price,
			CurrentPrice: price,
			SampleCount:  1,
			LastUpdate:   at,
		}
		b.states[key] = st
		return *st, true, nil
	}

	st.CurrentPrice = price
	st.SampleCount++
	st.LastUpdate = at

	var ev *domain.ExtremeEvent
	switch {
	case price < st.Low:
		ev = &domain.ExtremeEvent{
			Kind:       domain.ExtremeNewLow,
			Instrument: id,
			Window:     w.ID,
			Old:        st.Low,
			New:        price,
			At:         at,
		}
		st.Low = price
	case price > st.High:
		ev = &domain.ExtremeEvent{
			Kind:       domain.ExtremeNewHigh,
			Instrument: id,
			Window:     w.ID,
			Old:        st.High,
			New:        price,
			At:         at,
		}
		st.High = price
	}

	return *st, true, ev
}

// Seed installs a previously checkpointed state for the key, replacing any
// existing one. Used on restart recovery; not part of the hot path.
func (b *Book) Seed(id domain.InstrumentID, window domain.WindowID, st domain.TrackerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := st
	b.states[Key{Instrument: id, Window: window}] = &cp
}

// Get returns a copy of the state for the key, if present.
func (b *Book) Get(id domain.InstrumentID, window domain.WindowID) (domain.TrackerState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[Key{Instrument: id, Window: window}]
	if !ok {
		return domain.TrackerState{}, false
	}
	return *st, true
}

// DropWindow removes every series belonging to the window, releasing the
// memory of a closed lookback or monitoring period.
func (b *Book) DropWindow(window domain.WindowID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.states {
		if k.Window == window {
			delete(b.states, k)
		}
	}
}

// Len reports the number of live series.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.states)
}
