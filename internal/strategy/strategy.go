// Package strategy implements the per-strategy phase state machine and the
// manager that owns the live strategy set. Phases move strictly forward,
// PENDING to LOOKBACK to MONITORING to COMPLETED, with CANCELLED absorbing
// from any non-terminal phase on removal.
package strategy

import (
	"errors"
	"sync"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/tracker"
)

// ErrNotEditable is returned when a config update arrives after the strategy
// has entered MONITORING; the selected contract and entry price are fixed by
// then.
var ErrNotEditable = errors.New("strategy: not editable after entry")

// ErrEntryPassed is returned when a strategy is created with an entry time
// already behind the exchange clock for today.
var ErrEntryPassed = errors.New("strategy: entry time already passed")

// Strategy is one live tracking configuration. All mutation goes through its
// mutex so tick-driven updates and the phase timer never observe it
// mid-transition.
type Strategy struct {
	mu sync.Mutex

	id        string
	cfg       domain.StrategyConfig
	phase     domain.Phase
	createdAt time.Time

	lookbackStart time.Time
	entryAt       time.Time
	closeAt       time.Time

	// instruments holds the resolver's emitted order; the tie-break for
	// entry selection depends on it.
	instruments []domain.Instrument
	byID        map[domain.InstrumentID]domain.Instrument

	book        *tracker.Book
	lookbackWin domain.TrackingWindow
	monitorWin  domain.TrackingWindow

	selected    *domain.InstrumentID
	entryPrice  float64
	pnlPercent  float64
	stopLossHit bool
	terminalAt  time.Time
}

// transition describes what applyTick/advance did, so the manager can update
// routing and fire hooks without holding the strategy mutex.
type transition struct {
	changed  bool
	extreme  *domain.ExtremeEvent
	stopLoss bool
	entered  bool // LOOKBACK -> MONITORING happened; reroute to selected only
	snap     domain.StrategySnapshot
}

func newStrategy(id string, cfg domain.StrategyConfig, instruments []domain.Instrument, createdAt, lookbackStart, entryAt, closeAt time.Time) *Strategy {
	byID := make(map[domain.InstrumentID]domain.Instrument, len(instruments))
	for _, in := range instruments {
		byID[in.ID] = in
	}
	return &Strategy{
		id:            id,
		cfg:           cfg,
		phase:         domain.PhasePending,
		createdAt:     createdAt,
		lookbackStart: lookbackStart,
		entryAt:       entryAt,
		closeAt:       closeAt,
		instruments:   instruments,
		byID:          byID,
		book:          tracker.NewBook(),
		lookbackWin: domain.TrackingWindow{
			ID:    domain.WindowID(id + ":lookback"),
			Start: lookbackStart,
			End:   entryAt,
		},
	}
}

// ID returns the strategy id. Immutable, safe without the lock.
func (s *Strategy) ID() string { return s.id }

// advance moves the phase forward as far as now allows. Safe to call any
// number of times; a terminal strategy never changes.
func (s *Strategy) advance(now time.Time) transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(now)
}

func (s *Strategy) advanceLocked(now time.Time) transition {
	var tr transition
	for {
		switch s.phase {
		case domain.PhasePending:
			if now.Before(s.lookbackStart) {
				tr.snap = s.snapshotLocked()
				return tr
			}
			s.phase = domain.PhaseLookback
			tr.changed = true
		case domain.PhaseLookback:
			if now.Before(s.entryAt) {
				tr.snap = s.snapshotLocked()
				return tr
			}
			s.enterLocked()
			tr.changed = true
			tr.entered = true
		case domain.PhaseMonitoring:
			if now.Before(s.closeAt) {
				tr.snap = s.snapshotLocked()
				return tr
			}
			s.phase = domain.PhaseCompleted
			s.terminalAt = now
			tr.changed = true
		default:
			tr.snap = s.snapshotLocked()
			return tr
		}
	}
}

// enterLocked performs the entry transition: fix the instrument whose
// lookback low sits nearest the target premium, take its live price as the
// entry price, and open the monitoring window. selected is assigned here and
// nowhere else.
func (s *Strategy) enterLocked() {
	var (
		best     *domain.Instrument
		bestSt   domain.TrackerState
		bestDist float64
	)
	for i := range s.instruments {
		in := s.instruments[i]
		st, ok := s.book.Get(in.ID, s.lookbackWin.ID)
		if !ok || st.SampleCount == 0 {
			continue
		}
		dist := abs(st.Low - s.cfg.TargetPremium)
		// Strict minimum: an exact tie keeps the earlier resolver order.
		if best == nil || dist < bestDist {
			best = &s.instruments[i]
			bestSt = st
			bestDist = dist
		}
	}

	if best == nil {
		// Not a single candidate tick arrived during lookback; there is
		// nothing to enter on.
		s.phase = domain.PhaseCompleted
		s.terminalAt = s.entryAt
		return
	}

	id := best.ID
	s.selected = &id
	s.entryPrice = bestSt.CurrentPrice
	s.monitorWin = domain.TrackingWindow{
		ID:    domain.WindowID(s.id + ":monitor"),
		Start: s.entryAt,
		End:   s.closeAt,
	}
	s.phase = domain.PhaseMonitoring
}

// applyTick routes one tick into the phase-appropriate tracker. Ticks for a
// terminal or PENDING strategy are no-ops; so are ticks for instruments the
// strategy does not watch.
func (s *Strategy) applyTick(tick domain.Tick, now time.Time) transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Tick arrival also drives phases so a quiet timer cannot delay entry.
	tr := s.advanceLocked(now)

	switch s.phase {
	case domain.PhaseLookback:
		if _, ok := s.byID[tick.Instrument]; !ok {
			return tr
		}
		_, _, ev := s.book.Update(tick.Instrument, s.lookbackWin, tick.Price, tick.ExchangeTS)
		if ev != nil {
			tr.extreme = ev
			tr.changed = true
		}

	case domain.PhaseMonitoring:
		if s.selected == nil || tick.Instrument != *s.selected {
			return tr
		}
		_, _, ev := s.book.Update(tick.Instrument, s.monitorWin, tick.Price, tick.ExchangeTS)
		if ev != nil {
			tr.extreme = ev
			tr.changed = true
		}
		if s.entryPrice > 0 {
			s.pnlPercent = (tick.Price - s.entryPrice) / s.entryPrice * 100
		}
		if s.pnlPercent <= -s.cfg.StopLossPercent {
			s.stopLossHit = true
			s.phase = domain.PhaseCompleted
			s.terminalAt = now
			tr.stopLoss = true
			tr.changed = true
		}
	}

	tr.snap = s.snapshotLocked()
	return tr
}

// cancel marks the strategy CANCELLED. Idempotent; terminal strategies are
// left as they are.
func (s *Strategy) cancel(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return false
	}
	s.phase = domain.PhaseCancelled
	s.terminalAt = now
	return true
}

// editable reports whether the strategy still accepts config updates.
func (s *Strategy) editable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return domain.ErrStrategyFinal
	}
	if s.phase == domain.PhaseMonitoring {
		return ErrNotEditable
	}
	return nil
}

// reconfigure replaces the config and windows. Only allowed before entry.
func (s *Strategy) reconfigure(cfg domain.StrategyConfig, instruments []domain.Instrument, lookbackStart, entryAt, closeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return domain.ErrStrategyFinal
	}
	if s.phase == domain.PhaseMonitoring {
		return ErrNotEditable
	}
	s.cfg = cfg
	s.instruments = instruments
	s.byID = make(map[domain.InstrumentID]domain.Instrument, len(instruments))
	for _, in := range instruments {
		s.byID[in.ID] = in
	}
	s.lookbackStart = lookbackStart
	s.entryAt = entryAt
	s.closeAt = closeAt
	s.book.DropWindow(s.lookbackWin.ID)
	s.lookbackWin = domain.TrackingWindow{
		ID:    domain.WindowID(s.id + ":lookback"),
		Start: lookbackStart,
		End:   entryAt,
	}
	return nil
}

// snapshot returns the read-only projection of the strategy.
func (s *Strategy) snapshot() domain.StrategySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Strategy) snapshotLocked() domain.StrategySnapshot {
	snap := domain.StrategySnapshot{
		ID:            s.id,
		Config:        s.cfg,
		Phase:         s.phase,
		CreatedAt:     s.createdAt,
		LookbackStart: s.lookbackStart,
		EntryAt:       s.entryAt,
		EntryPrice:    s.entryPrice,
		PnLPercent:    s.pnlPercent,
		StopLossHit:   s.stopLossHit,
	}
	if s.selected != nil {
		id := *s.selected
		snap.Selected = &id
	}
	for _, in := range s.instruments {
		c := domain.CandidateState{
			Instrument: in.ID,
			Strike:     in.Strike,
			OptionType: in.OptionType,
		}
		// Unsampled candidates stay in the snapshot with zero state so a
		// restore keeps watching them.
		if st, ok := s.book.Get(in.ID, s.lookbackWin.ID); ok {
			c.Low = st.Low
			c.LTP = st.CurrentPrice
			c.Samples = st.SampleCount
			c.Distance = abs(st.Low - s.cfg.TargetPremium)
		}
		snap.Candidates = append(snap.Candidates, c)
	}
	if s.selected != nil {
		if st, ok := s.book.Get(*s.selected, s.monitorWin.ID); ok {
			snap.MonitoringState = &st
		}
	}
	return snap
}

// watchedInstruments returns the ids the strategy currently needs ticks for.
func (s *Strategy) watchedInstruments() []domain.InstrumentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return nil
	}
	if s.selected != nil {
		return []domain.InstrumentID{*s.selected}
	}
	ids := make([]domain.InstrumentID, 0, len(s.instruments))
	for _, in := range s.instruments {
		ids = append(ids, in.ID)
	}
	return ids
}

func (s *Strategy) terminal() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase.Terminal(), s.terminalAt
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
