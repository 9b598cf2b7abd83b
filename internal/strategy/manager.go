package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// InstrumentResolver computes the candidate watch set for an index.
type InstrumentResolver interface {
	Resolve(ctx context.Context, index domain.Index, spot float64, asOf time.Time) ([]domain.Instrument, error)
}

// SpotSource returns the current index spot price.
type SpotSource interface {
	SpotPrice(ctx context.Context, index domain.Index) (float64, error)
}

// TickHistory replays archived ticks in arrival order. Used to seed a
// strategy created mid-lookback and to serve previews; a nil history simply
// means no backfill.
type TickHistory interface {
	Replay(ctx context.Context, from, to time.Time, fn func(domain.Tick) error) error
}

// Hooks are the manager's outbound edges. All optional; nil hooks are
// skipped. They are invoked outside any strategy lock and must not call back
// into the manager synchronously.
type Hooks struct {
	// OnExtreme fires when a tracker emits a new extreme for a strategy.
	OnExtreme func(ev domain.ExtremeEvent, snap domain.StrategySnapshot)
	// OnStopLoss fires once, at the tick that breaches the stop-loss.
	OnStopLoss func(snap domain.StrategySnapshot, tick domain.Tick)
	// OnChange fires after any state change, for the snapshot feed.
	OnChange func()
}

// Config tunes the manager.
type Config struct {
	// MarketClose is the exchange close in "HH:MM", exchange-local.
	MarketClose string
	// Location is the exchange timezone. Required.
	Location *time.Location
	// Retention keeps terminal strategies visible for reporting before the
	// periodic pass purges them. Zero or negative disables purging.
	Retention time.Duration
	// AdvanceInterval is the phase timer period for Run. Defaults to 1s.
	AdvanceInterval time.Duration
}

// Manager owns the live strategy set. Ticks reach strategies through the
// instrument routing index; the phase timer and the control surface go
// through the per-strategy mutex, so the three actors never race.
type Manager struct {
	cfg      Config
	resolver InstrumentResolver
	spots    SpotSource
	history  TickHistory
	clock    domain.Clock
	logger   *slog.Logger
	hooks    Hooks

	closeHour, closeMin int

	mu         sync.RWMutex
	strategies map[string]*Strategy
	routes     map[domain.InstrumentID]map[string]*Strategy
	watched    map[string][]domain.InstrumentID
}

// NewManager creates a Manager. history may be nil.
func NewManager(cfg Config, res InstrumentResolver, spots SpotSource, history TickHistory, clock domain.Clock, logger *slog.Logger, hooks Hooks) (*Manager, error) {
	if cfg.Location == nil {
		return nil, fmt.Errorf("strategy: manager requires a timezone")
	}
	if cfg.MarketClose == "" {
		cfg.MarketClose = "15:30"
	}
	if cfg.AdvanceInterval <= 0 {
		cfg.AdvanceInterval = time.Second
	}
	h, m, err := parseHHMM(cfg.MarketClose)
	if err != nil {
		return nil, fmt.Errorf("strategy: market close: %w", err)
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Manager{
		cfg:        cfg,
		resolver:   res,
		spots:      spots,
		history:    history,
		clock:      clock,
		logger:     logger.With(slog.String("component", "strategy")),
		hooks:      hooks,
		closeHour:  h,
		closeMin:   m,
		strategies: make(map[string]*Strategy),
		routes:     make(map[domain.InstrumentID]map[string]*Strategy),
		watched:    make(map[string][]domain.InstrumentID),
	}, nil
}

// ValidateConfig checks a strategy config, collecting every problem.
func ValidateConfig(cfg domain.StrategyConfig) error {
	var problems []string
	if !cfg.Index.Valid() {
		problems = append(problems, fmt.Sprintf("unknown index %q", cfg.Index))
	}
	if _, _, err := parseHHMM(cfg.EntryTime); err != nil {
		problems = append(problems, fmt.Sprintf("entry_time: %v", err))
	}
	if cfg.LookbackMinutes < 1 {
		problems = append(problems, "lookback_minutes must be at least 1")
	}
	if cfg.TargetPremium <= 0 {
		problems = append(problems, "target_premium must be positive")
	}
	if cfg.StopLossPercent <= 0 || cfg.StopLossPercent > 100 {
		problems = append(problems, "stop_loss_percent must be in (0, 100]")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError carries every problem found in a strategy config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "strategy: invalid config: " + strings.Join(e.Problems, "; ")
}

// Create resolves the watch set and registers a new strategy. A
// *domain.ResolutionError from the resolver is surfaced as-is and nothing is
// registered. Creation after the entry time is rejected.
func (m *Manager) Create(ctx context.Context, cfg domain.StrategyConfig) (string, error) {
	if err := ValidateConfig(cfg); err != nil {
		return "", err
	}

	now := m.clock.Now().In(m.cfg.Location)
	lookbackStart, entryAt, closeAt, err := m.schedule(cfg, now)
	if err != nil {
		return "", err
	}
	if !now.Before(entryAt) {
		return "", fmt.Errorf("strategy: entry time %s: %w", cfg.EntryTime, ErrEntryPassed)
	}

	spot, err := m.spots.SpotPrice(ctx, cfg.Index)
	if err != nil {
		return "", fmt.Errorf("strategy: spot price for %s: %w", cfg.Index, err)
	}
	instruments, err := m.resolver.Resolve(ctx, cfg.Index, spot, now)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	s := newStrategy(id, cfg, instruments, now, lookbackStart, entryAt, closeAt)
	s.advance(now)

	// Created mid-lookback: backfill the lows the strategy missed.
	if m.history != nil && !now.Before(lookbackStart) {
		err := m.history.Replay(ctx, lookbackStart, now, func(tick domain.Tick) error {
			s.applyTick(tick, now)
			return nil
		})
		if err != nil {
			m.logger.Warn("lookback backfill failed, continuing with live ticks only",
				slog.String("strategy", id), slog.Any("error", err))
		}
	}

	m.register(s)
	m.logger.Info("strategy created",
		slog.String("strategy", id),
		slog.String("index", string(cfg.Index)),
		slog.String("entry_time", cfg.EntryTime),
		slog.Int("instruments", len(instruments)))
	m.changed()
	return id, nil
}

// Remove cancels a strategy. It stops receiving ticks immediately and stays
// in the set as CANCELLED until the retention purge, so the next checkpoint
// persists the removal and a restart never resurrects it. Returns
// domain.ErrNotFound for unknown ids.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.strategies[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("strategy: remove %s: %w", id, domain.ErrNotFound)
	}
	m.unrouteLocked(id)
	m.mu.Unlock()

	s.cancel(m.clock.Now().In(m.cfg.Location))
	m.logger.Info("strategy removed", slog.String("strategy", id))
	m.changed()
	return nil
}

// UpdateConfig replaces a strategy's parameters while it is still PENDING or
// LOOKBACK. The lookback window restarts against the new schedule.
func (m *Manager) UpdateConfig(ctx context.Context, id string, cfg domain.StrategyConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	m.mu.RLock()
	s, ok := m.strategies[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("strategy: update %s: %w", id, domain.ErrNotFound)
	}

	// Phase first: an entered strategy is not editable regardless of what
	// the new schedule would say.
	if err := s.editable(); err != nil {
		return err
	}

	now := m.clock.Now().In(m.cfg.Location)
	lookbackStart, entryAt, closeAt, err := m.schedule(cfg, now)
	if err != nil {
		return err
	}
	if !now.Before(entryAt) {
		return fmt.Errorf("strategy: entry time %s: %w", cfg.EntryTime, ErrEntryPassed)
	}

	spot, err := m.spots.SpotPrice(ctx, cfg.Index)
	if err != nil {
		return fmt.Errorf("strategy: spot price for %s: %w", cfg.Index, err)
	}
	instruments, err := m.resolver.Resolve(ctx, cfg.Index, spot, now)
	if err != nil {
		return err
	}

	if err := s.reconfigure(cfg, instruments, lookbackStart, entryAt, closeAt); err != nil {
		return err
	}
	m.reroute(s)
	m.logger.Info("strategy updated", slog.String("strategy", id))
	m.changed()
	return nil
}

// HandleTick is the ingest subscriber: it routes the tick to every strategy
// watching its instrument. Shaped as an ingest.Handler.
func (m *Manager) HandleTick(ctx context.Context, tick domain.Tick) error {
	m.mu.RLock()
	targets := make([]*Strategy, 0, len(m.routes[tick.Instrument]))
	for _, s := range m.routes[tick.Instrument] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	now := m.clock.Now().In(m.cfg.Location)
	var changed bool
	for _, s := range targets {
		tr := s.applyTick(tick, now)
		if tr.entered {
			m.reroute(s)
		}
		if tr.extreme != nil && m.hooks.OnExtreme != nil {
			m.hooks.OnExtreme(*tr.extreme, tr.snap)
		}
		if tr.stopLoss {
			m.unroute(s.ID())
			if m.hooks.OnStopLoss != nil {
				m.hooks.OnStopLoss(tr.snap, tick)
			}
		}
		changed = changed || tr.changed
	}
	if changed {
		m.changed()
	}
	return nil
}

// AdvanceAll runs one phase-timer pass: move every strategy forward against
// now and purge terminal ones past the retention horizon.
func (m *Manager) AdvanceAll(now time.Time) {
	now = now.In(m.cfg.Location)

	m.mu.RLock()
	all := make([]*Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var changed bool
	for _, s := range all {
		tr := s.advance(now)
		if tr.entered {
			m.reroute(s)
		}
		if tr.changed {
			changed = true
			m.logger.Info("strategy phase",
				slog.String("strategy", s.ID()),
				slog.String("phase", string(tr.snap.Phase)))
		}
		if term, at := s.terminal(); term {
			m.unroute(s.ID())
			if m.cfg.Retention > 0 && !at.IsZero() && now.Sub(at) > m.cfg.Retention {
				m.mu.Lock()
				delete(m.strategies, s.ID())
				m.mu.Unlock()
				changed = true
			}
		}
	}
	if changed {
		m.changed()
	}
}

// Run drives the phase timer until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.AdvanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.AdvanceAll(m.clock.Now())
		}
	}
}

// Get returns the snapshot of one strategy.
func (m *Manager) Get(id string) (domain.StrategySnapshot, error) {
	m.mu.RLock()
	s, ok := m.strategies[id]
	m.mu.RUnlock()
	if !ok {
		return domain.StrategySnapshot{}, fmt.Errorf("strategy: get %s: %w", id, domain.ErrNotFound)
	}
	return s.snapshot(), nil
}

// List returns snapshots of every strategy, newest first.
func (m *Manager) List() []domain.StrategySnapshot {
	m.mu.RLock()
	all := make([]*Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		all = append(all, s)
	}
	m.mu.RUnlock()

	snaps := make([]domain.StrategySnapshot, 0, len(all))
	for _, s := range all {
		snaps = append(snaps, s.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// WatchedInstruments returns the deduplicated union of every live
// strategy's watch set, sorted. The feed layer diffs this against its
// current subscription.
func (m *Manager) WatchedInstruments() []domain.InstrumentID {
	m.mu.RLock()
	seen := make(map[domain.InstrumentID]struct{})
	for _, ids := range m.watched {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	m.mu.RUnlock()

	out := make([]domain.InstrumentID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Preview computes the hypothetical lookback result for a config over the
// archived tick history without touching the live set.
func (m *Manager) Preview(ctx context.Context, cfg domain.StrategyConfig) (domain.StrategySnapshot, error) {
	if err := ValidateConfig(cfg); err != nil {
		return domain.StrategySnapshot{}, err
	}
	if m.history == nil {
		return domain.StrategySnapshot{}, fmt.Errorf("strategy: preview requires a tick history")
	}

	now := m.clock.Now().In(m.cfg.Location)
	lookbackStart, entryAt, closeAt, err := m.schedule(cfg, now)
	if err != nil {
		return domain.StrategySnapshot{}, err
	}

	spot, err := m.spots.SpotPrice(ctx, cfg.Index)
	if err != nil {
		return domain.StrategySnapshot{}, fmt.Errorf("strategy: spot price for %s: %w", cfg.Index, err)
	}
	instruments, err := m.resolver.Resolve(ctx, cfg.Index, spot, now)
	if err != nil {
		return domain.StrategySnapshot{}, err
	}

	s := newStrategy("preview-"+uuid.NewString(), cfg, instruments, now, lookbackStart, entryAt, closeAt)
	s.advance(lookbackStart)

	replayEnd := now
	if entryAt.Before(replayEnd) {
		replayEnd = entryAt
	}
	err = m.history.Replay(ctx, lookbackStart, replayEnd, func(tick domain.Tick) error {
		// Freeze the preview clock inside the lookback so phases do not run
		// ahead of the replayed data.
		s.applyTick(tick, tick.ExchangeTS)
		return nil
	})
	if err != nil {
		return domain.StrategySnapshot{}, fmt.Errorf("strategy: preview replay: %w", err)
	}

	// Past the entry time the preview also shows the hypothetical selection.
	s.advance(now)
	return s.snapshot(), nil
}

// Restore rebuilds the live set from checkpointed snapshots. Terminal
// snapshots are skipped; tracker states are seeded from what the checkpoint
// retained.
func (m *Manager) Restore(snaps []domain.StrategySnapshot) int {
	restored := 0
	for _, snap := range snaps {
		if snap.Phase.Terminal() {
			continue
		}
		s := m.restoreOne(snap)
		m.register(s)
		restored++
	}
	if restored > 0 {
		m.logger.Info("strategies restored from checkpoint", slog.Int("count", restored))
		m.changed()
	}
	return restored
}

func (m *Manager) restoreOne(snap domain.StrategySnapshot) *Strategy {
	instruments := make([]domain.Instrument, 0, len(snap.Candidates))
	for _, c := range snap.Candidates {
		instruments = append(instruments, domain.Instrument{
			ID:         c.Instrument,
			Index:      snap.Config.Index,
			Strike:     c.Strike,
			OptionType: c.OptionType,
		})
	}
	closeAt := time.Date(snap.EntryAt.Year(), snap.EntryAt.Month(), snap.EntryAt.Day(),
		m.closeHour, m.closeMin, 0, 0, m.cfg.Location)

	s := newStrategy(snap.ID, snap.Config, instruments, snap.CreatedAt, snap.LookbackStart, snap.EntryAt, closeAt)
	s.phase = snap.Phase
	if snap.Selected != nil {
		id := *snap.Selected
		s.selected = &id
		s.entryPrice = snap.EntryPrice
		s.pnlPercent = snap.PnLPercent
		s.monitorWin = domain.TrackingWindow{
			ID:    domain.WindowID(snap.ID + ":monitor"),
			Start: snap.EntryAt,
			End:   closeAt,
		}
	}
	for _, c := range snap.Candidates {
		if c.Samples == 0 {
			continue
		}
		high := c.LTP
		if c.Low > high {
			high = c.Low
		}
		s.book.Seed(c.Instrument, s.lookbackWin.ID, domain.TrackerState{
			Low:          c.Low,
			High:         high,
			FirstPrice:   c.Low,
			CurrentPrice: c.LTP,
			SampleCount:  c.Samples,
		})
	}
	if snap.Selected != nil && snap.MonitoringState != nil {
		s.book.Seed(*snap.Selected, s.monitorWin.ID, *snap.MonitoringState)
	}
	return s
}

// schedule computes the lookback start, entry, and close instants for a
// config on now's trading date.
func (m *Manager) schedule(cfg domain.StrategyConfig, now time.Time) (lookbackStart, entryAt, closeAt time.Time, err error) {
	h, min, err := parseHHMM(cfg.EntryTime)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("strategy: entry time: %w", err)
	}
	entryAt = time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, m.cfg.Location)
	closeAt = time.Date(now.Year(), now.Month(), now.Day(), m.closeHour, m.closeMin, 0, 0, m.cfg.Location)
	if !entryAt.Before(closeAt) {
		return time.Time{}, time.Time{}, time.Time{}, fmt.Errorf("strategy: entry time %s is not before market close %s", cfg.EntryTime, m.cfg.MarketClose)
	}
	lookbackStart = entryAt.Add(-time.Duration(cfg.LookbackMinutes) * time.Minute)
	return lookbackStart, entryAt, closeAt, nil
}

func (m *Manager) register(s *Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.ID()] = s
	m.routeLocked(s)
}

func (m *Manager) reroute(s *Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrouteLocked(s.ID())
	m.routeLocked(s)
}

func (m *Manager) unroute(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrouteLocked(id)
}

func (m *Manager) routeLocked(s *Strategy) {
	ids := s.watchedInstruments()
	m.watched[s.ID()] = ids
	for _, id := range ids {
		set, ok := m.routes[id]
		if !ok {
			set = make(map[string]*Strategy)
			m.routes[id] = set
		}
		set[s.ID()] = s
	}
}

func (m *Manager) unrouteLocked(id string) {
	for _, in := range m.watched[id] {
		if set, ok := m.routes[in]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.routes, in)
			}
		}
	}
	delete(m.watched, id)
}

func (m *Manager) changed() {
	if m.hooks.OnChange != nil {
		m.hooks.OnChange()
	}
}

func parseHHMM(s string) (hour, min int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	min, err = strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, min, nil
}
