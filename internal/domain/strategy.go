package domain

import "time"

// Phase is the lifecycle state of a strategy. Transitions are strictly
// forward (PENDING -> LOOKBACK -> MONITORING -> COMPLETED) except for the
// absorbing CANCELLED, reachable from any non-terminal phase.
type Phase string

const (
	PhasePending    Phase = "PENDING"
	PhaseLookback   Phase = "LOOKBACK"
	PhaseMonitoring Phase = "MONITORING"
	PhaseCompleted  Phase = "COMPLETED"
	PhaseCancelled  Phase = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// StrategyConfig is the user-supplied definition of a breakout strategy.
type StrategyConfig struct {
	Index           Index   `json:"index"`
	EntryTime       string  `json:"entry_time"` // "HH:MM" exchange-local
	LookbackMinutes int     `json:"lookback_minutes"`
	TargetPremium   float64 `json:"target_premium"`
	StopLossPercent float64 `json:"stop_loss_percent"`
}

// CandidateState is the lookback view of one candidate instrument: its
// running low and distance from the target premium.
type CandidateState struct {
	Instrument InstrumentID `json:"instrument"`
	Strike     float64      `json:"strike"`
	OptionType OptionType   `json:"option_type"`
	Low        float64      `json:"low"`
	LTP        float64      `json:"ltp"`
	Samples    int64        `json:"samples"`
	Distance   float64      `json:"distance"`
}

// StrategySnapshot is the read-only projection of one strategy for the
// dashboard feed and for checkpointing.
type StrategySnapshot struct {
	ID              string           `json:"id"`
	Config          StrategyConfig   `json:"config"`
	Phase           Phase            `json:"phase"`
	CreatedAt       time.Time        `json:"created_at"`
	LookbackStart   time.Time        `json:"lookback_start"`
	EntryAt         time.Time        `json:"entry_at"`
	Selected        *InstrumentID    `json:"selected,omitempty"`
	EntryPrice      float64          `json:"entry_price,omitempty"`
	PnLPercent      float64          `json:"pnl_percent,omitempty"`
	StopLossHit     bool             `json:"stop_loss_hit,omitempty"`
	Candidates      []CandidateState `json:"candidates,omitempty"`
	MonitoringState *TrackerState    `json:"monitoring_state,omitempty"`
}

// ManagerSnapshot aggregates all live strategies plus engine counters for
// the state snapshot feed. Pushed on every state change, never polled.
type ManagerSnapshot struct {
	At                   time.Time          `json:"at"`
	Strategies           []StrategySnapshot `json:"strategies"`
	TicksProcessed       int64              `json:"ticks_processed"`
	TicksDropped         int64              `json:"ticks_dropped"`
	ClockSkewDropped     int64              `json:"clock_skew_dropped"`
	NotificationsDropped int64              `json:"notifications_dropped"`
	DurabilityDegraded   bool               `json:"durability_degraded"`
}
