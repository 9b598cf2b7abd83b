package domain

import "time"

// NotificationKind classifies the threshold conditions the notifier emits.
type NotificationKind string

const (
	NotifyNewLow      NotificationKind = "NEW_LOW"
	NotifyNearTarget  NotificationKind = "NEAR_TARGET"
	NotifyStopLossHit NotificationKind = "STOP_LOSS_HIT"
)

// NotificationEvent is an immutable, append-only record of a threshold
// crossing. Downstream consumers own any dedup or rate-limiting policy;
// every qualifying extreme produces exactly one event.
type NotificationEvent struct {
	ID         string           `json:"id"`
	StrategyID string           `json:"strategy_id"`
	Instrument InstrumentID     `json:"instrument"`
	Kind       NotificationKind `json:"kind"`
	OldValue   float64          `json:"old_value"`
	NewValue   float64          `json:"new_value"`
	Timestamp  time.Time        `json:"timestamp"`
}
