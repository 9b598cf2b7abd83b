// Package notify turns tracker extremes into notification events and
// delivers them to external sinks. Evaluation is pure; delivery is
// fire-and-forget through a bounded queue so a slow sink can never back up
// into the ingest path.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// DefaultNearThreshold is the premium distance under which a new low is
// additionally flagged as NEAR_TARGET.
const DefaultNearThreshold = 15.0

// StrategyContext carries the strategy parameters evaluation needs.
type StrategyContext struct {
	StrategyID    string
	TargetPremium float64
	// NearThreshold falls back to DefaultNearThreshold when zero.
	NearThreshold float64
}

// Evaluate maps one extreme event to zero or more notification events. A
// NEW_LOW always yields one event; when the new low lands within the near
// threshold of the target premium a NEAR_TARGET event follows it. New highs
// yield nothing. No rate limiting happens here: every qualifying extreme
// produces its events and downstream consumers own any dedup policy.
func Evaluate(ev domain.ExtremeEvent, sc StrategyContext) []domain.NotificationEvent {
	if ev.Kind != domain.ExtremeNewLow {
		return nil
	}

	out := []domain.NotificationEvent{{
		ID:         uuid.NewString(),
		StrategyID: sc.StrategyID,
		Instrument: ev.Instrument,
		Kind:       domain.NotifyNewLow,
		OldValue:   ev.Old,
		NewValue:   ev.New,
		Timestamp:  ev.At,
	}}

	threshold := sc.NearThreshold
	if threshold == 0 {
		threshold = DefaultNearThreshold
	}
	dist := ev.New - sc.TargetPremium
	if dist < 0 {
		dist = -dist
	}
	if dist <= threshold {
		out = append(out, domain.NotificationEvent{
			ID:         uuid.NewString(),
			StrategyID: sc.StrategyID,
			Instrument: ev.Instrument,
			Kind:       domain.NotifyNearTarget,
			OldValue:   sc.TargetPremium,
			NewValue:   ev.New,
			Timestamp:  ev.At,
		})
	}
	return out
}

// StopLossEvent builds the notification for a stop-loss breach: old value is
// the entry price, new value the breaching price.
func StopLossEvent(snap domain.StrategySnapshot, tick domain.Tick, at time.Time) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:         uuid.NewString(),
		StrategyID: snap.ID,
		Instrument: tick.Instrument,
		Kind:       domain.NotifyStopLossHit,
		OldValue:   snap.EntryPrice,
		NewValue:   tick.Price,
		Timestamp:  at,
	}
}
