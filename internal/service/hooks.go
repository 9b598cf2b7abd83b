package service

import (
	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/notify"
	"github.com/kunalnaik/strikewatch/internal/strategy"
)

// EventSink accepts notification events for asynchronous delivery. The
// notify.Dispatcher satisfies it.
type EventSink interface {
	Publish(ev domain.NotificationEvent)
}

// Dirtier is marked after every tracking state change. The snapshot
// Publisher satisfies it.
type Dirtier interface {
	MarkDirty()
}

// Hooks binds the strategy manager's callbacks to the notification
// pipeline and the snapshot feed. nearThreshold zero falls back to the
// notify default.
func Hooks(sink EventSink, dirtier Dirtier, clock domain.Clock, nearThreshold float64) strategy.Hooks {
	return strategy.Hooks{
		OnExtreme: func(ev domain.ExtremeEvent, snap domain.StrategySnapshot) {
			sc := notify.StrategyContext{
				StrategyID:    snap.ID,
				TargetPremium: snap.Config.TargetPremium,
				NearThreshold: nearThreshold,
			}
			for _, ne := range notify.Evaluate(ev, sc) {
				sink.Publish(ne)
			}
		},
		OnStopLoss: func(snap domain.StrategySnapshot, tick domain.Tick) {
			sink.Publish(notify.StopLossEvent(snap, tick, clock.Now()))
		},
		OnChange: func() {
			if dirtier != nil {
				dirtier.MarkDirty()
			}
		},
	}
}
