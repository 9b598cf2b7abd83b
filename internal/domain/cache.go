package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest traded price per instrument for cheap reads
// by the API layer and the preview path.
type PriceCache interface {
	SetPrice(ctx context.Context, id InstrumentID, price float64, ts time.Time) error
	GetPrice(ctx context.Context, id InstrumentID) (float64, time.Time, error)
	GetPrices(ctx context.Context, ids []InstrumentID) (map[InstrumentID]float64, error)
}

// SignalBus is the pub/sub fabric between the tracking core and external
// viewers: snapshot feed, notification feed, dashboard websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter guards outbound broker REST calls.
type RateLimiter interface {
	// Allow reports whether one more call under key is permitted within the
	// window. Implementations must be safe for concurrent use.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SessionLock serializes live tracking: at most one process may run the tick
// pipeline for a given trading day.
type SessionLock interface {
	// Acquire returns ErrLockHeld when another process owns the session.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
