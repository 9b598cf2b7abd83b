package domain

import "time"

// WindowID names a tracking window. Windows belonging to a strategy use the
// strategy id plus a role suffix so tracker keys never collide across
// strategies.
type WindowID string

// TrackingWindow is the interval over which a low/high tracker accumulates
// statistics.
type TrackingWindow struct {
	ID    WindowID
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside [Start, End].
func (w TrackingWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
