package domain

import "time"

// TrackerState holds the running statistics for one (instrument, window)
// pair. Invariant after the first sample: Low <= CurrentPrice <= High and
// SampleCount >= 1.
type TrackerState struct {
	Low          float64
	High         float64
	FirstPrice   float64
	CurrentPrice float64
	SampleCount  int64
	LastUpdate   time.Time
}

// ExtremeKind distinguishes the two extreme events a tracker can emit.
type ExtremeKind string

const (
	ExtremeNewLow  ExtremeKind = "NEW_LOW"
	ExtremeNewHigh ExtremeKind = "NEW_HIGH"
)

// ExtremeEvent is emitted when a sample strictly beats the current extreme.
// Ties never fire: "first time below", not "at or below".
type ExtremeEvent struct {
	Kind       ExtremeKind
	Instrument InstrumentID
	Window     WindowID
	Old        float64
	New        float64
	At         time.Time
}

// DropPercent returns the relative drop of a NEW_LOW event in percent.
// Defined only when the old low is positive; returns 0 otherwise.
func (e ExtremeEvent) DropPercent() float64 {
	if e.Kind != ExtremeNewLow || e.Old <= 0 {
		return 0
	}
	return (e.Old - e.New) / e.Old * 100
}
