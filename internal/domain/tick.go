package domain

import "time"

// Tick is a single last-traded-price observation delivered by the market
// feed. Produced externally, never mutated.
type Tick struct {
	Instrument InstrumentID
	Price      float64
	ExchangeTS time.Time // timestamp stamped by the exchange
	ReceivedTS time.Time // local receipt timestamp
}
