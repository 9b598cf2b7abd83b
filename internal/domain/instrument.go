package domain

import (
	"fmt"
	"time"
)

// Index identifies a tradable NSE index underlying.
type Index string

const (
	IndexNifty     Index = "NIFTY"
	IndexBankNifty Index = "BANKNIFTY"
	IndexFinNifty  Index = "FINNIFTY"
)

// StrikeStep returns the fixed increment between adjacent listed strikes.
func (ix Index) StrikeStep() float64 {
	switch ix {
	case IndexBankNifty:
		return 100
	default:
		return 50
	}
}

// Valid reports whether the index is one of the supported underlyings.
func (ix Index) Valid() bool {
	switch ix {
	case IndexNifty, IndexBankNifty, IndexFinNifty:
		return true
	}
	return false
}

// OptionType is the contract side: CE (call) or PE (put).
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// InstrumentID is the broker-assigned identifier for a single contract,
// e.g. "NSE_FO|46051". It is opaque to the core; only the catalog can mint
// one.
type InstrumentID string

// Instrument is a single resolved option contract. Immutable once resolved;
// the resolver produces a fresh set when spot crosses a strike-step boundary
// or the expiry rolls.
type Instrument struct {
	ID         InstrumentID
	Index      Index
	Expiry     time.Time // trading date of expiry, midnight exchange time
	Strike     float64
	OptionType OptionType
}

// Symbol renders a human-readable contract name for logs and reports.
func (in Instrument) Symbol() string {
	return fmt.Sprintf("%s %s %.0f%s", in.Index, in.Expiry.Format("02Jan06"), in.Strike, in.OptionType)
}
