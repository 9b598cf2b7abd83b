package domain

import (
	"context"
	"time"
)

// Catalog is the broker-side instrument directory the resolver consults.
type Catalog interface {
	// NearestExpiry returns the earliest expiry on or after asOf for the
	// index, or ErrNotFound when no unexpired contract series exists.
	NearestExpiry(ctx context.Context, index Index, asOf time.Time) (time.Time, error)
	// Lookup returns the canonical instrument for the contract, or
	// ErrNotFound when the strike is not listed for that expiry.
	Lookup(ctx context.Context, index Index, expiry time.Time, strike float64, ot OptionType) (Instrument, error)
	// SpotPrice returns the current index spot price.
	SpotPrice(ctx context.Context, index Index) (float64, error)
}
