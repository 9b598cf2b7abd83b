// Package resolver computes the set of option contracts to watch for an
// index: the at-the-money strike plus a band of out-of-the-money strikes on
// each side, on the nearest unexpired series. Resolution is deterministic
// given identical inputs; the only external dependency is the instrument
// catalog.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// otmStrikes is the number of out-of-the-money strikes emitted per option
// type in addition to the ATM strike.
const otmStrikes = 15

// Resolver resolves watch sets against a broker instrument catalog.
type Resolver struct {
	catalog domain.Catalog
}

// New creates a Resolver backed by the given catalog.
func New(catalog domain.Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// ATMStrike rounds the spot price to the index's strike step.
func ATMStrike(spot float64, step float64) float64 {
	return math.Round(spot/step) * step
}

// Resolve returns the ordered watch set for the index: calls from ATM
// upward, then puts from ATM downward, each up to otmStrikes away. Strikes
// the catalog does not list are skipped, so the result holds at most
// 2*(otmStrikes+1) instruments. It returns a *domain.ResolutionError when no
// unexpired contract series exists as of asOf.
func (r *Resolver) Resolve(ctx context.Context, index domain.Index, spot float64, asOf time.Time) ([]domain.Instrument, error) {
	if !index.Valid() {
		return nil, &domain.ResolutionError{Index: index, AsOf: asOf, Reason: "unknown index"}
	}
	if spot <= 0 {
		return nil, &domain.ResolutionError{Index: index, AsOf: asOf, Reason: fmt.Sprintf("non-positive spot %v", spot)}
	}

	expiry, err := r.catalog.NearestExpiry(ctx, index, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ResolutionError{Index: index, AsOf: asOf, Reason: "no valid expiry"}
		}
		return nil, fmt.Errorf("resolver: nearest expiry for %s: %w", index, err)
	}

	step := index.StrikeStep()
	atm := ATMStrike(spot, step)

	out := make([]domain.Instrument, 0, 2*(otmStrikes+1))

	// Calls: OTM strikes sit above spot.
	for i := 0; i <= otmStrikes; i++ {
		strike := atm + float64(i)*step
		in, err := r.lookup(ctx, index, expiry, strike, domain.OptionCall)
		if err != nil {
			return nil, err
		}
		if in != nil {
			out = append(out, *in)
		}
	}

	// Puts: OTM strikes sit below spot.
	for i := 0; i <= otmStrikes; i++ {
		strike := atm - float64(i)*step
		if strike <= 0 {
			break
		}
		in, err := r.lookup(ctx, index, expiry, strike, domain.OptionPut)
		if err != nil {
			return nil, err
		}
		if in != nil {
			out = append(out, *in)
		}
	}

	if len(out) == 0 {
		return nil, &domain.ResolutionError{Index: index, AsOf: asOf, Reason: fmt.Sprintf("no listed strikes around ATM %v for expiry %s", atm, expiry.Format("2006-01-02"))}
	}
	return out, nil
}

// lookup fetches one contract, treating ErrNotFound as an unlisted strike
// (nil, nil) rather than a failure.
func (r *Resolver) lookup(ctx context.Context, index domain.Index, expiry time.Time, strike float64, ot domain.OptionType) (*domain.Instrument, error) {
	in, err := r.catalog.Lookup(ctx, index, expiry, strike, ot)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolver: lookup %s %v %s: %w", index, strike, ot, err)
	}
	return &in, nil
}
