package upstox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// underlyingKeys maps the supported indices to their Upstox instrument keys.
var underlyingKeys = map[domain.Index]string{
	domain.IndexNifty:     "NSE_INDEX|Nifty 50",
	domain.IndexBankNifty: "NSE_INDEX|Nifty Bank",
	domain.IndexFinNifty:  "NSE_INDEX|Nifty Fin Service",
}

// contractAPI is the slice of Client the catalog needs.
type contractAPI interface {
	LTP(ctx context.Context, instrumentKey string) (float64, error)
	OptionContracts(ctx context.Context, underlyingKey, expiry string) ([]Contract, error)
}

// Catalog adapts the Upstox contract listing to the resolver's catalog
// interface. Contract lists change only on listing events, so they are
// cached per index with a TTL to keep resolver calls off the REST budget.
type Catalog struct {
	api    contractAPI
	clock  domain.Clock
	logger *slog.Logger
	ttl    time.Duration

	mu    sync.Mutex
	cache map[domain.Index]cachedContracts
}

type cachedContracts struct {
	contracts []Contract
	fetchedAt time.Time
}

// NewCatalog creates a Catalog over the REST client. ttl <= 0 defaults to
// five minutes.
func NewCatalog(api contractAPI, clock domain.Clock, logger *slog.Logger, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Catalog{
		api:    api,
		clock:  clock,
		logger: logger.With(slog.String("component", "catalog")),
		ttl:    ttl,
		cache:  make(map[domain.Index]cachedContracts),
	}
}

var _ domain.Catalog = (*Catalog)(nil)

// SpotPrice returns the index's last traded price.
func (c *Catalog) SpotPrice(ctx context.Context, index domain.Index) (float64, error) {
	key, ok := underlyingKeys[index]
	if !ok {
		return 0, fmt.Errorf("upstox: spot for %s: %w", index, domain.ErrNotFound)
	}
	return c.api.LTP(ctx, key)
}

// NearestExpiry returns the earliest listed expiry on or after asOf's date.
// domain.ErrNotFound when every listed series has already expired.
func (c *Catalog) NearestExpiry(ctx context.Context, index domain.Index, asOf time.Time) (time.Time, error) {
	contracts, err := c.contracts(ctx, index)
	if err != nil {
		return time.Time{}, err
	}

	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	var nearest time.Time
	for _, ct := range contracts {
		expiry, err := time.ParseInLocation("2006-01-02", ct.Expiry, asOf.Location())
		if err != nil {
			continue
		}
		if expiry.Before(day) {
			continue
		}
		if nearest.IsZero() || expiry.Before(nearest) {
			nearest = expiry
		}
	}
	if nearest.IsZero() {
		return time.Time{}, fmt.Errorf("upstox: nearest expiry for %s: %w", index, domain.ErrNotFound)
	}
	return nearest, nil
}

// Lookup resolves one (index, expiry, strike, type) tuple to its canonical
// instrument. domain.ErrNotFound when the contract is not listed.
func (c *Catalog) Lookup(ctx context.Context, index domain.Index, expiry time.Time, strike float64, ot domain.OptionType) (domain.Instrument, error) {
	contracts, err := c.contracts(ctx, index)
	if err != nil {
		return domain.Instrument{}, err
	}

	want := expiry.Format("2006-01-02")
	for _, ct := range contracts {
		if ct.Expiry == want && ct.StrikePrice == strike && ct.InstrumentType == string(ot) {
			return domain.Instrument{
				ID:         domain.InstrumentID(ct.InstrumentKey),
				Index:      index,
				Expiry:     expiry,
				Strike:     strike,
				OptionType: ot,
			}, nil
		}
	}
	return domain.Instrument{}, fmt.Errorf("upstox: lookup %s %v %s %s: %w", index, strike, ot, want, domain.ErrNotFound)
}

func (c *Catalog) contracts(ctx context.Context, index domain.Index) ([]Contract, error) {
	key, ok := underlyingKeys[index]
	if !ok {
		return nil, fmt.Errorf("upstox: contracts for %s: %w", index, domain.ErrNotFound)
	}

	now := c.clock.Now()
	c.mu.Lock()
	cached, ok := c.cache[index]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < c.ttl {
		return cached.contracts, nil
	}

	contracts, err := c.api.OptionContracts(ctx, key, "")
	if err != nil {
		// Serve stale contracts over failing the resolver outright.
		if ok {
			c.logger.Warn("contract refresh failed, serving stale cache",
				slog.String("index", string(index)), slog.Any("error", err))
			return cached.contracts, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[index] = cachedContracts{contracts: contracts, fetchedAt: now}
	c.mu.Unlock()
	c.logger.Debug("contracts refreshed",
		slog.String("index", string(index)), slog.Int("count", len(contracts)))
	return contracts, nil
}
