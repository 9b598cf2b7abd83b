package upstox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

type fakeAPI struct {
	ltp       float64
	contracts []Contract
	calls     int
	err       error
}

func (f *fakeAPI) LTP(ctx context.Context, instrumentKey string) (float64, error) {
	return f.ltp, nil
}

func (f *fakeAPI) OptionContracts(ctx context.Context, underlyingKey, expiry string) ([]Contract, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.contracts, nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testContracts() []Contract {
	return []Contract{
		{InstrumentKey: "NSE_FO|46051", Expiry: "2026-08-27", StrikePrice: 26200, InstrumentType: "CE"},
		{InstrumentKey: "NSE_FO|46052", Expiry: "2026-08-27", StrikePrice: 26200, InstrumentType: "PE"},
		{InstrumentKey: "NSE_FO|47001", Expiry: "2026-09-03", StrikePrice: 26200, InstrumentType: "CE"},
		{InstrumentKey: "NSE_FO|40001", Expiry: "2026-08-20", StrikePrice: 26200, InstrumentType: "CE"},
	}
}

func TestNearestExpirySkipsExpired(t *testing.T) {
	api := &fakeAPI{contracts: testContracts()}
	cat := NewCatalog(api, &fixedClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}, discard(), time.Minute)

	got, err := cat.NearestExpiry(context.Background(), domain.IndexNifty, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-08-27", got.Format("2006-01-02"))
}

func TestNearestExpiryNoneLeft(t *testing.T) {
	api := &fakeAPI{contracts: []Contract{{Expiry: "2026-08-20", StrikePrice: 26200, InstrumentType: "CE"}}}
	cat := NewCatalog(api, &fixedClock{now: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)}, discard(), time.Minute)

	_, err := cat.NearestExpiry(context.Background(), domain.IndexNifty, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLookup(t *testing.T) {
	api := &fakeAPI{contracts: testContracts()}
	cat := NewCatalog(api, &fixedClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}, discard(), time.Minute)
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	in, err := cat.Lookup(context.Background(), domain.IndexNifty, expiry, 26200, domain.OptionCall)
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentID("NSE_FO|46051"), in.ID)
	assert.Equal(t, domain.OptionCall, in.OptionType)

	_, err = cat.Lookup(context.Background(), domain.IndexNifty, expiry, 99999, domain.OptionCall)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContractsCachedWithinTTL(t *testing.T) {
	api := &fakeAPI{contracts: testContracts()}
	cat := NewCatalog(api, &fixedClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}, discard(), time.Minute)
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := cat.Lookup(ctx, domain.IndexNifty, expiry, 26200, domain.OptionCall)
	require.NoError(t, err)
	_, err = cat.Lookup(ctx, domain.IndexNifty, expiry, 26200, domain.OptionPut)
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls, "second lookup served from cache")
}

func TestContractsServeStaleOnRefreshFailure(t *testing.T) {
	api := &fakeAPI{contracts: testContracts()}
	clock := &fixedClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	cat := NewCatalog(api, clock, discard(), time.Nanosecond) // every call refreshes
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := cat.Lookup(ctx, domain.IndexNifty, expiry, 26200, domain.OptionCall)
	require.NoError(t, err)

	api.err = assert.AnError
	clock.now = clock.now.Add(time.Second) // cache is now stale
	in, err := cat.Lookup(ctx, domain.IndexNifty, expiry, 26200, domain.OptionCall)
	require.NoError(t, err, "stale cache keeps the resolver working")
	assert.Equal(t, domain.InstrumentID("NSE_FO|46051"), in.ID)
}

func TestUnknownIndex(t *testing.T) {
	cat := NewCatalog(&fakeAPI{}, &fixedClock{}, discard(), time.Minute)
	_, err := cat.SpotPrice(context.Background(), domain.Index("DAX"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
