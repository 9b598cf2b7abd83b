package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// fakeCatalog lists every strike between minStrike and maxStrike for a fixed
// expiry, minting deterministic instrument ids.
type fakeCatalog struct {
	expiry    time.Time
	expiryErr error
	minStrike float64
	maxStrike float64
}

func (f *fakeCatalog) NearestExpiry(ctx context.Context, index domain.Index, asOf time.Time) (time.Time, error) {
	if f.expiryErr != nil {
		return time.Time{}, f.expiryErr
	}
	return f.expiry, nil
}

func (f *fakeCatalog) Lookup(ctx context.Context, index domain.Index, expiry time.Time, strike float64, ot domain.OptionType) (domain.Instrument, error) {
	if strike < f.minStrike || strike > f.maxStrike {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return domain.Instrument{
		ID:         domain.InstrumentID(fmt.Sprintf("NSE_FO|%s%.0f%s", index, strike, ot)),
		Index:      index,
		Expiry:     expiry,
		Strike:     strike,
		OptionType: ot,
	}, nil
}

func (f *fakeCatalog) SpotPrice(ctx context.Context, index domain.Index) (float64, error) {
	return 0, domain.ErrNotFound
}

func TestATMStrike(t *testing.T) {
	tests := []struct {
		name string
		spot float64
		step float64
		want float64
	}{
		{"rounds down", 26224.0, 50, 26200},
		{"rounds up", 26226.0, 50, 26250},
		{"midpoint rounds away from zero", 26225.0, 50, 26250},
		{"banknifty step", 57881.0, 100, 57900},
		{"exact strike", 26200.0, 50, 26200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ATMStrike(tt.spot, tt.step))
		})
	}
}

func TestResolveFullBand(t *testing.T) {
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{expiry: expiry, minStrike: 0, maxStrike: 100000}
	r := New(cat)

	got, err := r.Resolve(context.Background(), domain.IndexNifty, 26224, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 32)

	// Calls first, ascending from ATM.
	assert.Equal(t, 26200.0, got[0].Strike)
	assert.Equal(t, domain.OptionCall, got[0].OptionType)
	assert.Equal(t, 26950.0, got[15].Strike)

	// Then puts, descending from ATM.
	assert.Equal(t, 26200.0, got[16].Strike)
	assert.Equal(t, domain.OptionPut, got[16].OptionType)
	assert.Equal(t, 25450.0, got[31].Strike)

	for _, in := range got {
		assert.Equal(t, expiry, in.Expiry)
	}
}

func TestResolveDeterministic(t *testing.T) {
	cat := &fakeCatalog{expiry: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), maxStrike: 100000}
	r := New(cat)
	asOf := time.Date(2026, 8, 24, 9, 45, 0, 0, time.UTC)

	first, err := r.Resolve(context.Background(), domain.IndexBankNifty, 57881, asOf)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), domain.IndexBankNifty, 57881, asOf)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveSkipsUnlistedStrikes(t *testing.T) {
	// Only strikes up to 26300 are listed: calls past that are skipped.
	cat := &fakeCatalog{expiry: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), minStrike: 20000, maxStrike: 26300}
	r := New(cat)

	got, err := r.Resolve(context.Background(), domain.IndexNifty, 26200, time.Now())
	require.NoError(t, err)

	// 3 calls (26200..26300) + 16 puts (26200..25450).
	assert.Len(t, got, 19)
}

func TestResolveNoExpiry(t *testing.T) {
	cat := &fakeCatalog{expiryErr: domain.ErrNotFound}
	r := New(cat)

	_, err := r.Resolve(context.Background(), domain.IndexNifty, 26200, time.Now())
	var resErr *domain.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, domain.IndexNifty, resErr.Index)
}

func TestResolveBadInputs(t *testing.T) {
	cat := &fakeCatalog{expiry: time.Now().AddDate(0, 0, 3), maxStrike: 100000}
	r := New(cat)

	var resErr *domain.ResolutionError
	_, err := r.Resolve(context.Background(), domain.Index("DAX"), 18000, time.Now())
	require.ErrorAs(t, err, &resErr)

	_, err = r.Resolve(context.Background(), domain.IndexNifty, 0, time.Now())
	require.ErrorAs(t, err, &resErr)
}
