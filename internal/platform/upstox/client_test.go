package upstox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, nil
}

func TestAuthorizeFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/feed/market-data-feed/authorize", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"success","data":{"authorized_redirect_uri":"wss://feed.example/ws?auth=abc"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, 0)
	uri, err := c.AuthorizeFeed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example/ws?auth=abc", uri)
}

func TestAuthorizeFeedEmptyURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, 0)
	_, err := c.AuthorizeFeed(context.Background())
	assert.Error(t, err)
}

func TestLTPParsesFirstEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "NSE_INDEX|Nifty 50", r.URL.Query().Get("instrument_key"))
		w.Write([]byte(`{"status":"success","data":{"NSE_INDEX:Nifty 50":{"last_price":26123.45}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, 0)
	price, err := c.LTP(context.Background(), "NSE_INDEX|Nifty 50")
	require.NoError(t, err)
	assert.InDelta(t, 26123.45, price, 1e-9)
}

func TestClientHonoursRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server when the limiter denies it")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", denyLimiter{}, 0)
	_, err := c.LTP(context.Background(), "NSE_INDEX|Nifty 50")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestClientMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, 0)
	_, err := c.OptionContracts(context.Background(), "NSE_INDEX|Nifty 50", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
