// Package upstox is the REST client for the Upstox v2 API: index spot
// quotes and option contract listings. It backs the instrument catalog the
// resolver queries.
package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

const (
	// DefaultBaseURL is the Upstox v2 API root.
	DefaultBaseURL = "https://api.upstox.com/v2"

	// rateLimitKey groups all REST calls under one limiter bucket.
	rateLimitKey = "upstox:rest"
	// defaultRatePerSecond mirrors the broker's documented request ceiling.
	defaultRatePerSecond = 25
	rateLimitWindow      = time.Second
)

// Client is the REST client for the Upstox v2 API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    domain.RateLimiter
	perSecond  int
}

// NewClient creates a client authenticated with the given access token.
// limiter may be nil, in which case requests are not throttled locally.
// perSecond caps requests per second; <= 0 uses the broker's documented limit.
func NewClient(baseURL, token string, limiter domain.RateLimiter, perSecond int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if perSecond <= 0 {
		perSecond = defaultRatePerSecond
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:   limiter,
		perSecond: perSecond,
	}
}

// LTP returns the last traded price for one instrument key.
func (c *Client) LTP(ctx context.Context, instrumentKey string) (float64, error) {
	params := url.Values{}
	params.Set("instrument_key", instrumentKey)

	body, err := c.doGet(ctx, "/market-quote/ltp?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("upstox: ltp %s: %w", instrumentKey, err)
	}

	var resp ltpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("upstox: decode ltp: %w", err)
	}
	for _, entry := range resp.Data {
		return entry.LastPrice, nil
	}
	return 0, fmt.Errorf("upstox: ltp %s: %w", instrumentKey, domain.ErrNotFound)
}

// OptionContracts lists the option contracts for an underlying, optionally
// filtered to one expiry date (formatted "2006-01-02").
func (c *Client) OptionContracts(ctx context.Context, underlyingKey, expiry string) ([]Contract, error) {
	params := url.Values{}
	params.Set("instrument_key", underlyingKey)
	if expiry != "" {
		params.Set("expiry_date", expiry)
	}

	body, err := c.doGet(ctx, "/option/contract?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("upstox: option contracts %s: %w", underlyingKey, err)
	}

	var resp contractResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("upstox: decode contracts: %w", err)
	}
	return resp.Data, nil
}

// AuthorizeFeed returns a single-use authorized WebSocket URL for the
// market data feed. Each (re)connect needs a fresh one.
func (c *Client) AuthorizeFeed(ctx context.Context) (string, error) {
	body, err := c.doGet(ctx, "/feed/market-data-feed/authorize")
	if err != nil {
		return "", fmt.Errorf("upstox: authorize feed: %w", err)
	}

	var resp feedAuthorizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("upstox: decode feed authorize: %w", err)
	}
	if resp.Data.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("upstox: authorize feed: empty redirect uri")
	}
	return resp.Data.AuthorizedRedirectURI, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.perSecond, rateLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
