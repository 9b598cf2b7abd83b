package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// ltpTTL expires stale quotes; anything older than a trading day is noise.
const ltpTTL = 12 * time.Hour

// PriceCache implements domain.PriceCache using Redis hashes. Each
// instrument's quote lives at "ltp:{instrumentID}" with fields "price" and
// "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(id domain.InstrumentID) string {
	return "ltp:" + string(id)
}

// SetPrice stores the latest traded price and timestamp for an instrument.
func (pc *PriceCache) SetPrice(ctx context.Context, id domain.InstrumentID, price float64, ts time.Time) error {
	key := priceKey(id)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ltpTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", id, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an instrument. It
// returns domain.ErrNotFound when no quote is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, id domain.InstrumentID) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(id)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", id, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", id, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", id, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for multiple instruments in one
// pipeline. Instruments without a cached quote are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, ids []domain.InstrumentID) (map[domain.InstrumentID]float64, error) {
	if len(ids) == 0 {
		return map[domain.InstrumentID]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[domain.InstrumentID]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[domain.InstrumentID]float64, len(ids))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(vals["price"], 64)
		if err != nil {
			continue
		}
		result[id] = price
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
