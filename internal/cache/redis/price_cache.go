package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polysniper/polysniper/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// top of book is stored at key "price:{assetID}" with fields "bid", "ask",
// and "ts" (Unix nanosecond timestamp). The hash expires on its own so a
// crashed feed never leaves stale quotes behind for operator tooling.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. ttl bounds
// how long a quote survives without a refresh; zero means no expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(assetID string) string {
	return "price:" + assetID
}

// SetPrice stores the latest bid/ask and timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, bid, ask float64, ts time.Time) error {
	key := priceKey(assetID)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice retrieves the latest bid/ask and timestamp for an asset.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (bid, ask float64, ts time.Time, err error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	bid, err = strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse bid %s: %w", assetID, err)
	}
	ask, err = strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ask %s: %w", assetID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", assetID, err)
	}

	return bid, ask, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
