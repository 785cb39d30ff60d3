// Package cache publishes live price snapshots to Redis so the API layer
// can serve them without touching the primary store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const priceKeyPrefix = "fam:price:"

// Snapshots are short-lived on purpose: a price that stopped refreshing
// should disappear from the cache rather than be served stale forever.
const snapshotTTL = time.Hour

// PriceSnapshot is the cached live-price record for one instrument.
type PriceSnapshot struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceCache wraps the Redis client. A nil *PriceCache is valid and turns
// every operation into a no-op, so callers never have to branch on whether
// caching is configured.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache connects to Redis and verifies the connection.
func NewPriceCache(ctx context.Context, addr, password string) (*PriceCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &PriceCache{rdb: rdb}, nil
}

// NewPriceCacheFromClient wraps an existing client (used by tests).
func NewPriceCacheFromClient(rdb *redis.Client) *PriceCache {
	return &PriceCache{rdb: rdb}
}

// SetPrice stores the latest price snapshot for a ticker.
func (c *PriceCache) SetPrice(ctx context.Context, snapshot PriceSnapshot) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal price snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, priceKeyPrefix+snapshot.Ticker, payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache price for %s: %w", snapshot.Ticker, err)
	}
	return nil
}

// GetPrice returns the cached snapshot for a ticker, nil on a miss.
func (c *PriceCache) GetPrice(ctx context.Context, ticker string) (*PriceSnapshot, error) {
	if c == nil {
		return nil, nil
	}
	payload, err := c.rdb.Get(ctx, priceKeyPrefix+ticker).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached price for %s: %w", ticker, err)
	}
	var snapshot PriceSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cached price for %s: %w", ticker, err)
	}
	return &snapshot, nil
}

// Close releases the underlying Redis connection.
func (c *PriceCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
