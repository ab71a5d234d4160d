package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MarkCache implements domain.MarkCache using Redis hashes.
// Each symbol's latest mark is stored as a hash at key "mark:{symbol}" with
// fields "price" and "ts" (Unix nanosecond timestamp).
type MarkCache struct {
	rdb *redis.Client
}

// NewMarkCache creates a MarkCache backed by the given Client.
func NewMarkCache(c *Client) *MarkCache {
	return &MarkCache{rdb: c.Underlying()}
}

func markKey(symbol string) string {
	return "mark:" + symbol
}

// SetMark stores the latest mark price and timestamp for a symbol.
func (mc *MarkCache) SetMark(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := markKey(symbol)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := mc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", symbol, err)
	}
	return nil
}

// GetMark retrieves the latest mark price and timestamp for a symbol.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarkCache) GetMark(ctx context.Context, symbol string) (float64, time.Time, error) {
	key := markKey(symbol)
	vals, err := mc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get mark %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", symbol, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetMarks retrieves the latest marks for multiple symbols using a pipeline.
// Symbols whose keys do not exist are silently omitted from the result map.
func (mc *MarkCache) GetMarks(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := mc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, markKey(sym))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get marks pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[sym] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.MarkCache = (*MarkCache)(nil)
