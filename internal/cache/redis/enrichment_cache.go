package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultIntelTTL bounds how long a bundle can serve reads when the poller
// falls behind. The freshness discount in scoring handles staleness within
// this window.
const defaultIntelTTL = 15 * time.Minute

// EnrichmentCache implements domain.EnrichmentCache using JSON-serialized
// snapshots in Redis strings.
//
// Key schema:
//
//	intel:bundle:{symbol}   - JSON FeatureBundle
//	intel:expanded:{symbol} - JSON ExpandedIntel
type EnrichmentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEnrichmentCache creates an EnrichmentCache backed by the given Client.
// A non-positive ttl falls back to the default.
func NewEnrichmentCache(c *Client, ttl time.Duration) *EnrichmentCache {
	if ttl <= 0 {
		ttl = defaultIntelTTL
	}
	return &EnrichmentCache{rdb: c.Underlying(), ttl: ttl}
}

func bundleKey(symbol string) string   { return "intel:bundle:" + symbol }
func expandedKey(symbol string) string { return "intel:expanded:" + symbol }

// SetBundle stores the latest flow snapshot for a symbol.
func (ec *EnrichmentCache) SetBundle(ctx context.Context, bundle domain.FeatureBundle) error {
	if bundle.Symbol == "" {
		return fmt.Errorf("redis: set bundle: %w", domain.ErrPolicyViolation)
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("redis: marshal bundle %s: %w", bundle.Symbol, err)
	}
	if err := ec.rdb.Set(ctx, bundleKey(bundle.Symbol), data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set bundle %s: %w", bundle.Symbol, err)
	}
	return nil
}

// GetBundle retrieves the latest flow snapshot for a symbol.
// It returns domain.ErrNotFound when no bundle is cached.
func (ec *EnrichmentCache) GetBundle(ctx context.Context, symbol string) (domain.FeatureBundle, error) {
	data, err := ec.rdb.Get(ctx, bundleKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FeatureBundle{}, domain.ErrNotFound
		}
		return domain.FeatureBundle{}, fmt.Errorf("redis: get bundle %s: %w", symbol, err)
	}

	var bundle domain.FeatureBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return domain.FeatureBundle{}, fmt.Errorf("redis: unmarshal bundle %s: %w", symbol, err)
	}
	return bundle, nil
}

// SetExpandedIntel stores the slower-moving auxiliary feeds for a symbol.
func (ec *EnrichmentCache) SetExpandedIntel(ctx context.Context, intel domain.ExpandedIntel) error {
	if intel.Symbol == "" {
		return fmt.Errorf("redis: set expanded intel: %w", domain.ErrPolicyViolation)
	}
	data, err := json.Marshal(intel)
	if err != nil {
		return fmt.Errorf("redis: marshal expanded intel %s: %w", intel.Symbol, err)
	}
	if err := ec.rdb.Set(ctx, expandedKey(intel.Symbol), data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set expanded intel %s: %w", intel.Symbol, err)
	}
	return nil
}

// GetExpandedIntel retrieves the auxiliary feeds for a symbol.
// It returns domain.ErrNotFound when nothing is cached; scoring treats that
// as all-neutral.
func (ec *EnrichmentCache) GetExpandedIntel(ctx context.Context, symbol string) (domain.ExpandedIntel, error) {
	data, err := ec.rdb.Get(ctx, expandedKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ExpandedIntel{}, domain.ErrNotFound
		}
		return domain.ExpandedIntel{}, fmt.Errorf("redis: get expanded intel %s: %w", symbol, err)
	}

	var intel domain.ExpandedIntel
	if err := json.Unmarshal(data, &intel); err != nil {
		return domain.ExpandedIntel{}, fmt.Errorf("redis: unmarshal expanded intel %s: %w", symbol, err)
	}
	return intel, nil
}

// Compile-time interface check.
var _ domain.EnrichmentCache = (*EnrichmentCache)(nil)
