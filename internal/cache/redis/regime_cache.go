package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// regimeHistoryMax caps the retained history of regime transitions.
const regimeHistoryMax = 500

// RegimeCache implements domain.RegimeCache using a string for the current
// classification and a capped list for the history.
//
// Key schema:
//
//	regime:current - JSON RegimeState
//	regime:history - list of JSON RegimeState, newest first
type RegimeCache struct {
	rdb *redis.Client
}

// NewRegimeCache creates a RegimeCache backed by the given Client.
func NewRegimeCache(c *Client) *RegimeCache {
	return &RegimeCache{rdb: c.Underlying()}
}

const (
	regimeCurrentKey = "regime:current"
	regimeHistoryKey = "regime:history"
)

// SetCurrent stores the latest regime classification. When the label changed
// from the previously stored state, the new state is also prepended to the
// history list.
func (rc *RegimeCache) SetCurrent(ctx context.Context, state domain.RegimeState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal regime: %w", err)
	}

	prev, err := rc.Current(ctx)
	changed := errors.Is(err, domain.ErrNotFound) || (err == nil && prev.Regime != state.Regime)

	pipe := rc.rdb.TxPipeline()
	pipe.Set(ctx, regimeCurrentKey, data, 0)
	if changed {
		pipe.LPush(ctx, regimeHistoryKey, data)
		pipe.LTrim(ctx, regimeHistoryKey, 0, regimeHistoryMax-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set regime: %w", err)
	}
	return nil
}

// Current retrieves the latest regime classification.
// It returns domain.ErrNotFound when no classification has been stored yet.
func (rc *RegimeCache) Current(ctx context.Context) (domain.RegimeState, error) {
	data, err := rc.rdb.Get(ctx, regimeCurrentKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RegimeState{}, domain.ErrNotFound
		}
		return domain.RegimeState{}, fmt.Errorf("redis: get regime: %w", err)
	}

	var state domain.RegimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.RegimeState{}, fmt.Errorf("redis: unmarshal regime: %w", err)
	}
	return state, nil
}

// History returns up to limit regime transitions, newest first.
func (rc *RegimeCache) History(ctx context.Context, limit int) ([]domain.RegimeState, error) {
	if limit <= 0 || limit > regimeHistoryMax {
		limit = regimeHistoryMax
	}

	raw, err := rc.rdb.LRange(ctx, regimeHistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: regime history: %w", err)
	}

	out := make([]domain.RegimeState, 0, len(raw))
	for _, item := range raw {
		var state domain.RegimeState
		if err := json.Unmarshal([]byte(item), &state); err != nil {
			continue
		}
		out = append(out, state)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.RegimeCache = (*RegimeCache)(nil)
