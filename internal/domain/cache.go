package domain

import (
	"context"
	"time"
)

// EnrichmentReader provides read access to the per-symbol intelligence the
// scoring engines consume. Implementations must tolerate a bundle being
// absent (return ErrNotFound) or partially populated; the engines normalize
// absence to neutral themselves.
type EnrichmentReader interface {
	GetBundle(ctx context.Context, symbol string) (FeatureBundle, error)
	GetExpandedIntel(ctx context.Context, symbol string) (ExpandedIntel, error)
}

// EnrichmentCache is the full read/write surface used by the intake side.
type EnrichmentCache interface {
	EnrichmentReader
	SetBundle(ctx context.Context, bundle FeatureBundle) error
	SetExpandedIntel(ctx context.Context, intel ExpandedIntel) error
}

// MarkCache provides fast access to the latest mark price per symbol.
type MarkCache interface {
	SetMark(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetMark(ctx context.Context, symbol string) (float64, time.Time, error)
	GetMarks(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RegimeCache stores the current market-regime classification and its history.
type RegimeCache interface {
	SetCurrent(ctx context.Context, state RegimeState) error
	Current(ctx context.Context) (RegimeState, error)
	History(ctx context.Context, limit int) ([]RegimeState, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
