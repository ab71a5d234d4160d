package executor

import (
	"sync"
	"time"
)

// Dedup suppresses repeat entry candidates for the same symbol within a
// configurable time-to-live window. Scanners re-fire on every intel refresh
// while a surge lasts; only the first candidate per symbol should reach the
// book. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // symbol -> last accepted time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers a symbol a duplicate if a
// candidate for it was accepted within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if a candidate for the symbol has been accepted
// within the TTL window. Otherwise the symbol is recorded and false returned.
func (d *Dedup) IsDuplicate(symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[symbol]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[symbol] = now
	return false
}

// Forget clears the symbol's dedup entry so a fresh candidate can pass
// immediately. Called when a position in the symbol closes.
func (d *Dedup) Forget(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, symbol)
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for symbol, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, symbol)
		}
	}
}
