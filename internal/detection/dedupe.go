package detection

import (
	"context"
	"sync"
	"time"
)

// DedupeStore remembers which rule matches have already raised an incident.
// MarkIfNew returns true exactly once per key until the TTL lapses.
type DedupeStore interface {
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryDedupe is the in-process dedupe store for tests and single-node use.
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]time.Time)}
}

func (d *MemoryDedupe) MarkIfNew(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, expiry := range d.seen {
		if expiry.Before(now) {
			delete(d.seen, k)
		}
	}
	if _, exists := d.seen[key]; exists {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}
