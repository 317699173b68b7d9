package compliance

import (
	"context"
	"sync"
	"time"
)

// SnapshotStore retains superseded score snapshots for trend reporting.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	ListRange(ctx context.Context, from, to time.Time) ([]Snapshot, error)
}

// MemorySnapshotStore keeps snapshots in memory, oldest first.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots []Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Save(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *MemorySnapshotStore) ListRange(_ context.Context, from, to time.Time) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for _, snap := range s.snapshots {
		if !snap.ComputedAt.Before(from) && snap.ComputedAt.Before(to) {
			out = append(out, snap)
		}
	}
	return out, nil
}
