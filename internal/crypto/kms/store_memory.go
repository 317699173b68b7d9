package kms

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

// MemoryStore is an in-memory key store for tests and single-node use.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *rec
	s.keys[rec.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) ActiveByPurpose(_ context.Context, purpose Purpose) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.keys {
		if rec.Purpose == purpose && rec.Status == StatusActive {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, retiredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Status = status
	if status != StatusActive {
		rec.RetiredAt = retiredAt
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, purpose Purpose) ([]*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*record
	for _, rec := range s.keys {
		if purpose == "" || rec.Purpose == purpose {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}
