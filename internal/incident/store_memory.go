package incident

import (
	"context"
	"sort"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// MemoryStore keeps incidents in memory for tests and single-node use.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[domain.IncidentID]*Incident
	forensics map[domain.ForensicsID]*ForensicsRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[domain.IncidentID]*Incident),
		forensics: make(map[domain.ForensicsID]*ForensicsRecord),
	}
}

func (s *MemoryStore) Create(_ context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return sentinel.ErrConflict
	}
	s.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.IncidentID) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneIncident(inc), nil
}

func (s *MemoryStore) Update(_ context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, *cloneIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveForensics(_ context.Context, rec ForensicsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.forensics[rec.ID]; exists {
		return sentinel.ErrImmutable
	}
	s.forensics[rec.ID] = cloneForensics(&rec)
	return nil
}

func (s *MemoryStore) GetForensics(_ context.Context, id domain.ForensicsID) (*ForensicsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.forensics[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneForensics(rec), nil
}

func (s *MemoryStore) ListForensics(_ context.Context, incidentID domain.IncidentID) ([]ForensicsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ForensicsRecord
	for _, rec := range s.forensics {
		if rec.IncidentID == incidentID {
			out = append(out, *cloneForensics(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CollectedAt.Before(out[j].CollectedAt)
	})
	return out, nil
}

// Clones keep callers from mutating stored state through shared slices.

func cloneIncident(inc *Incident) *Incident {
	out := *inc
	out.AffectedSystems = append([]string(nil), inc.AffectedSystems...)
	out.AffectedUsers = append([]string(nil), inc.AffectedUsers...)
	out.Responders = append([]string(nil), inc.Responders...)
	out.Timeline = append([]TimelineEntry(nil), inc.Timeline...)
	out.Containment = append([]ContainmentAction(nil), inc.Containment...)
	if inc.InitialFindings != nil {
		out.InitialFindings = make(map[string]any, len(inc.InitialFindings))
		for k, v := range inc.InitialFindings {
			out.InitialFindings[k] = v
		}
	}
	return &out
}

func cloneForensics(rec *ForensicsRecord) *ForensicsRecord {
	out := *rec
	out.Snapshots = cloneByteMap(rec.Snapshots)
	out.LogExtracts = cloneByteMap(rec.LogExtracts)
	return &out
}

func cloneByteMap(in map[string][]byte) map[string][]byte {
	if in == nil {
		return nil
	}
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
