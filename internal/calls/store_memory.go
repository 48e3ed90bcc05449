package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord // keyed by external session id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]CallRecord{}}
}

func (s *MemoryStore) Create(ctx context.Context, rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ExternalSessionID] = rec
	return nil
}

func (s *MemoryStore) GetByExternalID(ctx context.Context, externalSessionID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[externalSessionID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ExternalSessionID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ExternalSessionID] = rec
	return nil
}

func (s *MemoryStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
