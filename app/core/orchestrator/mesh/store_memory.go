package mesh

import (
	"context"
	"sync"
)

// MemoryStore keeps delegation records in per-task buckets.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string][]DelegationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string][]DelegationRecord)}
}

func (s *MemoryStore) Append(ctx context.Context, r DelegationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.buckets[r.TaskID] = append(s.buckets[r.TaskID], r)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, taskID string) ([]DelegationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.buckets[taskID]
	out := make([]DelegationRecord, len(records))
	copy(out, records)
	return out, nil
}
