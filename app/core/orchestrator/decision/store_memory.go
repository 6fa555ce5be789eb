package decision

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

type memoryRecord struct {
	seq uint64
	d   Decision
}

type memoryBucket struct {
	mu      sync.Mutex
	records []memoryRecord
}

// MemoryStore keeps decisions in per-task buckets. Appends to different
// tasks never contend on the same lock; the registry lock is held only to
// look up or create a bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
	seq     atomic.Uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryStore) Append(ctx context.Context, d Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket := s.bucket(d.TaskID)
	record := memoryRecord{seq: s.seq.Add(1), d: d}

	bucket.mu.Lock()
	bucket.records = append(bucket.records, record)
	bucket.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, taskID string, limit int) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []memoryRecord
	if taskID != "" {
		s.mu.RLock()
		bucket := s.buckets[taskID]
		s.mu.RUnlock()
		if bucket == nil {
			return []Decision{}, nil
		}
		bucket.mu.Lock()
		records = append(records, bucket.records...)
		bucket.mu.Unlock()
	} else {
		s.mu.RLock()
		buckets := make([]*memoryBucket, 0, len(s.buckets))
		for _, b := range s.buckets {
			buckets = append(buckets, b)
		}
		s.mu.RUnlock()
		for _, b := range buckets {
			b.mu.Lock()
			records = append(records, b.records...)
			b.mu.Unlock()
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].seq > records[j].seq
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]Decision, 0, len(records))
	for _, r := range records {
		out = append(out, r.d)
	}
	return out, nil
}

func (s *MemoryStore) bucket(taskID string) *memoryBucket {
	s.mu.RLock()
	bucket := s.buckets[taskID]
	s.mu.RUnlock()
	if bucket != nil {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket = s.buckets[taskID]; bucket == nil {
		bucket = &memoryBucket{}
		s.buckets[taskID] = bucket
	}
	return bucket
}
