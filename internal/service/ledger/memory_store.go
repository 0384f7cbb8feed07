package ledger

import (
	"context"
	"sync"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// MemoryStore is the in-process CounterStore. Correct for single-process
// deployments; durable deployments back the ledger with the postgres store
// instead.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]values.Quantity
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]values.Quantity)}
}

func (s *MemoryStore) Total(_ context.Context, key string) (values.Quantity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[key], nil
}

func (s *MemoryStore) Add(_ context.Context, key string, delta values.Quantity) (values.Quantity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.buckets[key].Add(delta)
	s.buckets[key] = total
	return total, nil
}
