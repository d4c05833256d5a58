package local

import (
	"sync"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// InMemoryStorage keeps committed batches in memory for tests/dev usage.
type InMemoryStorage struct {
	mu      sync.Mutex
	batches []model.RecordBatch
}

// NewInMemoryStorage returns an in-memory Storage implementation.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{}
}

// Load returns a copy of the stored batch list.
func (s *InMemoryStorage) Load() ([]model.RecordBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RecordBatch(nil), s.batches...), nil
}

// Append stores batch.
func (s *InMemoryStorage) Append(batch model.RecordBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

// Close is a no-op.
func (s *InMemoryStorage) Close() error { return nil }
