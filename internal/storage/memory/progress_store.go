package memory

import (
	"context"
	"sync"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// ProgressStore is an in-memory implementation of storage.ProgressStore.
type ProgressStore struct {
	mu       sync.RWMutex
	progress map[domain.BarKey]storage.ComputeProgress
}

// NewProgressStore creates a new in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		progress: make(map[domain.BarKey]storage.ComputeProgress),
	}
}

// GetLastProcessed returns progress for a series.
func (s *ProgressStore) GetLastProcessed(_ context.Context, key domain.BarKey) (*storage.ComputeProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// SetLastProcessed saves progress for a series.
func (s *ProgressStore) SetLastProcessed(_ context.Context, progress *storage.ComputeProgress) error {
	if progress == nil || progress.Symbol == "" || progress.Interval == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[domain.BarKey{Symbol: progress.Symbol, Interval: progress.Interval}] = *progress
	return nil
}

var _ storage.ProgressStore = (*ProgressStore)(nil)
