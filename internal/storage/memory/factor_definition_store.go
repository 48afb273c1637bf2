package memory

import (
	"context"
	"sort"
	"sync"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// FactorDefinitionStore is an in-memory implementation of storage.FactorDefinitionStore.
type FactorDefinitionStore struct {
	mu     sync.RWMutex
	byName map[string]*domain.FactorDefinition
}

// NewFactorDefinitionStore creates a new in-memory factor definition store.
func NewFactorDefinitionStore() *FactorDefinitionStore {
	return &FactorDefinitionStore{
		byName: make(map[string]*domain.FactorDefinition),
	}
}

// Insert adds a definition. Returns ErrDuplicateKey if name exists.
func (s *FactorDefinitionStore) Insert(ctx context.Context, d *domain.FactorDefinition) error {
	return s.InsertBulk(ctx, []*domain.FactorDefinition{d})
}

// InsertBulk adds multiple definitions atomically.
func (s *FactorDefinitionStore) InsertBulk(_ context.Context, defs []*domain.FactorDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if d == nil || d.Name == "" || d.Formula == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.byName[d.Name]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[d.Name]; exists {
			return storage.ErrDuplicateKey
		}
		batch[d.Name] = struct{}{}
	}

	for _, d := range defs {
		defCopy := *d
		s.byName[d.Name] = &defCopy
	}
	return nil
}

// GetByName retrieves a definition. Returns ErrNotFound if not exists.
func (s *FactorDefinitionStore) GetByName(_ context.Context, name string) (*domain.FactorDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.byName[name]
	if !exists {
		return nil, storage.ErrNotFound
	}
	defCopy := *d
	return &defCopy, nil
}

// GetByGroup retrieves all definitions of a group, ordered by name.
func (s *FactorDefinitionStore) GetByGroup(_ context.Context, group string) ([]*domain.FactorDefinition, error) {
	return s.collect(func(d *domain.FactorDefinition) bool { return d.Group == group }), nil
}

// GetAll retrieves all definitions, ordered by name.
func (s *FactorDefinitionStore) GetAll(_ context.Context) ([]*domain.FactorDefinition, error) {
	return s.collect(func(*domain.FactorDefinition) bool { return true }), nil
}

func (s *FactorDefinitionStore) collect(match func(*domain.FactorDefinition) bool) []*domain.FactorDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FactorDefinition
	for _, d := range s.byName {
		if match(d) {
			defCopy := *d
			result = append(result, &defCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

var _ storage.FactorDefinitionStore = (*FactorDefinitionStore)(nil)
