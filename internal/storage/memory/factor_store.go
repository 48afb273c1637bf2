package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// FactorStore is an in-memory implementation of storage.FactorStore.
type FactorStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FactorPoint // keyed by (symbol, interval, factor, timestamp_ms)
}

// NewFactorStore creates a new in-memory factor store.
func NewFactorStore() *FactorStore {
	return &FactorStore{
		data: make(map[string]*domain.FactorPoint),
	}
}

func factorKey(p *domain.FactorPoint) string {
	return fmt.Sprintf("%s|%s|%s|%d", p.Symbol, p.Interval, p.Factor, p.TimestampMs)
}

func copyPoint(p *domain.FactorPoint) *domain.FactorPoint {
	pointCopy := *p
	if p.Value != nil {
		v := *p.Value
		pointCopy.Value = &v
	}
	return &pointCopy
}

// InsertBulk adds multiple values. Fails entire batch on duplicate.
func (s *FactorStore) InsertBulk(_ context.Context, points []*domain.FactorPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Symbol == "" || p.Factor == "" {
			return storage.ErrInvalidInput
		}
		key := factorKey(p)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		s.data[factorKey(p)] = copyPoint(p)
	}
	return nil
}

// GetBySeries retrieves all values of one factor for a series, ordered by timestamp ASC.
func (s *FactorStore) GetBySeries(_ context.Context, key domain.BarKey, factor string) ([]*domain.FactorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FactorPoint
	for _, p := range s.data {
		if p.Symbol == key.Symbol && p.Interval == key.Interval && p.Factor == factor {
			result = append(result, copyPoint(p))
		}
	}
	sortPoints(result)
	return result, nil
}

// GetByTimeRange retrieves values of every factor for a series within [start, end] (inclusive).
func (s *FactorStore) GetByTimeRange(_ context.Context, key domain.BarKey, start, end int64) ([]*domain.FactorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FactorPoint
	for _, p := range s.data {
		if p.Symbol == key.Symbol && p.Interval == key.Interval &&
			p.TimestampMs >= start && p.TimestampMs <= end {
			result = append(result, copyPoint(p))
		}
	}
	sortPoints(result)
	return result, nil
}

func sortPoints(points []*domain.FactorPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].TimestampMs != points[j].TimestampMs {
			return points[i].TimestampMs < points[j].TimestampMs
		}
		return points[i].Factor < points[j].Factor
	})
}

var _ storage.FactorStore = (*FactorStore)(nil)
