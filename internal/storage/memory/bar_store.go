package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Bar // keyed by (symbol, interval, timestamp_ms)
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[string]*domain.Bar),
	}
}

func barKey(symbol, interval string, timestampMs int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, interval, timestampMs)
}

// InsertBulk adds multiple bars. Fails entire batch on duplicate.
func (s *BarStore) InsertBulk(_ context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(bars))
	for _, b := range bars {
		if b == nil || b.Symbol == "" || b.Interval == "" {
			return storage.ErrInvalidInput
		}
		key := barKey(b.Symbol, b.Interval, b.TimestampMs)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, b := range bars {
		barCopy := *b
		s.data[barKey(b.Symbol, b.Interval, b.TimestampMs)] = &barCopy
	}
	return nil
}

// GetBySeries retrieves all bars of a series, ordered by timestamp ASC.
func (s *BarStore) GetBySeries(_ context.Context, key domain.BarKey) ([]*domain.Bar, error) {
	return s.filter(func(b *domain.Bar) bool {
		return b.Symbol == key.Symbol && b.Interval == key.Interval
	}), nil
}

// GetByTimeRange retrieves bars of a series within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(_ context.Context, key domain.BarKey, start, end int64) ([]*domain.Bar, error) {
	return s.filter(func(b *domain.Bar) bool {
		return b.Symbol == key.Symbol && b.Interval == key.Interval &&
			b.TimestampMs >= start && b.TimestampMs <= end
	}), nil
}

// ListSeries returns every stored series, ordered by symbol then interval.
func (s *BarStore) ListSeries(_ context.Context) ([]domain.BarKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.BarKey]struct{})
	for _, b := range s.data {
		seen[domain.BarKey{Symbol: b.Symbol, Interval: b.Interval}] = struct{}{}
	}
	keys := make([]domain.BarKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Interval < keys[j].Interval
	})
	return keys, nil
}

func (s *BarStore) filter(match func(*domain.Bar) bool) []*domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bar
	for _, b := range s.data {
		if match(b) {
			barCopy := *b
			result = append(result, &barCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result
}

var _ storage.BarStore = (*BarStore)(nil)
