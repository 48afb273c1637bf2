package observability

import (
	"context"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// BarStore records query latency and errors of a wrapped bar store.
type BarStore struct {
	next     storage.BarStore
	metrics  *Metrics
	database string
}

var _ storage.BarStore = (*BarStore)(nil)

// InstrumentBarStore wraps s. database labels the recorded metrics.
func InstrumentBarStore(s storage.BarStore, m *Metrics, database string) *BarStore {
	return &BarStore{next: s, metrics: m, database: database}
}

func (s *BarStore) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	started := time.Now()
	err := s.next.InsertBulk(ctx, bars)
	s.metrics.RecordDBQuery(s.database, "bars_insert", started, err)
	return err
}

func (s *BarStore) GetBySeries(ctx context.Context, key domain.BarKey) ([]*domain.Bar, error) {
	started := time.Now()
	out, err := s.next.GetBySeries(ctx, key)
	s.metrics.RecordDBQuery(s.database, "bars_get_series", started, err)
	return out, err
}

func (s *BarStore) GetByTimeRange(ctx context.Context, key domain.BarKey, start, end int64) ([]*domain.Bar, error) {
	started := time.Now()
	out, err := s.next.GetByTimeRange(ctx, key, start, end)
	s.metrics.RecordDBQuery(s.database, "bars_get_range", started, err)
	return out, err
}

func (s *BarStore) ListSeries(ctx context.Context) ([]domain.BarKey, error) {
	started := time.Now()
	out, err := s.next.ListSeries(ctx)
	s.metrics.RecordDBQuery(s.database, "bars_list_series", started, err)
	return out, err
}

// FactorStore records query latency and errors of a wrapped factor store.
type FactorStore struct {
	next     storage.FactorStore
	metrics  *Metrics
	database string
}

var _ storage.FactorStore = (*FactorStore)(nil)

func InstrumentFactorStore(s storage.FactorStore, m *Metrics, database string) *FactorStore {
	return &FactorStore{next: s, metrics: m, database: database}
}

func (s *FactorStore) InsertBulk(ctx context.Context, points []*domain.FactorPoint) error {
	started := time.Now()
	err := s.next.InsertBulk(ctx, points)
	s.metrics.RecordDBQuery(s.database, "factors_insert", started, err)
	return err
}

func (s *FactorStore) GetBySeries(ctx context.Context, key domain.BarKey, factor string) ([]*domain.FactorPoint, error) {
	started := time.Now()
	out, err := s.next.GetBySeries(ctx, key, factor)
	s.metrics.RecordDBQuery(s.database, "factors_get_series", started, err)
	return out, err
}

func (s *FactorStore) GetByTimeRange(ctx context.Context, key domain.BarKey, start, end int64) ([]*domain.FactorPoint, error) {
	started := time.Now()
	out, err := s.next.GetByTimeRange(ctx, key, start, end)
	s.metrics.RecordDBQuery(s.database, "factors_get_range", started, err)
	return out, err
}
