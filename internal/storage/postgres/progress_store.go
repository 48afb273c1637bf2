package postgres

import (
	"context"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// ProgressStore is a PostgreSQL implementation of storage.ProgressStore
// backed by the compute_progress table, one row per series.
type ProgressStore struct {
	pool *Pool
}

// NewProgressStore creates a new PostgreSQL progress store.
func NewProgressStore(pool *Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

var _ storage.ProgressStore = (*ProgressStore)(nil)

// GetLastProcessed returns progress for a series.
func (s *ProgressStore) GetLastProcessed(ctx context.Context, key domain.BarKey) (*storage.ComputeProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT symbol, bar_interval, last_timestamp_ms
		FROM compute_progress
		WHERE symbol = $1 AND bar_interval = $2
	`, key.Symbol, key.Interval)

	var progress storage.ComputeProgress
	err := row.Scan(&progress.Symbol, &progress.Interval, &progress.LastTimestampMs)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return &progress, nil
}

// SetLastProcessed saves progress for a series.
// Uses upsert to handle initial insert and subsequent updates.
func (s *ProgressStore) SetLastProcessed(ctx context.Context, progress *storage.ComputeProgress) error {
	if progress == nil || progress.Symbol == "" || progress.Interval == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO compute_progress (symbol, bar_interval, last_timestamp_ms, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (symbol, bar_interval) DO UPDATE
		SET last_timestamp_ms = EXCLUDED.last_timestamp_ms,
		    updated_at = NOW()
	`, progress.Symbol, progress.Interval, progress.LastTimestampMs)

	return err
}
