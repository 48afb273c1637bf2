package clickhouse

import (
	"context"
	"fmt"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// FactorStore implements storage.FactorStore using ClickHouse.
// Undefined values are stored as NULL in a Nullable(Float64) column.
type FactorStore struct {
	conn *Conn
}

// NewFactorStore creates a new FactorStore.
func NewFactorStore(conn *Conn) *FactorStore {
	return &FactorStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FactorStore = (*FactorStore)(nil)

type factorRowKey struct {
	symbol      string
	interval    string
	factor      string
	timestampMs int64
}

// InsertBulk adds multiple values. Fails entire batch on duplicate.
func (s *FactorStore) InsertBulk(ctx context.Context, points []*domain.FactorPoint) error {
	if len(points) == 0 {
		return nil
	}

	type span struct{ min, max int64 }
	spans := make(map[domain.BarKey]*span)
	seen := make(map[factorRowKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Symbol == "" || p.Factor == "" {
			return storage.ErrInvalidInput
		}
		k := factorRowKey{p.Symbol, p.Interval, p.Factor, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		sk := domain.BarKey{Symbol: p.Symbol, Interval: p.Interval}
		if sp, ok := spans[sk]; ok {
			sp.min = min(sp.min, p.TimestampMs)
			sp.max = max(sp.max, p.TimestampMs)
		} else {
			spans[sk] = &span{p.TimestampMs, p.TimestampMs}
		}
	}

	for key, sp := range spans {
		existing, err := s.GetByTimeRange(ctx, key, sp.min, sp.max)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, e := range existing {
			if _, dup := seen[factorRowKey{e.Symbol, e.Interval, e.Factor, e.TimestampMs}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO factor_values (symbol, bar_interval, factor, timestamp_ms, value)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		// Pass nil values directly for Nullable columns
		if err := batch.Append(p.Symbol, p.Interval, p.Factor, uint64(p.TimestampMs), p.Value); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySeries retrieves all values of one factor for a series, ordered by timestamp ASC.
func (s *FactorStore) GetBySeries(ctx context.Context, key domain.BarKey, factor string) ([]*domain.FactorPoint, error) {
	query := `
		SELECT symbol, bar_interval, factor, timestamp_ms, value
		FROM factor_values
		WHERE symbol = ? AND bar_interval = ? AND factor = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, key.Symbol, key.Interval, factor)
	if err != nil {
		return nil, fmt.Errorf("query by series: %w", err)
	}
	defer rows.Close()

	return scanFactorValues(rows)
}

// GetByTimeRange retrieves values of every factor for a series within [start, end] (inclusive).
func (s *FactorStore) GetByTimeRange(ctx context.Context, key domain.BarKey, start, end int64) ([]*domain.FactorPoint, error) {
	query := `
		SELECT symbol, bar_interval, factor, timestamp_ms, value
		FROM factor_values
		WHERE symbol = ? AND bar_interval = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, factor ASC
	`

	rows, err := s.conn.Query(ctx, query, key.Symbol, key.Interval, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFactorValues(rows)
}

// scanFactorValues scans multiple rows.
func scanFactorValues(rows chRows) ([]*domain.FactorPoint, error) {
	var points []*domain.FactorPoint

	for rows.Next() {
		var p domain.FactorPoint
		var timestampMs uint64

		if err := rows.Scan(&p.Symbol, &p.Interval, &p.Factor, &timestampMs, &p.Value); err != nil {
			return nil, fmt.Errorf("scan factor values row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factor values rows: %w", err)
	}

	return points, nil
}
