package clickhouse

import (
	"context"
	"fmt"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

type barRowKey struct {
	symbol      string
	interval    string
	timestampMs int64
}

// InsertBulk adds multiple bars. Fails entire batch on duplicate.
func (s *BarStore) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Intra-batch duplicates, and the time span per series for the existence check
	type span struct{ min, max int64 }
	spans := make(map[domain.BarKey]*span)
	seen := make(map[barRowKey]struct{}, len(bars))
	for _, b := range bars {
		if b == nil || b.Symbol == "" || b.Interval == "" {
			return storage.ErrInvalidInput
		}
		k := barRowKey{b.Symbol, b.Interval, b.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		sk := domain.BarKey{Symbol: b.Symbol, Interval: b.Interval}
		if sp, ok := spans[sk]; ok {
			sp.min = min(sp.min, b.TimestampMs)
			sp.max = max(sp.max, b.TimestampMs)
		} else {
			spans[sk] = &span{b.TimestampMs, b.TimestampMs}
		}
	}

	// Duplicates against existing rows
	for key, sp := range spans {
		existing, err := s.timestamps(ctx, key, sp.min, sp.max)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, ts := range existing {
			if _, dup := seen[barRowKey{key.Symbol, key.Interval, ts}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			symbol, bar_interval, exchange, timestamp_ms,
			open, high, low, close, volume, turnover, open_interest
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(
			b.Symbol, b.Interval, b.Exchange, uint64(b.TimestampMs),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Turnover, b.OpenInterest,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySeries retrieves all bars of a series, ordered by timestamp ASC.
func (s *BarStore) GetBySeries(ctx context.Context, key domain.BarKey) ([]*domain.Bar, error) {
	query := `
		SELECT
			symbol, bar_interval, exchange, timestamp_ms,
			open, high, low, close, volume, turnover, open_interest
		FROM bars
		WHERE symbol = ? AND bar_interval = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, key.Symbol, key.Interval)
	if err != nil {
		return nil, fmt.Errorf("query by series: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetByTimeRange retrieves bars of a series within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(ctx context.Context, key domain.BarKey, start, end int64) ([]*domain.Bar, error) {
	query := `
		SELECT
			symbol, bar_interval, exchange, timestamp_ms,
			open, high, low, close, volume, turnover, open_interest
		FROM bars
		WHERE symbol = ? AND bar_interval = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, key.Symbol, key.Interval, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// ListSeries returns every stored series, ordered by symbol then interval.
func (s *BarStore) ListSeries(ctx context.Context) ([]domain.BarKey, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT symbol, bar_interval
		FROM bars
		ORDER BY symbol, bar_interval
	`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var keys []domain.BarKey
	for rows.Next() {
		var k domain.BarKey
		if err := rows.Scan(&k.Symbol, &k.Interval); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series rows: %w", err)
	}
	return keys, nil
}

// timestamps returns stored bar timestamps of a series within [start, end].
func (s *BarStore) timestamps(ctx context.Context, key domain.BarKey, start, end int64) ([]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms FROM bars
		WHERE symbol = ? AND bar_interval = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`, key.Symbol, key.Interval, uint64(start), uint64(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts uint64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, int64(ts))
	}
	return out, rows.Err()
}

// scanBars scans multiple rows.
func scanBars(rows chRows) ([]*domain.Bar, error) {
	var bars []*domain.Bar

	for rows.Next() {
		var b domain.Bar
		var timestampMs uint64

		err := rows.Scan(
			&b.Symbol, &b.Interval, &b.Exchange, &timestampMs,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Turnover, &b.OpenInterest,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bars row: %w", err)
		}

		b.TimestampMs = int64(timestampMs)
		bars = append(bars, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars rows: %w", err)
	}

	return bars, nil
}
