package storage

import (
	"context"

	"factor-lab/internal/domain"
)

// BarStore provides access to bars storage.
type BarStore interface {
	// InsertBulk adds multiple bars. Fails entire batch on duplicate (symbol, interval, timestamp_ms).
	InsertBulk(ctx context.Context, bars []*domain.Bar) error

	// GetBySeries retrieves all bars of a series, ordered by timestamp ASC.
	GetBySeries(ctx context.Context, key domain.BarKey) ([]*domain.Bar, error)

	// GetByTimeRange retrieves bars of a series within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, key domain.BarKey, start, end int64) ([]*domain.Bar, error)

	// ListSeries returns every stored series, ordered by symbol then interval.
	ListSeries(ctx context.Context) ([]domain.BarKey, error)
}

// FactorStore provides access to factor_values storage.
type FactorStore interface {
	// InsertBulk adds multiple values. Fails entire batch on duplicate
	// (symbol, interval, factor, timestamp_ms).
	InsertBulk(ctx context.Context, points []*domain.FactorPoint) error

	// GetBySeries retrieves all values of one factor for a series, ordered by timestamp ASC.
	GetBySeries(ctx context.Context, key domain.BarKey, factor string) ([]*domain.FactorPoint, error)

	// GetByTimeRange retrieves values of every factor for a series within [start, end] (inclusive),
	// ordered by timestamp then factor.
	GetByTimeRange(ctx context.Context, key domain.BarKey, start, end int64) ([]*domain.FactorPoint, error)
}

// FactorDefinitionStore provides access to factor_definitions storage.
type FactorDefinitionStore interface {
	// Insert adds a definition. Returns ErrDuplicateKey if name exists.
	Insert(ctx context.Context, d *domain.FactorDefinition) error

	// InsertBulk adds multiple definitions atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, defs []*domain.FactorDefinition) error

	// GetByName retrieves a definition. Returns ErrNotFound if not exists.
	GetByName(ctx context.Context, name string) (*domain.FactorDefinition, error)

	// GetByGroup retrieves all definitions of a group, ordered by name.
	GetByGroup(ctx context.Context, group string) ([]*domain.FactorDefinition, error)

	// GetAll retrieves all definitions, ordered by name.
	GetAll(ctx context.Context) ([]*domain.FactorDefinition, error)
}
