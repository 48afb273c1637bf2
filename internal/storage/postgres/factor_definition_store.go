package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// FactorDefinitionStore implements storage.FactorDefinitionStore using PostgreSQL.
type FactorDefinitionStore struct {
	pool *Pool
}

// NewFactorDefinitionStore creates a new FactorDefinitionStore.
func NewFactorDefinitionStore(pool *Pool) *FactorDefinitionStore {
	return &FactorDefinitionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FactorDefinitionStore = (*FactorDefinitionStore)(nil)

const insertFactorDefinition = `
	INSERT INTO factor_definitions (
		name, formula, canonical, factor_group, description, created_at
	) VALUES ($1, $2, $3, $4, $5, $6)
`

const selectFactorDefinition = `
	SELECT name, formula, canonical, factor_group, description, created_at
	FROM factor_definitions
`

// Insert adds a definition. Returns ErrDuplicateKey if name exists.
func (s *FactorDefinitionStore) Insert(ctx context.Context, d *domain.FactorDefinition) error {
	if d == nil || d.Name == "" || d.Formula == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertFactorDefinition,
		d.Name, d.Formula, d.Canonical, d.Group, d.Description, d.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert factor definition: %w", err)
	}
	return nil
}

// InsertBulk adds multiple definitions atomically. Fails entire batch on any duplicate.
func (s *FactorDefinitionStore) InsertBulk(ctx context.Context, defs []*domain.FactorDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	for _, d := range defs {
		if d == nil || d.Name == "" || d.Formula == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, d := range defs {
		_, err := tx.Exec(ctx, insertFactorDefinition,
			d.Name, d.Formula, d.Canonical, d.Group, d.Description, d.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert factor definition in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByName retrieves a definition. Returns ErrNotFound if not exists.
func (s *FactorDefinitionStore) GetByName(ctx context.Context, name string) (*domain.FactorDefinition, error) {
	row := s.pool.QueryRow(ctx, selectFactorDefinition+` WHERE name = $1`, name)
	d, err := scanFactorDefinition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get factor definition by name: %w", err)
	}
	return d, nil
}

// GetByGroup retrieves all definitions of a group, ordered by name.
func (s *FactorDefinitionStore) GetByGroup(ctx context.Context, group string) ([]*domain.FactorDefinition, error) {
	rows, err := s.pool.Query(ctx, selectFactorDefinition+` WHERE factor_group = $1 ORDER BY name`, group)
	if err != nil {
		return nil, fmt.Errorf("query factor definitions by group: %w", err)
	}
	defer rows.Close()

	return scanFactorDefinitions(rows)
}

// GetAll retrieves all definitions, ordered by name.
func (s *FactorDefinitionStore) GetAll(ctx context.Context) ([]*domain.FactorDefinition, error) {
	rows, err := s.pool.Query(ctx, selectFactorDefinition+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query factor definitions: %w", err)
	}
	defer rows.Close()

	return scanFactorDefinitions(rows)
}

// scanFactorDefinition scans a single row into FactorDefinition.
func scanFactorDefinition(row pgx.Row) (*domain.FactorDefinition, error) {
	var d domain.FactorDefinition
	err := row.Scan(&d.Name, &d.Formula, &d.Canonical, &d.Group, &d.Description, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanFactorDefinitions(rows pgx.Rows) ([]*domain.FactorDefinition, error) {
	var defs []*domain.FactorDefinition
	for rows.Next() {
		d, err := scanFactorDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan factor definition row: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factor definition rows: %w", err)
	}
	return defs, nil
}
