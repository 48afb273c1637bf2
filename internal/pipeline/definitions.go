package pipeline

import (
	"context"
	"errors"
	"fmt"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// RegisterDefinitions stores definitions that are not stored yet. An existing
// definition with the same name must carry the same formula.
// Returns the number of newly inserted definitions.
func RegisterDefinitions(ctx context.Context, store storage.FactorDefinitionStore, defs []*domain.FactorDefinition) (int, error) {
	var missing []*domain.FactorDefinition
	for _, d := range defs {
		existing, err := store.GetByName(ctx, d.Name)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			missing = append(missing, d)
		case err != nil:
			return 0, fmt.Errorf("get definition %s: %w", d.Name, err)
		case existing.Formula != d.Formula:
			return 0, fmt.Errorf("%w: %s is stored as %q, configured as %q",
				storage.ErrDuplicateKey, d.Name, existing.Formula, d.Formula)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := store.InsertBulk(ctx, missing); err != nil {
		return 0, fmt.Errorf("insert definitions: %w", err)
	}
	return len(missing), nil
}
