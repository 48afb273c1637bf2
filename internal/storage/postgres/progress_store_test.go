package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

func TestProgressStore_SetAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewProgressStore(pool)
	key := domain.BarKey{Symbol: "rb2405", Interval: "1m"}

	_, err := store.GetLastProcessed(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetLastProcessed(ctx, &storage.ComputeProgress{Symbol: "rb2405", Interval: "1m", LastTimestampMs: 60_000}))
	require.NoError(t, store.SetLastProcessed(ctx, &storage.ComputeProgress{Symbol: "rb2405", Interval: "1m", LastTimestampMs: 120_000}))

	got, err := store.GetLastProcessed(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(120_000), got.LastTimestampMs)

	// Other interval of the same symbol is tracked separately
	_, err = store.GetLastProcessed(ctx, domain.BarKey{Symbol: "rb2405", Interval: "1d"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProgressStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewProgressStore(pool)
	err := store.SetLastProcessed(context.Background(), &storage.ComputeProgress{Symbol: "rb2405"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
