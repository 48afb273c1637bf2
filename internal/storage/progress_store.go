package storage

import (
	"context"

	"factor-lab/internal/domain"
)

// ComputeProgress is the last bar whose factors were computed and stored.
type ComputeProgress struct {
	Symbol          string
	Interval        string
	LastTimestampMs int64 // bar open time, Unix milliseconds
}

// ProgressStore persists compute progress per series, so an incremental
// run resumes after the last stored bar instead of recomputing history.
type ProgressStore interface {
	// GetLastProcessed returns progress for a series.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastProcessed(ctx context.Context, key domain.BarKey) (*ComputeProgress, error)

	// SetLastProcessed saves progress for a series, replacing any previous value.
	SetLastProcessed(ctx context.Context, progress *ComputeProgress) error
}
