package storage

import "errors"

// Bars, factor values and factor definitions are written once. A rerun
// resumes after the stored progress instead of rewriting rows.
var (
	// ErrNotFound is returned when a series, definition or progress row
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a row with the same key is already
	// stored: (symbol, interval, ts) for bars, plus the factor name for
	// values, the name alone for definitions.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for empty keys or rows that fail validation.
	ErrInvalidInput = errors.New("invalid input")
)
