// Package table holds the columnar input an expression is evaluated against:
// an ordered timestamp index plus named float64 columns of equal length.
package table

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLengthMismatch is returned when a column does not match the index length.
	ErrLengthMismatch = errors.New("column length mismatch")

	// ErrDuplicateColumn is returned when adding a column whose name exists.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrUnsortedIndex is returned when timestamps are not strictly increasing.
	ErrUnsortedIndex = errors.New("index not strictly increasing")
)

// Standard bar field names.
const (
	ColOpen         = "open"
	ColHigh         = "high"
	ColLow          = "low"
	ColClose        = "close"
	ColVolume       = "volume"
	ColTurnover     = "turnover"
	ColOpenInterest = "open_interest"
	ColVWAP         = "vwap"
)

// Table is read-only once built. Column slices returned by accessors are
// shared with the table and must not be modified.
type Table struct {
	index []int64
	names []string
	cols  map[string][]float64
}

// New creates an empty table over the given index (Unix milliseconds).
func New(index []int64) (*Table, error) {
	for i := 1; i < len(index); i++ {
		if index[i] <= index[i-1] {
			return nil, fmt.Errorf("%w: position %d", ErrUnsortedIndex, i)
		}
	}
	return &Table{
		index: index,
		cols:  make(map[string][]float64),
	}, nil
}

// AddColumn attaches col under name. A leading "$" is stripped.
func (t *Table) AddColumn(name string, col []float64) error {
	key := normalize(name)
	if len(col) != len(t.index) {
		return fmt.Errorf("%w: %s has %d rows, index has %d", ErrLengthMismatch, key, len(col), len(t.index))
	}
	if _, ok := t.cols[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, key)
	}
	t.cols[key] = col
	t.names = append(t.names, key)
	return nil
}

// Column returns the column stored under key, ignoring a leading "$".
func (t *Table) Column(key string) ([]float64, bool) {
	col, ok := t.cols[normalize(key)]
	return col, ok
}

func (t *Table) Has(key string) bool {
	_, ok := t.cols[normalize(key)]
	return ok
}

func (t *Table) Len() int { return len(t.index) }

func (t *Table) Index() []int64 { return t.index }

// Columns returns column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Tail returns a view over the last n rows.
func (t *Table) Tail(n int) *Table {
	if n >= len(t.index) {
		return t
	}
	if n < 0 {
		n = 0
	}
	lo := len(t.index) - n
	out := &Table{
		index: t.index[lo:],
		names: append([]string(nil), t.names...),
		cols:  make(map[string][]float64, len(t.cols)),
	}
	for k, v := range t.cols {
		out.cols[k] = v[lo:]
	}
	return out
}

func normalize(key string) string {
	return strings.TrimPrefix(key, "$")
}
