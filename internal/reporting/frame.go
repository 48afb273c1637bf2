package reporting

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"factor-lab/internal/domain"
)

// ErrShape is returned when a frame's columns do not match its index.
var ErrShape = errors.New("frame shape mismatch")

// Frame is a wide factor table of one series: one row per bar, one
// column per factor. NaN marks an undefined value.
type Frame struct {
	Key     domain.BarKey
	Index   []int64 // bar open time, Unix milliseconds
	Names   []string
	Columns [][]float64
}

// Validate checks that every column has one value per index entry.
func (f *Frame) Validate() error {
	if len(f.Names) != len(f.Columns) {
		return fmt.Errorf("%w: %d names, %d columns", ErrShape, len(f.Names), len(f.Columns))
	}
	for i, col := range f.Columns {
		if len(col) != len(f.Index) {
			return fmt.Errorf("%w: column %s has %d rows, index has %d", ErrShape, f.Names[i], len(col), len(f.Index))
		}
	}
	return nil
}

// FrameFromPoints pivots stored factor points of one series into a frame.
// Factor columns are sorted by name; missing cells are NaN.
func FrameFromPoints(key domain.BarKey, points []*domain.FactorPoint) *Frame {
	rowOf := make(map[int64]int)
	colOf := make(map[string]int)
	var index []int64
	var names []string
	for _, p := range points {
		if _, ok := rowOf[p.TimestampMs]; !ok {
			rowOf[p.TimestampMs] = 0
			index = append(index, p.TimestampMs)
		}
		if _, ok := colOf[p.Factor]; !ok {
			colOf[p.Factor] = 0
			names = append(names, p.Factor)
		}
	}
	sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })
	sort.Strings(names)
	for i, ts := range index {
		rowOf[ts] = i
	}
	for i, n := range names {
		colOf[n] = i
	}

	cols := make([][]float64, len(names))
	for i := range cols {
		cols[i] = make([]float64, len(index))
		for j := range cols[i] {
			cols[i][j] = math.NaN()
		}
	}
	for _, p := range points {
		if p.Value != nil {
			cols[colOf[p.Factor]][rowOf[p.TimestampMs]] = *p.Value
		}
	}
	return &Frame{Key: key, Index: index, Names: names, Columns: cols}
}
