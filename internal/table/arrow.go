package table

import (
	"errors"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// IndexField is the Arrow field holding the timestamp index.
const IndexField = "timestamp_ms"

// ErrUnsupportedType is returned for Arrow columns that are not numeric.
var ErrUnsupportedType = errors.New("unsupported arrow type")

// FromArrow builds a table from a record with an int64 or timestamp index
// field and numeric value columns. Null values become NaN.
func FromArrow(rec arrow.Record) (*Table, error) {
	schema := rec.Schema()
	idxPos := schema.FieldIndices(IndexField)
	if len(idxPos) == 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNoTimeColumn, IndexField)
	}

	index, err := arrowIndex(rec.Column(idxPos[0]))
	if err != nil {
		return nil, err
	}
	t, err := New(index)
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(rec.NumCols()); i++ {
		if i == idxPos[0] {
			continue
		}
		name := schema.Field(i).Name
		col, err := arrowFloats(rec.Column(i))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		if err := t.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ToArrow exports the table. NaN values are written as nulls.
// The caller must Release the returned record.
func (t *Table) ToArrow(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	fields := make([]arrow.Field, 0, len(t.names)+1)
	fields = append(fields, arrow.Field{Name: IndexField, Type: arrow.PrimitiveTypes.Int64})
	for _, name := range t.names {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	arrays := make([]arrow.Array, 0, len(fields))
	ib := array.NewInt64Builder(mem)
	ib.AppendValues(t.index, nil)
	arrays = append(arrays, ib.NewArray())
	ib.Release()

	for _, name := range t.names {
		col := t.cols[name]
		fb := array.NewFloat64Builder(mem)
		valid := make([]bool, len(col))
		for i, v := range col {
			valid[i] = !math.IsNaN(v)
		}
		fb.AppendValues(col, valid)
		arrays = append(arrays, fb.NewArray())
		fb.Release()
	}

	rec := array.NewRecord(schema, arrays, int64(len(t.index)))
	for _, arr := range arrays {
		arr.Release()
	}
	return rec
}

func arrowIndex(arr arrow.Array) ([]int64, error) {
	out := make([]int64, arr.Len())
	switch a := arr.(type) {
	case *array.Int64:
		for i := range out {
			out[i] = a.Value(i)
		}
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		for i := range out {
			out[i] = a.Value(i).ToTime(unit).UnixMilli()
		}
	default:
		return nil, fmt.Errorf("%w: index %s", ErrUnsupportedType, arr.DataType())
	}
	for i := range out {
		if arr.IsNull(i) {
			return nil, fmt.Errorf("%w: null index at row %d", ErrUnsortedIndex, i)
		}
	}
	return out, nil
}

func arrowFloats(arr arrow.Array) ([]float64, error) {
	out := make([]float64, arr.Len())
	var get func(i int) float64
	switch a := arr.(type) {
	case *array.Float64:
		get = func(i int) float64 { return a.Value(i) }
	case *array.Float32:
		get = func(i int) float64 { return float64(a.Value(i)) }
	case *array.Int64:
		get = func(i int) float64 { return float64(a.Value(i)) }
	case *array.Int32:
		get = func(i int) float64 { return float64(a.Value(i)) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, arr.DataType())
	}
	for i := range out {
		if arr.IsNull(i) {
			out[i] = math.NaN()
			continue
		}
		out[i] = get(i)
	}
	return out, nil
}
