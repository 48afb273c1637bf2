package reporting

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"
)

// CSV header prefix; factor names follow.
var csvPrefix = []string{"symbol", "interval", "timestamp_ms"}

// WriteCSV writes frames as one CSV table. All frames must carry the same
// factor names as the first; undefined values are written as empty cells.
func WriteCSV(w io.Writer, frames ...*Frame) error {
	cw := csv.NewWriter(w)
	if len(frames) == 0 {
		cw.Write(csvPrefix)
		cw.Flush()
		return cw.Error()
	}

	names := frames[0].Names
	header := append(append([]string{}, csvPrefix...), names...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, f := range frames {
		if err := f.Validate(); err != nil {
			return err
		}
		if !sameNames(names, f.Names) {
			return ErrShape
		}
		for row, ts := range f.Index {
			record[0] = f.Key.Symbol
			record[1] = f.Key.Interval
			record[2] = strconv.FormatInt(ts, 10)
			for i, col := range f.Columns {
				record[3+i] = formatValue(col[row])
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderCSV renders frames as a CSV string.
func RenderCSV(frames ...*Frame) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, frames...); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
