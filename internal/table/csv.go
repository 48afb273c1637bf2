package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoTimeColumn is returned when a CSV header has no recognised time column.
var ErrNoTimeColumn = errors.New("no time column")

var timeColumns = []string{"datetime", "timestamp", "time", "date"}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadCSVFile reads a CSV file. See ReadCSV.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads a header-first CSV. One column (datetime, timestamp, time or
// date) supplies the index as Unix milliseconds or a UTC datetime; every
// other column is parsed as float64 with empty, "nan" and "null" as NaN.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	timeIdx := -1
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		for _, name := range timeColumns {
			if header[i] == name && timeIdx < 0 {
				timeIdx = i
			}
		}
	}
	if timeIdx < 0 {
		return nil, ErrNoTimeColumn
	}

	var index []int64
	cols := make([][]float64, len(header))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		ts, err := parseTimestamp(rec[timeIdx])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		index = append(index, ts)
		for i, field := range rec {
			if i == timeIdx {
				continue
			}
			v, err := parseFloat(field)
			if err != nil {
				return nil, fmt.Errorf("csv line %d column %s: %w", line, header[i], err)
			}
			cols[i] = append(cols[i], v)
		}
	}

	t, err := New(index)
	if err != nil {
		return nil, err
	}
	for i, name := range header {
		if i == timeIdx {
			continue
		}
		col := cols[i]
		if col == nil {
			col = []float64{}
		}
		if err := t.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("parse time %q", s)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
