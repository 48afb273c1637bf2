package table

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"factor-lab/internal/domain"
)

// BarRow is the on-disk layout of a bar in Parquet files.
type BarRow struct {
	Symbol       string  `parquet:"symbol"`
	Interval     string  `parquet:"interval"`
	TimestampMs  int64   `parquet:"timestamp_ms"`
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
	Turnover     float64 `parquet:"turnover"`
	OpenInterest float64 `parquet:"open_interest"`
}

// ReadBarsParquet loads every bar from a Parquet file.
func ReadBarsParquet(path string) ([]*domain.Bar, error) {
	rows, err := parquet.ReadFile[BarRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	bars := make([]*domain.Bar, len(rows))
	for i, r := range rows {
		bars[i] = &domain.Bar{
			Symbol:       r.Symbol,
			Interval:     r.Interval,
			TimestampMs:  r.TimestampMs,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			Turnover:     r.Turnover,
			OpenInterest: r.OpenInterest,
		}
	}
	return bars, nil
}

// WriteBarsParquet writes bars to path, replacing any existing file.
func WriteBarsParquet(path string, bars []*domain.Bar) error {
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = BarRow{
			Symbol:       b.Symbol,
			Interval:     b.Interval,
			TimestampMs:  b.TimestampMs,
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			Turnover:     b.Turnover,
			OpenInterest: b.OpenInterest,
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads a bar Parquet file into a table.
func ReadParquet(path string) (*Table, error) {
	bars, err := ReadBarsParquet(path)
	if err != nil {
		return nil, err
	}
	return FromBars(bars)
}
