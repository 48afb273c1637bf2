package main

import (
	"context"
	"fmt"
	"math"
	"sort"

	"factor-lab/internal/domain"
	"factor-lab/internal/expression"
	"factor-lab/internal/factorset"
	"factor-lab/internal/reporting"
	"factor-lab/internal/table"
)

// groupBars splits bars into series ordered by symbol then interval, each
// sorted by timestamp.
func groupBars(bars []*domain.Bar) ([]domain.BarKey, map[domain.BarKey][]*domain.Bar) {
	series := make(map[domain.BarKey][]*domain.Bar)
	for _, b := range bars {
		key := domain.BarKey{Symbol: b.Symbol, Interval: b.Interval}
		series[key] = append(series[key], b)
	}

	keys := make([]domain.BarKey, 0, len(series))
	for k, bs := range series {
		sort.Slice(bs, func(i, j int) bool { return bs[i].TimestampMs < bs[j].TimestampMs })
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Interval < keys[j].Interval
	})
	return keys, series
}

// computeFrame evaluates every factor over tbl.
func computeFrame(ctx context.Context, key domain.BarKey, tbl *table.Table, factors []factorset.Factor, workers int) (*reporting.Frame, error) {
	exprs := make([]*expression.Expr, len(factors))
	names := make([]string, len(factors))
	for i, f := range factors {
		exprs[i] = f.Expr
		names[i] = f.Name
	}

	cols, err := expression.EvaluateAll(ctx, tbl, exprs, workers)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", key.Symbol, key.Interval, err)
	}
	return &reporting.Frame{Key: key, Index: tbl.Index(), Names: names, Columns: cols}, nil
}

// computeBarFrames evaluates factors per series of bars.
func computeBarFrames(ctx context.Context, bars []*domain.Bar, factors []factorset.Factor, workers int) ([]*reporting.Frame, error) {
	keys, series := groupBars(bars)
	frames := make([]*reporting.Frame, 0, len(keys))
	for _, key := range keys {
		tbl, err := table.FromBars(series[key])
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", key.Symbol, key.Interval, err)
		}
		f, err := computeFrame(ctx, key, tbl, factors, workers)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// withVWAP adds a vwap column (turnover / volume, NaN without volume) to CSV
// tables that carry turnover but no vwap.
func withVWAP(tbl *table.Table) error {
	if tbl.Has(table.ColVWAP) {
		return nil
	}
	turnover, ok := tbl.Column(table.ColTurnover)
	if !ok {
		return nil
	}
	volume, ok := tbl.Column(table.ColVolume)
	if !ok {
		return nil
	}
	vwap := make([]float64, len(volume))
	for i := range vwap {
		if volume[i] == 0 {
			vwap[i] = math.NaN()
			continue
		}
		vwap[i] = turnover[i] / volume[i]
	}
	return tbl.AddColumn(table.ColVWAP, vwap)
}
