// Package verification checks that stored factor values match a fresh
// evaluation of the factor set over the stored bars.
package verification

import (
	"context"
	"fmt"
	"math"

	"factor-lab/internal/domain"
	"factor-lab/internal/expression"
	"factor-lab/internal/factorset"
	"factor-lab/internal/storage"
	"factor-lab/internal/table"
)

// FloatTolerance is the absolute tolerance for value comparisons.
const FloatTolerance = 1e-7

// Divergence is a mismatch between a stored and a recomputed value.
// A nil value is undefined; Missing marks a value absent from the store.
type Divergence struct {
	Factor      string
	TimestampMs int64
	Stored      *float64
	Recomputed  *float64
	Missing     bool
}

// SeriesResult contains the result of verifying one series.
type SeriesResult struct {
	Key         domain.BarKey
	Checked     int // stored values compared
	Missing     int // recomputed values without a stored counterpart
	Match       bool
	Divergences []Divergence
}

// Report contains results for batch verification.
type Report struct {
	TotalSeries     int
	MatchedSeries   int
	DivergentSeries int
	Results         []SeriesResult
}

// Verifier recomputes factors and compares them with stored values.
type Verifier struct {
	bars    storage.BarStore
	values  storage.FactorStore
	factors []factorset.Factor
	exprs   []*expression.Expr
	workers int
}

// NewVerifier creates a verifier.
func NewVerifier(bars storage.BarStore, values storage.FactorStore, factors []factorset.Factor, workers int) *Verifier {
	exprs := make([]*expression.Expr, len(factors))
	for i, f := range factors {
		exprs[i] = f.Expr
	}
	return &Verifier{bars: bars, values: values, factors: factors, exprs: exprs, workers: workers}
}

// VerifySeries compares every stored value of a series. Bars without stored
// values (not computed yet) are not divergences; a bar with some factors
// stored and others missing is.
func (v *Verifier) VerifySeries(ctx context.Context, key domain.BarKey) (*SeriesResult, error) {
	res := &SeriesResult{Key: key, Match: true}

	bars, err := v.bars.GetBySeries(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return res, nil
	}
	stored, err := v.values.GetByTimeRange(ctx, key, bars[0].TimestampMs, bars[len(bars)-1].TimestampMs)
	if err != nil {
		return nil, fmt.Errorf("load values: %w", err)
	}

	type cell struct {
		factor string
		ts     int64
	}
	storedAt := make(map[cell]*domain.FactorPoint, len(stored))
	computedRows := make(map[int64]bool)
	for _, p := range stored {
		storedAt[cell{p.Factor, p.TimestampMs}] = p
		computedRows[p.TimestampMs] = true
	}

	tbl, err := table.FromBars(bars)
	if err != nil {
		return nil, fmt.Errorf("build table: %w", err)
	}
	cols, err := expression.EvaluateAll(ctx, tbl, v.exprs, v.workers)
	if err != nil {
		return nil, err
	}

	for row, ts := range tbl.Index() {
		if !computedRows[ts] {
			continue
		}
		for i, f := range v.factors {
			recomputed := valuePtr(cols[i][row])
			p, ok := storedAt[cell{f.Name, ts}]
			if !ok {
				res.Missing++
				res.Divergences = append(res.Divergences, Divergence{
					Factor: f.Name, TimestampMs: ts, Recomputed: recomputed, Missing: true,
				})
				continue
			}
			res.Checked++
			if !floatPtrEquals(p.Value, recomputed) {
				res.Divergences = append(res.Divergences, Divergence{
					Factor: f.Name, TimestampMs: ts, Stored: p.Value, Recomputed: recomputed,
				})
			}
		}
	}
	res.Match = len(res.Divergences) == 0
	return res, nil
}

// VerifyAll verifies keys, or every stored series when keys is empty.
func (v *Verifier) VerifyAll(ctx context.Context, keys []domain.BarKey) (*Report, error) {
	if len(keys) == 0 {
		var err error
		if keys, err = v.bars.ListSeries(ctx); err != nil {
			return nil, fmt.Errorf("list series: %w", err)
		}
	}

	report := &Report{}
	for _, key := range keys {
		res, err := v.VerifySeries(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("series %s/%s: %w", key.Symbol, key.Interval, err)
		}
		report.TotalSeries++
		if res.Match {
			report.MatchedSeries++
		} else {
			report.DivergentSeries++
		}
		report.Results = append(report.Results, *res)
	}
	return report, nil
}

func valuePtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals compares two *float64 values within FloatTolerance.
// Returns true if both are nil, or both are non-nil and equal.
func floatPtrEquals(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEquals(*a, *b)
}
