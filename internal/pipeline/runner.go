// Package pipeline computes a factor set over stored bar history and
// persists the values. Runs are incremental when a progress store is set:
// factors are evaluated over the full history of a series, but only bars
// after the last stored timestamp are written.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"factor-lab/internal/domain"
	"factor-lab/internal/expression"
	"factor-lab/internal/factorset"
	"factor-lab/internal/observability"
	"factor-lab/internal/storage"
	"factor-lab/internal/table"
)

// DefaultBatchSize is the number of factor points written per InsertBulk.
const DefaultBatchSize = 10000

// SeriesResult summarizes one computed series.
type SeriesResult struct {
	Key      domain.BarKey
	Bars     int   // bars loaded
	Written  int   // bars whose factors were written
	Points   int   // factor points written
	LastTsMs int64 // newest written bar, 0 when nothing was written
}

// Summary summarizes a run over several series.
type Summary struct {
	Series   []SeriesResult
	Bars     int
	Points   int
	Duration time.Duration
}

// Runner computes factors for stored bar series.
type Runner struct {
	bars      storage.BarStore
	values    storage.FactorStore
	progress  storage.ProgressStore // optional, enables incremental runs
	factors   []factorset.Factor
	exprs     []*expression.Expr
	workers   int
	parallel  int
	batchSize int
	logger    *zap.Logger
	metrics   *observability.Metrics
	clock     func() time.Time
}

type Option func(*Runner)

// WithProgress makes runs incremental.
func WithProgress(p storage.ProgressStore) Option { return func(r *Runner) { r.progress = p } }

// WithWorkers bounds concurrent formula evaluations per series.
func WithWorkers(n int) Option { return func(r *Runner) { r.workers = n } }

// WithParallelSeries bounds the series computed concurrently by Run.
func WithParallelSeries(n int) Option { return func(r *Runner) { r.parallel = n } }

func WithBatchSize(n int) Option { return func(r *Runner) { r.batchSize = n } }

func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// NewRunner creates a runner.
func NewRunner(bars storage.BarStore, values storage.FactorStore, factors []factorset.Factor, opts ...Option) *Runner {
	r := &Runner{
		bars:      bars,
		values:    values,
		factors:   factors,
		exprs:     make([]*expression.Expr, len(factors)),
		parallel:  1,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for i, f := range factors {
		r.exprs[i] = f.Expr
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parallel <= 0 {
		r.parallel = 1
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	return r
}

// Run computes every series in keys, or every stored series when keys is empty.
// Series run concurrently up to the configured limit; the first failure
// cancels the rest. Results keep the order of keys.
func (r *Runner) Run(ctx context.Context, keys []domain.BarKey) (summary *Summary, err error) {
	started := r.clock()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordPipelineRun(err, r.clock().Sub(started))
		}
	}()

	if len(r.factors) == 0 {
		return nil, errors.New("pipeline: no factors")
	}
	if len(keys) == 0 {
		keys, err = r.bars.ListSeries(ctx)
		if err != nil {
			return nil, fmt.Errorf("list series: %w", err)
		}
	}

	results := make([]*SeriesResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, key := range keys {
		g.Go(func() error {
			res, err := r.RunSeries(gctx, key)
			if err != nil {
				return fmt.Errorf("series %s/%s: %w", key.Symbol, key.Interval, err)
			}
			results[i] = res
			return nil
		})
	}
	err = g.Wait()

	summary = &Summary{}
	for _, res := range results {
		if res == nil {
			continue
		}
		summary.Series = append(summary.Series, *res)
		summary.Bars += res.Bars
		summary.Points += res.Points
	}
	if err != nil {
		return summary, err
	}
	summary.Duration = r.clock().Sub(started)

	r.logger.Info("pipeline run complete",
		zap.Int("series", len(summary.Series)),
		zap.Int("bars", summary.Bars),
		zap.Int("points", summary.Points),
		zap.Duration("took", summary.Duration))
	return summary, nil
}

// RunSeries computes one series.
func (r *Runner) RunSeries(ctx context.Context, key domain.BarKey) (*SeriesResult, error) {
	// 1. Load history
	bars, err := r.bars.GetBySeries(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	res := &SeriesResult{Key: key, Bars: len(bars)}
	if r.metrics != nil {
		r.metrics.BarsLoaded.Add(float64(len(bars)))
	}
	if len(bars) == 0 {
		return res, nil
	}

	// 2. Resume point
	var after int64 = math.MinInt64
	if r.progress != nil {
		p, err := r.progress.GetLastProcessed(ctx, key)
		switch {
		case err == nil:
			after = p.LastTimestampMs
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, fmt.Errorf("load progress: %w", err)
		}
	}
	if bars[len(bars)-1].TimestampMs <= after {
		r.logger.Debug("series up to date", zap.String("symbol", key.Symbol), zap.String("interval", key.Interval))
		return res, nil
	}

	// 3. Evaluate over the whole history
	tbl, err := table.FromBars(bars)
	if err != nil {
		return nil, fmt.Errorf("build table: %w", err)
	}
	cols, err := expression.EvaluateAll(ctx, tbl, r.exprs, r.workers)
	if err != nil {
		return nil, err
	}

	// 4. Store new rows
	points := Points(key, tbl.Index(), r.factors, cols, after)
	for start := 0; start < len(points); start += r.batchSize {
		end := min(start+r.batchSize, len(points))
		if err := r.values.InsertBulk(ctx, points[start:end]); err != nil {
			return nil, fmt.Errorf("store factors: %w", err)
		}
	}
	res.Points = len(points)
	if r.metrics != nil {
		r.metrics.FactorsStored.Add(float64(len(points)))
	}
	for _, ts := range tbl.Index() {
		if ts > after {
			res.Written++
			res.LastTsMs = ts
		}
	}

	// 5. Save progress
	if r.progress != nil {
		err := r.progress.SetLastProcessed(ctx, &storage.ComputeProgress{
			Symbol:          key.Symbol,
			Interval:        key.Interval,
			LastTimestampMs: res.LastTsMs,
		})
		if err != nil {
			return nil, fmt.Errorf("save progress: %w", err)
		}
	}

	r.logger.Info("series computed",
		zap.String("symbol", key.Symbol),
		zap.String("interval", key.Interval),
		zap.Int("bars", res.Bars),
		zap.Int("written", res.Written),
		zap.Int("points", res.Points))
	return res, nil
}

// Points flattens evaluated columns into factor points for rows with a
// timestamp after the given one, ordered by timestamp then factor position.
// NaN values become nil.
func Points(key domain.BarKey, index []int64, factors []factorset.Factor, cols [][]float64, after int64) []*domain.FactorPoint {
	var out []*domain.FactorPoint
	for row, ts := range index {
		if ts <= after {
			continue
		}
		for i, f := range factors {
			p := &domain.FactorPoint{
				Symbol:      key.Symbol,
				Interval:    key.Interval,
				Factor:      f.Name,
				TimestampMs: ts,
			}
			if v := cols[i][row]; !math.IsNaN(v) {
				p.Value = &v
			}
			out = append(out, p)
		}
	}
	return out
}
