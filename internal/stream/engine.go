// Package stream evaluates a factor set bar by bar: each series keeps a
// bounded window of recent bars and every new bar re-evaluates the factors
// over that window, keeping the newest value.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"factor-lab/internal/domain"
	"factor-lab/internal/expression"
	"factor-lab/internal/factorset"
	"factor-lab/internal/observability"
	"factor-lab/internal/storage"
)

// ErrNoFactors is returned when an engine is built without factors.
var ErrNoFactors = errors.New("no factors")

// Snapshot is the factor values of one series after a bar.
type Snapshot struct {
	Key         domain.BarKey
	TimestampMs int64
	Ready       bool               // window has filled once
	Values      map[string]float64 // NaN when undefined
}

// Points converts the snapshot to storable factor points.
func (s *Snapshot) Points() []*domain.FactorPoint {
	out := make([]*domain.FactorPoint, 0, len(s.Values))
	for name, v := range s.Values {
		p := &domain.FactorPoint{
			Symbol:      s.Key.Symbol,
			Interval:    s.Key.Interval,
			Factor:      name,
			TimestampMs: s.TimestampMs,
		}
		if !math.IsNaN(v) {
			val := v
			p.Value = &val
		}
		out = append(out, p)
	}
	return out
}

type series struct {
	mu     sync.Mutex
	window *Window
	last   *Snapshot
}

// Engine is safe for concurrent use. Bars of one series are processed in
// order; different series proceed in parallel.
type Engine struct {
	factors    []factorset.Factor
	exprs      []*expression.Expr
	windowSize int
	workers    int
	store      storage.FactorStore
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu     sync.RWMutex
	series map[domain.BarKey]*series
}

type Option func(*Engine)

// WithWindowSize sets the bars kept per series.
func WithWindowSize(n int) Option { return func(e *Engine) { e.windowSize = n } }

// WithWorkers bounds concurrent formula evaluations per bar.
func WithWorkers(n int) Option { return func(e *Engine) { e.workers = n } }

// WithStore persists every ready snapshot.
func WithStore(s storage.FactorStore) Option { return func(e *Engine) { e.store = s } }

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine builds an engine. The window size defaults to the largest
// finite factor lookback plus one, and never less than 2.
func NewEngine(factors []factorset.Factor, opts ...Option) (*Engine, error) {
	if len(factors) == 0 {
		return nil, ErrNoFactors
	}
	e := &Engine{
		factors: factors,
		exprs:   make([]*expression.Expr, len(factors)),
		logger:  zap.NewNop(),
		series:  make(map[domain.BarKey]*series),
	}
	for i, f := range factors {
		e.exprs[i] = f.Expr
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.windowSize == 0 {
		n, _ := factorset.MaxLookback(factors)
		e.windowSize = max(n+1, 2)
	}
	if e.windowSize < 1 {
		return nil, fmt.Errorf("window size must be positive, got %d", e.windowSize)
	}

	if n, unbounded := factorset.MaxLookback(factors); unbounded || n >= e.windowSize {
		e.logger.Warn("window shorter than factor lookback, values are computed over the window only",
			zap.Int("window", e.windowSize), zap.Int("lookback", n), zap.Bool("unbounded", unbounded))
	}
	return e, nil
}

func (e *Engine) WindowSize() int { return e.windowSize }

func (e *Engine) seriesFor(key domain.BarKey) *series {
	e.mu.RLock()
	s, ok := e.series[key]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.series[key]; !ok {
		s = &series{window: NewWindow(e.windowSize)}
		e.series[key] = s
		if e.metrics != nil {
			e.metrics.SeriesTracked.Set(float64(len(e.series)))
		}
	}
	return s
}

// OnBar adds b to its series and evaluates every factor over the series window.
func (e *Engine) OnBar(ctx context.Context, b *domain.Bar) (*Snapshot, error) {
	if b == nil || b.Symbol == "" {
		return nil, storage.ErrInvalidInput
	}
	key := domain.BarKey{Symbol: b.Symbol, Interval: b.Interval}
	s := e.seriesFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.window.Push(b); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordBar(b.Symbol, b.TimestampMs)
	}

	started := time.Now()
	tbl, err := s.window.Table()
	if err != nil {
		return nil, fmt.Errorf("build window table: %w", err)
	}
	cols, err := expression.EvaluateAll(ctx, tbl, e.exprs, e.workers)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", b.Symbol, err)
	}

	snap := &Snapshot{
		Key:         key,
		TimestampMs: b.TimestampMs,
		Ready:       s.window.Ready(),
		Values:      make(map[string]float64, len(e.factors)),
	}
	undefined := 0
	for i, f := range e.factors {
		v := cols[i][len(cols[i])-1]
		if math.IsNaN(v) {
			undefined++
		}
		snap.Values[f.Name] = v
	}
	s.last = snap

	if e.metrics != nil {
		e.metrics.BarEvalLatency.Observe(time.Since(started).Seconds())
		e.metrics.FactorsEvaluated.Add(float64(len(e.factors)))
		e.metrics.UndefinedFactors.Add(float64(undefined))
	}
	e.logger.Debug("bar evaluated",
		zap.String("symbol", key.Symbol),
		zap.String("interval", key.Interval),
		zap.Int64("ts", b.TimestampMs),
		zap.Int("undefined", undefined),
		zap.Duration("took", time.Since(started)))

	if e.store != nil && snap.Ready {
		if err := e.store.InsertBulk(ctx, snap.Points()); err != nil {
			return snap, fmt.Errorf("store factors: %w", err)
		}
		if e.metrics != nil {
			e.metrics.FactorsStored.Add(float64(len(snap.Values)))
		}
	}
	return snap, nil
}

// Warmup pushes historical bars without storing their values, so live
// bars start from a full window.
func (e *Engine) Warmup(bars []*domain.Bar) error {
	for _, b := range bars {
		s := e.seriesFor(domain.BarKey{Symbol: b.Symbol, Interval: b.Interval})
		s.mu.Lock()
		err := s.window.Push(b)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Last returns the newest snapshot of a series, or nil before its first bar.
func (e *Engine) Last(key domain.BarKey) *Snapshot {
	e.mu.RLock()
	s, ok := e.series[key]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Series lists the tracked series.
func (e *Engine) Series() []domain.BarKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.BarKey, 0, len(e.series))
	for k := range e.series {
		out = append(out, k)
	}
	return out
}
