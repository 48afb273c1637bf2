// Package estimator provides incremental rolling and expanding statistics.
//
// Every estimator consumes one observation per Update call, in time order, and
// returns the statistic over the observations currently in its window. NaN inputs
// are tracked as missing and excluded from all sums. The effective sample size is
// always window (or elapsed count) minus the number of missing observations.
package estimator

import (
	"errors"
	"math"

	"github.com/gammazero/deque"
)

// ErrZeroDenominator is returned by Update when the effective sample size makes a
// count-derived denominator exactly zero.
var ErrZeroDenominator = errors.New("zero denominator")

// Estimator is a single-value-in, single-value-out incremental statistic.
type Estimator interface {
	Update(v float64) (float64, error)
	// Window returns the rolling capacity, or 0 for expanding estimators.
	Window() int
}

var (
	_ Estimator = (*RollingMeanEstimator)(nil)
	_ Estimator = (*ExpandingMeanEstimator)(nil)
	_ Estimator = (*RollingSlopeEstimator)(nil)
	_ Estimator = (*RollingResiEstimator)(nil)
	_ Estimator = (*RollingRsquareEstimator)(nil)
	_ Estimator = (*ExpandingSlopeEstimator)(nil)
	_ Estimator = (*ExpandingResiEstimator)(nil)
	_ Estimator = (*ExpandingRsquareEstimator)(nil)
)

// Apply drives e over in and returns one output per input.
// An update failing with ErrZeroDenominator repeats the previous output
// (NaN for the first row).
func Apply(e Estimator, in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		r, err := e.Update(v)
		if err != nil {
			if i == 0 {
				r = math.NaN()
			} else {
				r = out[i-1]
			}
		}
		out[i] = r
	}
	return out
}

// applyExpanding drives e without carry-forward; degenerate rows become NaN.
func applyExpanding(e Estimator, in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		r, err := e.Update(v)
		if err != nil {
			r = math.NaN()
		}
		out[i] = r
	}
	return out
}

// history is the fixed-capacity ring shared by rolling estimators.
// It starts full of NaN so the first W updates evict sentinels.
type history struct {
	window  int
	buf     deque.Deque[float64]
	naCount int
}

func newHistory(window int) history {
	if window < 1 {
		panic("estimator: rolling window must be positive")
	}
	h := history{window: window, naCount: window}
	for i := 0; i < window; i++ {
		h.buf.PushBack(math.NaN())
	}
	return h
}

// push admits v and returns the evicted observation.
// naCount is adjusted for both.
func (h *history) push(v float64) float64 {
	old := h.buf.PopFront()
	if math.IsNaN(old) {
		h.naCount--
	}
	h.buf.PushBack(v)
	if math.IsNaN(v) {
		h.naCount++
	}
	return old
}

func (h *history) effective() int {
	return h.window - h.naCount
}
