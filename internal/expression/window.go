package expression

import (
	"math"

	"github.com/gammazero/deque"
	"github.com/tidwall/btree"

	"factor-lab/internal/estimator"
)

// Window kernels follow min_periods=1 semantics: a rolling window of size n
// covers the trailing n rows, shorter at the start of the series, and an
// expanding window (n == 0) covers the whole prefix. Missing values are
// skipped; a window without any observation yields NaN.

var windowOps = []*Operator{
	{Name: "Ref", Kind: KindWindow, Window: ref, AllowNegative: true},
	{Name: "Mean", Kind: KindWindow, Window: momentsKernel((*estimator.Moments).Mean)},
	{Name: "Sum", Kind: KindWindow, Window: momentsKernel((*estimator.Moments).Sum)},
	{Name: "Std", Kind: KindWindow, Window: momentsKernel((*estimator.Moments).Std)},
	{Name: "Var", Kind: KindWindow, Window: momentsKernel((*estimator.Moments).Variance)},
	{Name: "Skew", Kind: KindWindow, Window: momentsKernel((*estimator.Moments).Skew), MinWindow: 3},
	{Name: "Kurt", Kind: KindWindow, Window: momentsKernel((*estimator.Moments).Kurt), MinWindow: 4},
	{Name: "Count", Kind: KindWindow, Window: momentsKernel(count)},
	{Name: "Max", Kind: KindWindow, Window: extremum(greater, false)},
	{Name: "Min", Kind: KindWindow, Window: extremum(less, false)},
	{Name: "IdxMax", Kind: KindWindow, Window: extremum(greater, true)},
	{Name: "IdxMin", Kind: KindWindow, Window: extremum(less, true)},
	{Name: "Quantile", Kind: KindWindow, Window: quantile, HasParam: true},
	{Name: "Med", Kind: KindWindow, Window: median},
	{Name: "Mad", Kind: KindWindow, Window: mad},
	{Name: "Rank", Kind: KindWindow, Window: rank},
	{Name: "Delta", Kind: KindWindow, Window: delta, AllowNegative: true},
	{Name: "WMA", Kind: KindWindow, Window: wma},
	{Name: "EMA", Kind: KindWindow, Window: ema, Fractional: true},
	{Name: "Slope", Kind: KindWindow, Window: regression(estimator.RollingSlope, estimator.ExpandingSlope)},
	{Name: "Rsquare", Kind: KindWindow, Window: regression(estimator.RollingRsquare, estimator.ExpandingRsquare)},
	{Name: "Resi", Kind: KindWindow, Window: regression(estimator.RollingResi, estimator.ExpandingResi)},
}

var pairWindowOps = []*Operator{
	{Name: "Corr", Kind: KindPairWindow, PairWindow: coMomentsKernel((*estimator.CoMoments).Corr)},
	{Name: "Cov", Kind: KindPairWindow, PairWindow: coMomentsKernel((*estimator.CoMoments).Cov)},
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// windowStart returns the first row of the window ending at i.
func windowStart(i int, w Window) int {
	if w.Expanding() {
		return 0
	}
	if s := i - w.Size() + 1; s > 0 {
		return s
	}
	return 0
}

// shift lags x by n rows (leads for negative n).
func shift(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		if j := i - n; j >= 0 && j < len(x) {
			out[i] = x[j]
		}
	}
	return out
}

func ref(x []float64, w Window) []float64 {
	return shift(x, w.Size())
}

func delta(x []float64, w Window) []float64 {
	out := make([]float64, len(x))
	if w.Expanding() {
		for i, v := range x {
			out[i] = v - x[0]
		}
		return out
	}
	prev := shift(x, w.Size())
	for i, v := range x {
		out[i] = v - prev[i]
	}
	return out
}

func count(m *estimator.Moments) float64 {
	if m.N() == 0 {
		return math.NaN()
	}
	return float64(m.N())
}

func momentsKernel(stat func(*estimator.Moments) float64) WindowFunc {
	return func(x []float64, w Window) []float64 {
		out := make([]float64, len(x))
		n := w.Size()
		var m estimator.Moments
		for i, v := range x {
			if !w.Expanding() && i >= n {
				if old := x[i-n]; !math.IsNaN(old) {
					m.Remove(old)
				}
			}
			if !math.IsNaN(v) {
				m.Add(v)
			}
			out[i] = stat(&m)
		}
		return out
	}
}

func coMomentsKernel(stat func(*estimator.CoMoments) float64) PairWindowFunc {
	return func(x, y []float64, w Window) []float64 {
		out := make([]float64, len(x))
		n := w.Size()
		valid := func(i int) bool { return !math.IsNaN(x[i]) && !math.IsNaN(y[i]) }
		var c estimator.CoMoments
		for i := range x {
			if !w.Expanding() && i >= n && valid(i-n) {
				c.Remove(x[i-n], y[i-n])
			}
			if valid(i) {
				c.Add(x[i], y[i])
			}
			out[i] = stat(&c)
		}
		return out
	}
}

func greater(a, b float64) bool { return a > b }
func less(a, b float64) bool    { return a < b }

// extremum tracks the window's best value with a monotonic queue of row
// positions. Missing values never enter the queue and ties keep the earliest
// row. With position set it returns the 1-based offset of that row inside
// the window.
func extremum(better func(a, b float64) bool, position bool) WindowFunc {
	return func(x []float64, w Window) []float64 {
		out := make([]float64, len(x))
		var q deque.Deque[int]
		for i, v := range x {
			start := windowStart(i, w)
			for q.Len() > 0 && q.Front() < start {
				q.PopFront()
			}
			if !math.IsNaN(v) {
				for q.Len() > 0 && better(v, x[q.Back()]) {
					q.PopBack()
				}
				q.PushBack(i)
			}
			switch {
			case q.Len() == 0:
				out[i] = math.NaN()
			case position:
				out[i] = float64(q.Front() - start + 1)
			default:
				out[i] = x[q.Front()]
			}
		}
		return out
	}
}

type ranked struct {
	v   float64
	row int
}

// orderStats is a sorted multiset of window values supporting positional
// access, so quantiles and ranks cost O(log n) per row.
type orderStats struct {
	tree *btree.BTreeG[ranked]
}

func newOrderStats() *orderStats {
	return &orderStats{tree: btree.NewBTreeGOptions(func(a, b ranked) bool {
		if a.v != b.v {
			return a.v < b.v
		}
		return a.row < b.row
	}, btree.Options{NoLocks: true})}
}

// each slides the window over x, calling emit once per row after the
// multiset reflects the window ending at that row.
func (o *orderStats) each(x []float64, w Window, emit func(i int)) {
	n := w.Size()
	for i, v := range x {
		if !w.Expanding() && i >= n {
			if old := x[i-n]; !math.IsNaN(old) {
				o.tree.Delete(ranked{v: old, row: i - n})
			}
		}
		if !math.IsNaN(v) {
			o.tree.Set(ranked{v: v, row: i})
		}
		emit(i)
	}
}

// quantile interpolates linearly between the closest ranks.
func (o *orderStats) quantile(q float64) float64 {
	k := o.tree.Len()
	if k == 0 {
		return math.NaN()
	}
	pos := q * float64(k-1)
	lo := int(math.Floor(pos))
	a, _ := o.tree.GetAt(lo)
	frac := pos - float64(lo)
	if frac == 0 || lo+1 >= k {
		return a.v
	}
	b, _ := o.tree.GetAt(lo + 1)
	return a.v + (b.v-a.v)*frac
}

// countBelow returns how many values are < v, or <= v when inclusive.
func (o *orderStats) countBelow(v float64, inclusive bool) int {
	lo, hi := 0, o.tree.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		it, _ := o.tree.GetAt(mid)
		if it.v < v || (inclusive && it.v == v) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func quantile(x []float64, w Window) []float64 {
	out := make([]float64, len(x))
	o := newOrderStats()
	o.each(x, w, func(i int) { out[i] = o.quantile(w.Q) })
	return out
}

func median(x []float64, w Window) []float64 {
	out := make([]float64, len(x))
	o := newOrderStats()
	o.each(x, w, func(i int) { out[i] = o.quantile(0.5) })
	return out
}

// rank is the percentile rank of the current value within its window,
// averaging ties.
func rank(x []float64, w Window) []float64 {
	out := make([]float64, len(x))
	o := newOrderStats()
	o.each(x, w, func(i int) {
		v := x[i]
		if math.IsNaN(v) {
			out[i] = math.NaN()
			return
		}
		below := o.countBelow(v, false)
		upto := o.countBelow(v, true)
		avg := float64(below+1+upto) / 2
		out[i] = avg / float64(o.tree.Len())
	})
	return out
}

// mad is the mean absolute deviation around the window mean.
func mad(x []float64, w Window) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		win := x[windowStart(i, w) : i+1]
		sum, n := 0.0, 0
		for _, v := range win {
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		mean := sum / float64(n)
		dev := 0.0
		for _, v := range win {
			if !math.IsNaN(v) {
				dev += math.Abs(v - mean)
			}
		}
		out[i] = dev / float64(n)
	}
	return out
}

// wma weights the window linearly (1..k, normalised to sum 1) and then
// averages the weighted values over the observed rows.
func wma(x []float64, w Window) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		win := x[windowStart(i, w) : i+1]
		k := float64(len(win))
		total := k * (k + 1) / 2
		sum, n := 0.0, 0
		for j, v := range win {
			if math.IsNaN(v) {
				continue
			}
			sum += float64(j+1) / total * v
			n++
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// ema is the adjusted exponentially weighted mean. A size in (0, 1) is the
// smoothing factor itself, a size >= 1 is a span. Missing rows still decay
// earlier weights.
func ema(x []float64, w Window) []float64 {
	if w.Expanding() {
		return expandingEMA(x)
	}
	alpha := w.N
	if alpha >= 1 {
		alpha = 2 / (w.N + 1)
	}
	decay := 1 - alpha
	out := make([]float64, len(x))
	num, den := 0.0, 0.0
	for i, v := range x {
		num *= decay
		den *= decay
		if !math.IsNaN(v) {
			num += v
			den++
		}
		if den == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = num / den
	}
	return out
}

// expandingEMA recomputes, for each prefix of length k, weights
// a^(k-1-j) with a = 1 - 2/(1+k), normalised over the prefix.
func expandingEMA(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		k := i + 1
		a := 1 - 2/(1+float64(k))
		total, sum := 0.0, 0.0
		seen := false
		wt := 1.0
		for j := i; j >= 0; j-- {
			total += wt
			if !math.IsNaN(x[j]) {
				sum += wt * x[j]
				seen = true
			}
			wt *= a
		}
		if !seen {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / total
	}
	return out
}

func regression(rolling func([]float64, int) []float64, expanding func([]float64) []float64) WindowFunc {
	return func(x []float64, w Window) []float64 {
		if w.Expanding() {
			return expanding(x)
		}
		return rolling(x, w.Size())
	}
}
