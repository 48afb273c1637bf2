package estimator

import "math"

// flatStdTolerance is the rolling standard deviation at or below which a
// window counts as constant for RollingRsquare.
const flatStdTolerance = 2e-5

// The batch functions below are total: they never fail and always return a
// slice of len(a). A window below 1 falls back to the expanding form.

// RollingMean is the NaN-skipping mean over the trailing window.
func RollingMean(a []float64, window int) []float64 {
	if window < 1 {
		return ExpandingMean(a)
	}
	return Apply(NewRollingMean(window), a)
}

// RollingSlope is the least-squares slope of the trailing window against positions 1..W.
func RollingSlope(a []float64, window int) []float64 {
	if window < 1 {
		return ExpandingSlope(a)
	}
	return Apply(NewRollingSlope(window), a)
}

// RollingResi is the newest value minus its fitted value on the trailing regression line.
func RollingResi(a []float64, window int) []float64 {
	if window < 1 {
		return ExpandingResi(a)
	}
	return Apply(NewRollingResi(window), a)
}

// RollingRsquare is the squared correlation of the trailing window with its
// positions. It forces NaN wherever the window's sample standard deviation
// is within flatStdTolerance of zero.
func RollingRsquare(a []float64, window int) []float64 {
	if window < 1 {
		return ExpandingRsquare(a)
	}
	out := Apply(NewRollingRsquare(window), a)
	for i, sd := range RollingStd(a, window) {
		if math.Abs(sd) <= flatStdTolerance {
			out[i] = math.NaN()
		}
	}
	return out
}

// ExpandingMean is the mean of every non-missing value up to each row.
func ExpandingMean(a []float64) []float64 {
	return applyExpanding(NewExpandingMean(), a)
}

// ExpandingSlope is the least-squares slope of the full prefix against positions 1..k.
func ExpandingSlope(a []float64) []float64 {
	return applyExpanding(NewExpandingSlope(), a)
}

// ExpandingResi is the residual of each value against the regression over its prefix.
func ExpandingResi(a []float64) []float64 {
	return applyExpanding(NewExpandingResi(), a)
}

// ExpandingRsquare is the squared correlation of the prefix with its positions.
func ExpandingRsquare(a []float64) []float64 {
	return applyExpanding(NewExpandingRsquare(), a)
}

// RollingStd is the sample standard deviation over the trailing window,
// skipping NaN. Windows with fewer than two observations yield NaN.
func RollingStd(a []float64, window int) []float64 {
	out := make([]float64, len(a))
	var m Moments
	for i, v := range a {
		if !math.IsNaN(v) {
			m.Add(v)
		}
		if window > 0 && i >= window {
			if old := a[i-window]; !math.IsNaN(old) {
				m.Remove(old)
			}
		}
		out[i] = m.Std()
	}
	return out
}
