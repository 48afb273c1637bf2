package estimator

import "math"

// Indicator adapts an Estimator for streaming use with the same carry-forward
// rule as Apply. It is not safe for concurrent use.
type Indicator struct {
	est   Estimator
	last  float64
	count int
}

func NewIndicator(e Estimator) *Indicator {
	return &Indicator{est: e, last: math.NaN()}
}

// Update feeds one observation and returns the current value.
func (ind *Indicator) Update(v float64) float64 {
	r, err := ind.est.Update(v)
	if err == nil {
		ind.last = r
	}
	ind.count++
	return ind.last
}

// Last returns the most recent value, NaN before the first update.
func (ind *Indicator) Last() float64 { return ind.last }

// Count returns the number of observations fed so far.
func (ind *Indicator) Count() int { return ind.count }

// Window returns the wrapped estimator's window.
func (ind *Indicator) Window() int { return ind.est.Window() }
