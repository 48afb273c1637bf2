package estimator

import "math"

// sums holds the least-squares sufficient statistics over (x, y) pairs.
// iSum counts the active non-missing slots.
type sums struct {
	i, x, x2, y, y2, xy float64
}

// shift moves every active abscissa one step back (x -> x-1).
func (s *sums) shift() {
	s.xy -= s.y
	s.x2 += s.i - 2*s.x
	s.x -= s.i
}

func (s *sums) add(x, v float64) {
	s.i++
	s.x += x
	s.x2 += x * x
	s.y += v
	s.y2 += v * v
	s.xy += x * v
}

func (s *sums) remove(v float64) {
	s.i--
	s.y -= v
	s.y2 -= v * v
}

// slope returns the closed-form least-squares slope for n observations.
func (s *sums) slope(n int) (float64, error) {
	fn := float64(n)
	den := fn*s.x2 - s.x*s.x
	if den == 0 {
		return 0, ErrZeroDenominator
	}
	return (fn*s.xy - s.x*s.y) / den, nil
}

// resi returns v minus the fitted value at abscissa x.
func (s *sums) resi(n int, x, v float64) (float64, error) {
	slope, err := s.slope(n)
	if err != nil {
		return 0, err
	}
	fn := float64(n)
	intercept := s.y/fn - slope*s.x/fn
	return v - (slope*x + intercept), nil
}

// rsquare uses plain float division so degenerate windows produce NaN or Inf.
func (s *sums) rsquare(n int) float64 {
	fn := float64(n)
	r := (fn*s.xy - s.x*s.y) / math.Sqrt((fn*s.x2-s.x*s.x)*(fn*s.y2-s.y*s.y))
	return r * r
}

// rollingRegression keeps the window's observations at abscissae 1..W,
// the newest always at W.
type rollingRegression struct {
	hist history
	s    sums
}

func newRollingRegression(window int) rollingRegression {
	return rollingRegression{hist: newHistory(window)}
}

func (r *rollingRegression) update(v float64) int {
	r.s.shift()
	old := r.hist.push(v)
	if !math.IsNaN(old) {
		r.s.remove(old)
	}
	if !math.IsNaN(v) {
		r.s.add(float64(r.hist.window), v)
	}
	return r.hist.effective()
}

// RollingSlopeEstimator is the regression slope of the last W observations against
// their position in the window.
type RollingSlopeEstimator struct{ reg rollingRegression }

func NewRollingSlope(window int) *RollingSlopeEstimator {
	return &RollingSlopeEstimator{reg: newRollingRegression(window)}
}

func (e *RollingSlopeEstimator) Window() int { return e.reg.hist.window }

func (e *RollingSlopeEstimator) Update(v float64) (float64, error) {
	n := e.reg.update(v)
	return e.reg.s.slope(n)
}

// RollingResiEstimator is the residual of the newest observation against the
// regression line fitted over the window.
type RollingResiEstimator struct{ reg rollingRegression }

func NewRollingResi(window int) *RollingResiEstimator {
	return &RollingResiEstimator{reg: newRollingRegression(window)}
}

func (e *RollingResiEstimator) Window() int { return e.reg.hist.window }

func (e *RollingResiEstimator) Update(v float64) (float64, error) {
	n := e.reg.update(v)
	return e.reg.s.resi(n, float64(e.reg.hist.window), v)
}

// RollingRsquareEstimator is the squared correlation between window values and
// their positions.
type RollingRsquareEstimator struct{ reg rollingRegression }

func NewRollingRsquare(window int) *RollingRsquareEstimator {
	return &RollingRsquareEstimator{reg: newRollingRegression(window)}
}

func (e *RollingRsquareEstimator) Window() int { return e.reg.hist.window }

func (e *RollingRsquareEstimator) Update(v float64) (float64, error) {
	n := e.reg.update(v)
	return e.reg.s.rsquare(n), nil
}

// expandingRegression places the k-th observation (1-based, missing ones
// included) at abscissa k.
type expandingRegression struct {
	count   int
	naCount int
	s       sums
}

func (r *expandingRegression) update(v float64) int {
	r.count++
	if math.IsNaN(v) {
		r.naCount++
	} else {
		r.s.add(float64(r.count), v)
	}
	return r.count - r.naCount
}

type ExpandingSlopeEstimator struct{ reg expandingRegression }

func NewExpandingSlope() *ExpandingSlopeEstimator { return &ExpandingSlopeEstimator{} }

func (e *ExpandingSlopeEstimator) Window() int { return 0 }

func (e *ExpandingSlopeEstimator) Update(v float64) (float64, error) {
	n := e.reg.update(v)
	return e.reg.s.slope(n)
}

type ExpandingResiEstimator struct{ reg expandingRegression }

func NewExpandingResi() *ExpandingResiEstimator { return &ExpandingResiEstimator{} }

func (e *ExpandingResiEstimator) Window() int { return 0 }

func (e *ExpandingResiEstimator) Update(v float64) (float64, error) {
	n := e.reg.update(v)
	return e.reg.s.resi(n, float64(e.reg.count), v)
}

type ExpandingRsquareEstimator struct{ reg expandingRegression }

func NewExpandingRsquare() *ExpandingRsquareEstimator { return &ExpandingRsquareEstimator{} }

func (e *ExpandingRsquareEstimator) Window() int { return 0 }

func (e *ExpandingRsquareEstimator) Update(v float64) (float64, error) {
	n := e.reg.update(v)
	return e.reg.s.rsquare(n), nil
}
