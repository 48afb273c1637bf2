package estimator

import "math"

// RollingMeanEstimator is the mean of the last W observations.
type RollingMeanEstimator struct {
	hist history
	sum  float64
}

// NewRollingMean returns a rolling mean over window observations.
func NewRollingMean(window int) *RollingMeanEstimator {
	return &RollingMeanEstimator{hist: newHistory(window)}
}

func (m *RollingMeanEstimator) Window() int { return m.hist.window }

func (m *RollingMeanEstimator) Update(v float64) (float64, error) {
	old := m.hist.push(v)
	if !math.IsNaN(old) {
		m.sum -= old
	}
	if !math.IsNaN(v) {
		m.sum += v
	}
	n := m.hist.effective()
	if n == 0 {
		return 0, ErrZeroDenominator
	}
	return m.sum / float64(n), nil
}

// ExpandingMeanEstimator is the mean of every observation seen so far.
type ExpandingMeanEstimator struct {
	count   int
	naCount int
	sum     float64
}

func NewExpandingMean() *ExpandingMeanEstimator {
	return &ExpandingMeanEstimator{}
}

func (m *ExpandingMeanEstimator) Window() int { return 0 }

// Update never fails; an all-missing prefix yields NaN.
func (m *ExpandingMeanEstimator) Update(v float64) (float64, error) {
	m.count++
	if math.IsNaN(v) {
		m.naCount++
	} else {
		m.sum += v
	}
	n := m.count - m.naCount
	if n == 0 {
		return math.NaN(), nil
	}
	return m.sum / float64(n), nil
}
