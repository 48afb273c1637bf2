package estimator

import "math"

// Moments accumulates the first four moments of a multiset of observations
// with O(1) add and remove. Mean and variance use Welford's recurrence;
// skewness and kurtosis use raw power sums.
type Moments struct {
	n    int
	mean float64
	m2   float64

	s1, s2, s3, s4 float64
}

func (m *Moments) Add(x float64) {
	m.n++
	delta := x - m.mean
	m.mean += delta / float64(m.n)
	m.m2 += delta * (x - m.mean)

	x2 := x * x
	m.s1 += x
	m.s2 += x2
	m.s3 += x2 * x
	m.s4 += x2 * x2
}

// Remove reverses a prior Add of x.
func (m *Moments) Remove(x float64) {
	if m.n <= 1 {
		m.Reset()
		return
	}
	delta := x - m.mean
	m.n--
	m.mean -= delta / float64(m.n)
	m.m2 -= delta * (x - m.mean)
	if m.m2 < 0 {
		m.m2 = 0
	}

	x2 := x * x
	m.s1 -= x
	m.s2 -= x2
	m.s3 -= x2 * x
	m.s4 -= x2 * x2
}

func (m *Moments) Reset() { *m = Moments{} }

func (m *Moments) N() int { return m.n }

// Sum returns NaN for an empty set.
func (m *Moments) Sum() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.s1
}

func (m *Moments) Mean() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.mean
}

// Variance is the sample variance (ddof=1); NaN below two observations.
func (m *Moments) Variance() float64 {
	if m.n < 2 {
		return math.NaN()
	}
	return m.m2 / float64(m.n-1)
}

func (m *Moments) Std() float64 {
	return math.Sqrt(m.Variance())
}

// Skew is the adjusted Fisher-Pearson sample skewness; NaN below three
// observations or for a (numerically) constant set.
func (m *Moments) Skew() float64 {
	if m.n < 3 {
		return math.NaN()
	}
	n := float64(m.n)
	a := m.s1 / n
	b := m.s2/n - a*a
	if b <= 1e-14 {
		return math.NaN()
	}
	c := m.s3/n - a*a*a - 3*a*b
	r := math.Sqrt(b)
	return math.Sqrt(n*(n-1)) * c / ((n - 2) * r * r * r)
}

// Kurt is the bias-corrected sample excess kurtosis; NaN below four
// observations or for a (numerically) constant set.
func (m *Moments) Kurt() float64 {
	if m.n < 4 {
		return math.NaN()
	}
	n := float64(m.n)
	a := m.s1 / n
	r := a * a
	b := m.s2/n - r
	if b <= 1e-14 {
		return math.NaN()
	}
	r *= a
	c := m.s3/n - r - 3*a*b
	r *= a
	d := m.s4/n - r - 6*b*a*a - 4*c*a
	k := (n*n-1)*d/(b*b) - 3*(n-1)*(n-1)
	return k / ((n - 2) * (n - 3))
}

// CoMoments accumulates the co-moment of paired observations with O(1)
// add and remove.
type CoMoments struct {
	n             int
	meanX, meanY  float64
	cxy, m2x, m2y float64
}

func (c *CoMoments) Add(x, y float64) {
	c.n++
	n := float64(c.n)
	dx := x - c.meanX
	dy := y - c.meanY
	c.meanX += dx / n
	c.meanY += dy / n
	c.cxy += dx * (y - c.meanY)
	c.m2x += dx * (x - c.meanX)
	c.m2y += dy * (y - c.meanY)
}

// Remove reverses a prior Add of (x, y).
func (c *CoMoments) Remove(x, y float64) {
	if c.n <= 1 {
		*c = CoMoments{}
		return
	}
	dx := x - c.meanX
	dy := y - c.meanY
	c.n--
	n := float64(c.n)
	c.meanX -= dx / n
	c.meanY -= dy / n
	c.cxy -= (x - c.meanX) * dy
	c.m2x -= (x - c.meanX) * dx
	c.m2y -= (y - c.meanY) * dy
}

func (c *CoMoments) N() int { return c.n }

// Cov is the sample covariance (ddof=1).
func (c *CoMoments) Cov() float64 {
	if c.n < 2 {
		return math.NaN()
	}
	return c.cxy / float64(c.n-1)
}

// Corr is the Pearson correlation; NaN when either side has no variance.
func (c *CoMoments) Corr() float64 {
	if c.n < 2 {
		return math.NaN()
	}
	den := c.m2x * c.m2y
	if den <= 0 {
		return math.NaN()
	}
	return c.cxy / math.Sqrt(den)
}
