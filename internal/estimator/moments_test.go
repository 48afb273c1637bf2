package estimator

import (
	"math"
	"testing"
)

func TestMoments_AddRemove(t *testing.T) {
	var m Moments
	for _, v := range []float64{1, 2, 3, 4} {
		m.Add(v)
	}
	if m.N() != 4 || m.Sum() != 10 || m.Mean() != 2.5 {
		t.Fatalf("Expected n=4 sum=10 mean=2.5, got n=%d sum=%v mean=%v", m.N(), m.Sum(), m.Mean())
	}
	if math.Abs(m.Variance()-5.0/3) > tol {
		t.Errorf("Expected variance 5/3, got %v", m.Variance())
	}

	m.Remove(1)
	if math.Abs(m.Variance()-1) > tol {
		t.Errorf("Expected variance 1 after removal, got %v", m.Variance())
	}
	if math.Abs(m.Mean()-3) > tol {
		t.Errorf("Expected mean 3 after removal, got %v", m.Mean())
	}

	m.Remove(2)
	m.Remove(3)
	if !math.IsNaN(m.Variance()) {
		t.Errorf("Expected NaN variance with one observation, got %v", m.Variance())
	}
	m.Remove(4)
	if m.N() != 0 || !math.IsNaN(m.Mean()) || !math.IsNaN(m.Sum()) {
		t.Errorf("Expected empty moments, got n=%d mean=%v", m.N(), m.Mean())
	}
}

func TestMoments_SkewKurt(t *testing.T) {
	var m Moments
	for _, v := range []float64{1, 2, 3, 10} {
		m.Add(v)
	}
	if math.Abs(m.Skew()-1.763632614803888) > 1e-9 {
		t.Errorf("Expected skew 1.7636, got %v", m.Skew())
	}
	if math.Abs(m.Kurt()-3.228) > 1e-9 {
		t.Errorf("Expected kurt 3.228, got %v", m.Kurt())
	}

	var flat Moments
	for i := 0; i < 5; i++ {
		flat.Add(7)
	}
	if !math.IsNaN(flat.Skew()) || !math.IsNaN(flat.Kurt()) {
		t.Errorf("Expected NaN for constant set, got skew=%v kurt=%v", flat.Skew(), flat.Kurt())
	}
	if flat.Std() != 0 {
		t.Errorf("Expected zero std for constant set, got %v", flat.Std())
	}
}

func TestCoMoments(t *testing.T) {
	var c CoMoments
	c.Add(1, 2)
	c.Add(2, 4)
	c.Add(3, 6)
	if math.Abs(c.Cov()-2) > tol {
		t.Errorf("Expected cov 2, got %v", c.Cov())
	}
	if math.Abs(c.Corr()-1) > tol {
		t.Errorf("Expected corr 1, got %v", c.Corr())
	}

	c.Remove(1, 2)
	if math.Abs(c.Cov()-1) > tol {
		t.Errorf("Expected cov 1 after removal, got %v", c.Cov())
	}

	c.Add(4, 1)
	// x = [2 3 4], y = [4 6 1]
	if math.Abs(c.Cov()-(-1.5)) > tol {
		t.Errorf("Expected cov -1.5, got %v", c.Cov())
	}

	var flat CoMoments
	flat.Add(1, 5)
	flat.Add(2, 5)
	if !math.IsNaN(flat.Corr()) {
		t.Errorf("Expected NaN corr with constant side, got %v", flat.Corr())
	}
}

func TestIndicator_CarriesForward(t *testing.T) {
	ind := NewIndicator(NewRollingSlope(3))
	if !math.IsNaN(ind.Update(1)) {
		t.Error("Expected NaN after first observation")
	}
	if got := ind.Update(2); math.Abs(got-1) > tol {
		t.Errorf("Expected slope 1, got %v", got)
	}

	mean := NewIndicator(NewRollingMean(1))
	mean.Update(5)
	if got := mean.Update(math.NaN()); got != 5 {
		t.Errorf("Expected carried value 5, got %v", got)
	}
	if mean.Count() != 2 || mean.Window() != 1 {
		t.Errorf("Expected count 2 window 1, got %d %d", mean.Count(), mean.Window())
	}
}
