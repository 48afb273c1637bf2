package estimator

import (
	"errors"
	"math"
	"testing"
)

const tol = 1e-9

func nan() float64 { return math.NaN() }

func assertSeries(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d values, got %d", name, len(want), len(got))
	}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Errorf("%s[%d]: expected NaN, got %v", name, i, got[i])
			}
			continue
		}
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("%s[%d]: expected %v, got %v", name, i, want[i], got[i])
		}
	}
}

func linear(n int, m, c float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = m*float64(i) + c
	}
	return out
}

func TestRollingMean_MatchesWindowMean(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 10, -2}
	for _, w := range []int{1, 2, 3, 5, 20} {
		got := RollingMean(a, w)
		for i := range a {
			lo := i - w + 1
			if lo < 0 {
				lo = 0
			}
			sum := 0.0
			for _, v := range a[lo : i+1] {
				sum += v
			}
			want := sum / float64(i+1-lo)
			if math.Abs(got[i]-want) > tol {
				t.Errorf("w=%d i=%d: expected %v, got %v", w, i, want, got[i])
			}
		}
	}
}

func TestRollingMean_CarriesForwardOverEmptyWindow(t *testing.T) {
	got := RollingMean([]float64{nan(), 2, nan(), nan(), nan(), 4}, 2)
	assertSeries(t, "mean", got, []float64{nan(), 2, 2, 2, 2, 4})
}

func TestRollingMean_UpdateReportsZeroDenominator(t *testing.T) {
	m := NewRollingMean(3)
	if _, err := m.Update(nan()); !errors.Is(err, ErrZeroDenominator) {
		t.Fatalf("Expected ErrZeroDenominator, got %v", err)
	}
	v, err := m.Update(6)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v != 6 {
		t.Errorf("Expected 6, got %v", v)
	}
}

func TestEstimatorsMatchBatchFunctions(t *testing.T) {
	a := []float64{3, nan(), 1, 4, 1, 5, 9, 2, 6}

	tests := []struct {
		name  string
		est   Estimator
		batch []float64
	}{
		{"rolling_mean", NewRollingMean(3), RollingMean(a, 3)},
		{"rolling_slope", NewRollingSlope(4), RollingSlope(a, 4)},
		{"rolling_resi", NewRollingResi(4), RollingResi(a, 4)},
		{"expanding_mean", NewExpandingMean(), ExpandingMean(a)},
		{"expanding_slope", NewExpandingSlope(), ExpandingSlope(a)},
		{"expanding_resi", NewExpandingResi(), ExpandingResi(a)},
		{"expanding_rsquare", NewExpandingRsquare(), ExpandingRsquare(a)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSeries(t, tt.name, Apply(tt.est, a), tt.batch)
		})
	}
}

func TestRollingSlopeResi_LinearData(t *testing.T) {
	a := linear(30, 2.5, -7)
	for _, w := range []int{2, 5, 10} {
		slope := RollingSlope(a, w)
		resi := RollingResi(a, w)
		if !math.IsNaN(slope[0]) || !math.IsNaN(resi[0]) {
			t.Errorf("w=%d: expected NaN on the first row, got slope=%v resi=%v", w, slope[0], resi[0])
		}
		for i := 1; i < len(a); i++ {
			if math.Abs(slope[i]-2.5) > 1e-6 {
				t.Errorf("w=%d i=%d: expected slope 2.5, got %v", w, i, slope[i])
			}
			if math.Abs(resi[i]) > 1e-6 {
				t.Errorf("w=%d i=%d: expected residual 0, got %v", w, i, resi[i])
			}
		}
	}
}

func TestRollingSlope_NewestAtWindowEnd(t *testing.T) {
	// Window [1, 4, 9] at x = 1, 2, 3: slope = 4.
	got := RollingSlope([]float64{1, 4, 9}, 3)
	assertSeries(t, "slope", got, []float64{nan(), 3, 4})

	// Residual of 9 against the fit y = 4x - 10/3.
	resi := RollingResi([]float64{1, 4, 9}, 3)
	if math.Abs(resi[2]-(9-(4*3-10.0/3))) > tol {
		t.Errorf("Expected residual %v, got %v", 9-(4*3-10.0/3), resi[2])
	}
}

func TestRollingSlope_SkipsMissing(t *testing.T) {
	// Window [2, NaN, 6] keeps positions 1 and 3.
	got := RollingSlope([]float64{2, nan(), 6}, 3)
	assertSeries(t, "slope", got, []float64{nan(), nan(), 2})
}

func TestRollingRsquare_LinearIsOne(t *testing.T) {
	got := RollingRsquare(linear(20, -1.5, 3), 6)
	if !math.IsNaN(got[0]) {
		t.Errorf("Expected NaN on the first row, got %v", got[0])
	}
	for i := 1; i < len(got); i++ {
		if math.Abs(got[i]-1) > 1e-9 {
			t.Errorf("i=%d: expected 1, got %v", i, got[i])
		}
	}
}

func TestRollingRsquare_ConstantIsNaN(t *testing.T) {
	got := RollingRsquare([]float64{3, 3, 3, 3, 3, 3}, 3)
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("i=%d: expected NaN, got %v", i, v)
		}
	}
}

func TestRollingRsquare_NearConstantIsNaN(t *testing.T) {
	got := RollingRsquare([]float64{1, 1 + 1e-6, 1 - 1e-6, 1, 5, 9}, 3)
	for i := 0; i < 4; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("i=%d: expected NaN, got %v", i, got[i])
		}
	}
	if math.IsNaN(got[5]) {
		t.Error("Expected a value once the window varies")
	}
}

func TestExpanding(t *testing.T) {
	assertSeries(t, "mean", ExpandingMean([]float64{nan(), 1, 3, nan()}), []float64{nan(), 1, 2, 2})
	assertSeries(t, "slope", ExpandingSlope([]float64{1, 3, 5}), []float64{nan(), 2, 2})
	assertSeries(t, "slope gap", ExpandingSlope([]float64{1, nan(), 5}), []float64{nan(), nan(), 2})
	assertSeries(t, "resi", ExpandingResi(linear(5, 3, 1)), []float64{nan(), 0, 0, 0, 0})
	assertSeries(t, "rsquare", ExpandingRsquare(linear(5, 3, 1)), []float64{nan(), 1, 1, 1, 1})
}

func TestBatchFunctions_AreTotal(t *testing.T) {
	inputs := [][]float64{
		nil,
		{},
		{nan(), nan(), nan()},
		{math.Inf(1), 1, nan()},
		{0},
	}
	fns := map[string]func([]float64) []float64{
		"rolling_mean":      func(a []float64) []float64 { return RollingMean(a, 3) },
		"rolling_slope":     func(a []float64) []float64 { return RollingSlope(a, 3) },
		"rolling_resi":      func(a []float64) []float64 { return RollingResi(a, 3) },
		"rolling_rsquare":   func(a []float64) []float64 { return RollingRsquare(a, 3) },
		"rolling_zero":      func(a []float64) []float64 { return RollingMean(a, 0) },
		"expanding_mean":    ExpandingMean,
		"expanding_slope":   ExpandingSlope,
		"expanding_resi":    ExpandingResi,
		"expanding_rsquare": ExpandingRsquare,
	}
	for name, fn := range fns {
		for _, in := range inputs {
			if got := fn(in); len(got) != len(in) {
				t.Errorf("%s: expected %d values, got %d", name, len(in), len(got))
			}
		}
	}
}

func TestAllMissingWindowIsNaN(t *testing.T) {
	a := []float64{nan(), nan(), nan(), nan()}
	for name, got := range map[string][]float64{
		"mean":    RollingMean(a, 2),
		"slope":   RollingSlope(a, 2),
		"rsquare": RollingRsquare(a, 2),
		"std":     RollingStd(a, 2),
	} {
		for i, v := range got {
			if !math.IsNaN(v) {
				t.Errorf("%s[%d]: expected NaN, got %v", name, i, v)
			}
		}
	}
}

func TestNewHistory_PanicsOnNonPositiveWindow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for window 0")
		}
	}()
	NewRollingMean(0)
}
