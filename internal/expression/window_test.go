package expression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func assertFloats(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "row %d: expected NaN, got %v", i, got[i])
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-9, "row %d", i)
	}
}

func kernel(t *testing.T, name string) WindowFunc {
	t.Helper()
	op, err := DefaultRegistry().Lookup(name)
	require.NoError(t, err)
	require.Equal(t, KindWindow, op.Kind)
	return op.Window
}

func rolling(n float64) Window { return Window{N: n, NIsInt: true} }

func TestExtremum(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5}
	assertFloats(t, []float64{3, 3, 4, 4, 5}, kernel(t, "Max")(x, rolling(3)))
	assertFloats(t, []float64{3, 1, 1, 1, 1}, kernel(t, "Min")(x, rolling(3)))
	assertFloats(t, []float64{1, 1, 3, 2, 3}, kernel(t, "IdxMax")(x, rolling(3)))
	assertFloats(t, []float64{1, 2, 2, 1, 2}, kernel(t, "IdxMin")(x, rolling(3)))
	assertFloats(t, []float64{1, 1, 3, 3, 5}, kernel(t, "IdxMax")(x, rolling(0)))
}

func TestExtremum_SkipsMissing(t *testing.T) {
	x := []float64{nan, 2, nan, nan}
	assertFloats(t, []float64{nan, 2, 2, nan}, kernel(t, "Max")(x, rolling(2)))
	assertFloats(t, []float64{nan, 2, 1, nan}, kernel(t, "IdxMin")(x, rolling(2)))
}

func TestMomentKernels(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	assertFloats(t, []float64{1, 1.5, 2.5, 3.5}, kernel(t, "Mean")(x, rolling(2)))
	assertFloats(t, []float64{1, 3, 6, 10}, kernel(t, "Sum")(x, rolling(0)))
	s := math.Sqrt(0.5)
	assertFloats(t, []float64{nan, s, s, s}, kernel(t, "Std")(x, rolling(2)))
	assertFloats(t, []float64{nan, 0.5, 1, 5.0 / 3}, kernel(t, "Var")(x, rolling(0)))
	assertFloats(t, []float64{nan, 1, 1, nan}, kernel(t, "Count")([]float64{nan, 1, nan, nan}, rolling(2)))
	assertFloats(t, []float64{nan, nan, 0, 1.763632614803888}, kernel(t, "Skew")([]float64{1, 2, 3, 10}, rolling(0)))
}

func TestOrderStatKernels(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	assertFloats(t, []float64{1, 1.5, 2, 2.5}, kernel(t, "Med")(x, rolling(0)))
	assertFloats(t, []float64{1, 1.8, 2.8, 3.8}, kernel(t, "Quantile")(x, Window{N: 2, Q: 0.8}))
	assertFloats(t, []float64{1, 1, 2.0 / 3, 0.625}, kernel(t, "Rank")([]float64{1, 3, 2, 2}, rolling(0)))
	assertFloats(t, []float64{nan, 1, 0.5}, kernel(t, "Rank")([]float64{nan, 5, 4}, rolling(2)))
	assertFloats(t, []float64{1, 1, 3}, kernel(t, "Med")([]float64{1, nan, 5}, rolling(3)))
}

func TestShiftKernels(t *testing.T) {
	x := []float64{5, 7, 4}
	assertFloats(t, []float64{nan, 5, 7}, kernel(t, "Ref")(x, rolling(1)))
	assertFloats(t, []float64{7, 4, nan}, kernel(t, "Ref")(x, rolling(-1)))
	assertFloats(t, []float64{0, 2, -1}, kernel(t, "Delta")(x, rolling(0)))
	assertFloats(t, []float64{nan, 2, -3}, kernel(t, "Delta")(x, rolling(1)))
}

func TestMadWma(t *testing.T) {
	assertFloats(t, []float64{0, 0.5, 2.0 / 3, 2.0 / 3}, kernel(t, "Mad")([]float64{1, 2, 3, nan}, rolling(0)))
	assertFloats(t, []float64{1, 5.0 / 6}, kernel(t, "WMA")([]float64{1, 2}, rolling(2)))
	assertFloats(t, []float64{nan, nan}, kernel(t, "WMA")([]float64{nan, nan}, rolling(2)))
}

func TestEMA(t *testing.T) {
	x := []float64{1, 2, 3}
	assertFloats(t, []float64{1, 5.0 / 3, 4.25 / 1.75}, kernel(t, "EMA")(x, rolling(3)))
	assertFloats(t, []float64{1, 5.0 / 3, 4.25 / 1.75}, kernel(t, "EMA")(x, Window{N: 0.5}))
	assertFloats(t, []float64{1, 1.75}, kernel(t, "EMA")(x[:2], rolling(0)))
	assertFloats(t, []float64{nan, 2, 2}, kernel(t, "EMA")([]float64{nan, 2, nan}, rolling(3)))
}

func TestPairKernels(t *testing.T) {
	reg := DefaultRegistry()
	corr, err := reg.Lookup("Corr")
	require.NoError(t, err)
	cov, err := reg.Lookup("Cov")
	require.NoError(t, err)

	x := []float64{1, 2, 3}
	y := []float64{2, 4, 6}
	assertFloats(t, []float64{nan, 1, 1}, corr.PairWindow(x, y, rolling(0)))
	assertFloats(t, []float64{nan, 1, 1}, cov.PairWindow(x, y, rolling(2)))
	assertFloats(t, []float64{nan, nan, nan}, corr.PairWindow(x, []float64{1, 1, 1}, rolling(3)))
	assertFloats(t, []float64{nan, nan, 4}, cov.PairWindow([]float64{1, nan, 3}, y, rolling(3)))
}

func TestRegressionKernels(t *testing.T) {
	x := []float64{1, 3, 5, 7}
	assertFloats(t, []float64{nan, 2, 2, 2}, kernel(t, "Slope")(x, rolling(3)))
	assertFloats(t, []float64{nan, 2, 2, 2}, kernel(t, "Slope")(x, rolling(0)))
	assertFloats(t, []float64{nan, 1, 1, 1}, kernel(t, "Rsquare")(x, rolling(3)))
	assertFloats(t, []float64{nan, 0, 0, 0}, kernel(t, "Resi")(x, rolling(3)))
}

func TestAllMissingWindowsAreNaN(t *testing.T) {
	x := []float64{nan, nan, nan}
	for _, op := range windowOps {
		w := rolling(2)
		if op.MinWindow > 0 {
			w = rolling(float64(op.MinWindow))
		}
		if op.HasParam {
			w.Q = 0.5
		}
		for i, v := range op.Window(x, w) {
			assert.True(t, math.IsNaN(v), "%s row %d: expected NaN, got %v", op.Name, i, v)
		}
	}
}
