package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/expression"
	"factor-lab/internal/factorset"
	"factor-lab/internal/observability"
	"factor-lab/internal/storage"
	"factor-lab/internal/storage/memory"
)

var rb1d = domain.BarKey{Symbol: "rb2405", Interval: "1d"}

func makeBars(key domain.BarKey, closes ...float64) []*domain.Bar {
	bars := make([]*domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = &domain.Bar{
			Symbol:      key.Symbol,
			Interval:    key.Interval,
			TimestampMs: int64(i+1) * 86_400_000,
			Open:        c,
			High:        c + 1,
			Low:         c - 1,
			Close:       c,
			Volume:      100,
			Turnover:    100 * c,
		}
	}
	return bars
}

func testFactors(t *testing.T) []factorset.Factor {
	t.Helper()
	factors, err := factorset.Compile([]factorset.Spec{
		{Name: "MA3", Formula: "Mean($close, 3)/$close", Group: factorset.GroupCustom},
		{Name: "RET", Formula: "$close/Ref($close, 1)", Group: factorset.GroupCustom},
	}, expression.NewParser(expression.DefaultRegistry()))
	require.NoError(t, err)
	return factors
}

func TestRunner_RunSeries(t *testing.T) {
	ctx := context.Background()
	bars := memory.NewBarStore()
	values := memory.NewFactorStore()
	require.NoError(t, bars.InsertBulk(ctx, makeBars(rb1d, 10, 11, 12, 13, 14)))

	r := NewRunner(bars, values, testFactors(t))
	res, err := r.RunSeries(ctx, rb1d)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Bars)
	assert.Equal(t, 5, res.Written)
	assert.Equal(t, 10, res.Points)
	assert.Equal(t, int64(5*86_400_000), res.LastTsMs)

	ma, err := values.GetBySeries(ctx, rb1d, "MA3")
	require.NoError(t, err)
	require.Len(t, ma, 5)
	require.NotNil(t, ma[2].Value)
	assert.InDelta(t, 11.0/12.0, *ma[2].Value, 1e-12)

	ret, err := values.GetBySeries(ctx, rb1d, "RET")
	require.NoError(t, err)
	require.Len(t, ret, 5)
	assert.Nil(t, ret[0].Value, "first return is undefined")
	require.NotNil(t, ret[4].Value)
	assert.InDelta(t, 14.0/13.0, *ret[4].Value, 1e-12)
}

func TestRunner_Incremental(t *testing.T) {
	ctx := context.Background()
	bars := memory.NewBarStore()
	values := memory.NewFactorStore()
	progress := memory.NewProgressStore()

	all := makeBars(rb1d, 10, 11, 12, 13, 14, 15)
	require.NoError(t, bars.InsertBulk(ctx, all[:4]))

	r := NewRunner(bars, values, testFactors(t), WithProgress(progress), WithBatchSize(3))
	res, err := r.RunSeries(ctx, rb1d)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Written)

	p, err := progress.GetLastProcessed(ctx, rb1d)
	require.NoError(t, err)
	assert.Equal(t, all[3].TimestampMs, p.LastTimestampMs)

	// Nothing new: no writes, no duplicate errors
	res, err = r.RunSeries(ctx, rb1d)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Points)

	require.NoError(t, bars.InsertBulk(ctx, all[4:]))
	res, err = r.RunSeries(ctx, rb1d)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 4, res.Points)

	ma, err := values.GetBySeries(ctx, rb1d, "MA3")
	require.NoError(t, err)
	require.Len(t, ma, 6)
	// Window reaches back into bars computed by the first run
	require.NotNil(t, ma[4].Value)
	assert.InDelta(t, 13.0/14.0, *ma[4].Value, 1e-12)
}

func TestRunner_RunAllSeries(t *testing.T) {
	ctx := context.Background()
	bars := memory.NewBarStore()
	values := memory.NewFactorStore()
	ag := domain.BarKey{Symbol: "ag2406", Interval: "1d"}
	require.NoError(t, bars.InsertBulk(ctx, makeBars(rb1d, 10, 11, 12)))
	require.NoError(t, bars.InsertBulk(ctx, makeBars(ag, 5000, 5010)))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	r := NewRunner(bars, values, testFactors(t), WithMetrics(metrics), WithWorkers(1), WithParallelSeries(2))
	summary, err := r.Run(ctx, nil)
	require.NoError(t, err)

	require.Len(t, summary.Series, 2)
	assert.Equal(t, "ag2406", summary.Series[0].Key.Symbol)
	assert.Equal(t, 5, summary.Bars)
	assert.Equal(t, 10, summary.Points)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.BarsLoaded))
	assert.Equal(t, 10.0, testutil.ToFloat64(metrics.FactorsStored))
}

func TestRunner_StoreFailure(t *testing.T) {
	ctx := context.Background()
	bars := memory.NewBarStore()
	values := memory.NewFactorStore()
	require.NoError(t, bars.InsertBulk(ctx, makeBars(rb1d, 10, 11)))

	r := NewRunner(bars, values, testFactors(t))
	_, err := r.Run(ctx, []domain.BarKey{rb1d})
	require.NoError(t, err)

	// Without progress the second run rewrites the same rows
	_, err = r.Run(ctx, []domain.BarKey{rb1d})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "got %v", err)
}

func TestRunner_EmptySeries(t *testing.T) {
	r := NewRunner(memory.NewBarStore(), memory.NewFactorStore(), testFactors(t))
	res, err := r.RunSeries(context.Background(), rb1d)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Bars)
	assert.Equal(t, 0, res.Points)
}

func TestPoints(t *testing.T) {
	factors := testFactors(t)
	cols := [][]float64{{1, 2}, {3, 4}}
	got := Points(rb1d, []int64{100, 200}, factors, cols, 100)

	require.Len(t, got, 2)
	assert.Equal(t, "MA3", got[0].Factor)
	assert.Equal(t, "RET", got[1].Factor)
	assert.Equal(t, int64(200), got[0].TimestampMs)
	assert.Equal(t, 2.0, *got[0].Value)
	assert.Equal(t, 4.0, *got[1].Value)
}
