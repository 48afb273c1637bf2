package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordBar("rb2405", 1700000000000)
	m.RecordBar("rb2405", 1700000060000)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BarsReceived.WithLabelValues("rb2405")))
	assert.Equal(t, 1700000060000.0, testutil.ToFloat64(m.LastBarTimestamp.WithLabelValues("rb2405")))

	m.RecordPipelineRun(nil, time.Second)
	m.RecordPipelineRun(errors.New("boom"), time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("failure")))

	m.RecordDBQuery("clickhouse", "insert_factors", time.Now(), errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("clickhouse", "insert_factors")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances on distinct registries must not collide
	NewMetrics("", prometheus.NewRegistry())
	NewMetrics("", prometheus.NewRegistry())
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.FactorsEvaluated.Add(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "test_stream_factors_evaluated_total 3"))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger("loud", false)
	assert.Error(t, err)
}
