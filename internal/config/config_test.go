package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 128, cfg.Stream.WindowSize)
	assert.Equal(t, "1m", cfg.Feed.Interval)
	assert.Equal(t, 30*time.Second, cfg.Feed.PingInterval)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Empty(t, cfg.ClickHouse.DSN)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factorlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
clickhouse:
  dsn: clickhouse://localhost:9000/factors
feed:
  url: ws://localhost:8080/bars
  symbols: [rb2405, IF2406]
  ping_interval: 10s
stream:
  window_size: 64
`), 0o644))

	t.Setenv("FACTORLAB_STREAM_WINDOW_SIZE", "256")
	t.Setenv("FACTORLAB_FACTORS_WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "clickhouse://localhost:9000/factors", cfg.ClickHouse.DSN)
	assert.Equal(t, []string{"rb2405", "IF2406"}, cfg.Feed.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Feed.PingInterval)
	assert.Equal(t, 256, cfg.Stream.WindowSize)
	assert.Equal(t, 4, cfg.Factors.Workers)
}

func TestLoad_EnvSymbolList(t *testing.T) {
	t.Setenv("FACTORLAB_FEED_SYMBOLS", "rb2405, IF2406")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"rb2405", "IF2406"}, cfg.Feed.Symbols)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("FACTORLAB_STREAM_WINDOW_SIZE", "0")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("FACTORLAB_STREAM_WINDOW_SIZE", "10")
	t.Setenv("FACTORLAB_LOG_LEVEL", "loud")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
