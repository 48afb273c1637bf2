// Package main runs the live factor service:
// - Feed (continuous): WebSocket bars for the configured symbols
// - Stream engine: factor set re-evaluated on every bar
// - HTTP: /health, /metrics, /status, /factors
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/factorset"
	"factor-lab/internal/feed"
	"factor-lab/internal/idhash"
	"factor-lab/internal/observability"
	"factor-lab/internal/pipeline"
	"factor-lab/internal/storage"
	chstore "factor-lab/internal/storage/clickhouse"
	"factor-lab/internal/storage/migrations"
	pgstore "factor-lab/internal/storage/postgres"
	"factor-lab/internal/stream"
)

// Server holds all components of the live service.
type Server struct {
	cfg     *config.Config
	setID   string
	engine  *stream.Engine
	bars    storage.BarStore // optional, persists received bars
	metrics *observability.Metrics
	logger  *zap.Logger

	// State
	mu          sync.Mutex
	started     time.Time
	barsHandled int64
	barErrors   int64
	lastBarAt   time.Time
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	feedURL := flag.String("feed-url", "", "WebSocket feed URL (overrides config)")
	symbols := flag.String("symbols", "", "Comma-separated symbols (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *feedURL != "" {
		cfg.Feed.URL = *feedURL
	}
	if *symbols != "" {
		cfg.Feed.Symbols = strings.Split(*symbols, ",")
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Feed.URL == "" || len(cfg.Feed.Symbols) == 0 {
		logger.Fatal("feed url and symbols are required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("", reg)

	factors, err := loadFactors(cfg.Factors.File)
	if err != nil {
		logger.Fatal("load factors", zap.Error(err))
	}
	setID := idhash.ComputeFactorSetID(factorset.Definitions(factors, 0))
	logger.Info("factor set loaded", zap.Int("factors", len(factors)), zap.String("set_id", idhash.ShortID(setID)))

	st, cleanup, err := openStores(ctx, cfg, metrics)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer cleanup()

	if st.definitions != nil {
		n, err := pipeline.RegisterDefinitions(ctx, st.definitions, factorset.Definitions(factors, time.Now().UnixMilli()))
		if err != nil {
			logger.Fatal("register factor definitions", zap.Error(err))
		}
		logger.Info("factor definitions registered", zap.Int("inserted", n))
	}

	opts := []stream.Option{
		stream.WithWindowSize(cfg.Stream.WindowSize),
		stream.WithWorkers(cfg.Factors.Workers),
		stream.WithMetrics(metrics),
		stream.WithLogger(logger.Named("stream")),
	}
	if st.factors != nil {
		opts = append(opts, stream.WithStore(st.factors))
	}
	engine, err := stream.NewEngine(factors, opts...)
	if err != nil {
		logger.Fatal("create stream engine", zap.Error(err))
	}

	server := &Server{
		cfg:     cfg,
		setID:   setID,
		engine:  engine,
		bars:    st.bars,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}

	if err := server.warmup(ctx); err != nil {
		logger.Fatal("warmup", zap.Error(err))
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	httpServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: server.routes(reg)}
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Server.MetricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	httpServer.Shutdown(shutdownCtx)
	shutdownCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func loadFactors(path string) ([]factorset.Factor, error) {
	cfg := factorset.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = factorset.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	return factorset.Load(cfg)
}

// stores holds the optional persistence layer.
type stores struct {
	bars        storage.BarStore
	factors     storage.FactorStore
	definitions storage.FactorDefinitionStore
}

// openStores connects the configured databases and applies migrations.
// Missing DSNs leave the matching stores nil.
func openStores(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*stores, func(), error) {
	st := &stores{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		st.bars = observability.InstrumentBarStore(chstore.NewBarStore(conn), metrics, "clickhouse")
		st.factors = observability.InstrumentFactorStore(chstore.NewFactorStore(conn), metrics, "clickhouse")
	}

	if cfg.Postgres.DSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN,
			pgstore.WithMaxConns(cfg.Postgres.MaxConns), pgstore.WithApplicationName("factor-lab-server"))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		st.definitions = pgstore.NewFactorDefinitionStore(pool)
	}

	return st, cleanup, nil
}

// warmup fills series windows from stored bars, so the first live bar is
// evaluated over a full window.
func (s *Server) warmup(ctx context.Context) error {
	if s.bars == nil {
		return nil
	}
	n := s.engine.WindowSize()
	for _, symbol := range s.cfg.Feed.Symbols {
		key := domain.BarKey{Symbol: symbol, Interval: s.cfg.Feed.Interval}
		bars, err := s.bars.GetBySeries(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s: %w", symbol, err)
		}
		if len(bars) > n {
			bars = bars[len(bars)-n:]
		}
		if err := s.engine.Warmup(bars); err != nil {
			return fmt.Errorf("warmup %s: %w", symbol, err)
		}
		s.logger.Info("series warmed up", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	}
	return nil
}

// Run consumes the feed until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	feedCfg := feed.DefaultConfig()
	feedCfg.PingInterval = s.cfg.Feed.PingInterval
	feedCfg.ReconnectDelay = s.cfg.Feed.ReconnectDelay
	feedCfg.MaxReconnectDelay = s.cfg.Feed.MaxReconnect

	client, err := feed.Dial(ctx, s.cfg.Feed.URL,
		feed.Subscription{Symbols: s.cfg.Feed.Symbols, Interval: s.cfg.Feed.Interval},
		&feedCfg,
		feed.WithLogger(s.logger.Named("feed")),
		feed.WithMetrics(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bar, ok := <-client.Bars():
			if !ok {
				return errors.New("feed closed")
			}
			s.handleBar(ctx, bar)
		}
	}
}

// handleBar persists and evaluates one bar. Failures are logged and counted;
// the service keeps consuming.
func (s *Server) handleBar(ctx context.Context, bar *domain.Bar) {
	if s.bars != nil {
		if err := s.bars.InsertBulk(ctx, []*domain.Bar{bar}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			s.logger.Warn("persist bar failed", zap.String("symbol", bar.Symbol), zap.Error(err))
		}
	}

	_, err := s.engine.OnBar(ctx, bar)

	s.mu.Lock()
	s.barsHandled++
	s.lastBarAt = time.Now()
	if err != nil {
		s.barErrors++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("bar evaluation failed",
			zap.String("symbol", bar.Symbol),
			zap.Int64("ts", bar.TimestampMs),
			zap.Error(err))
	}
}

func (s *Server) routes(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler(g))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/factors", s.handleFactors)
	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string          `json:"status"`
	Uptime      string          `json:"uptime"`
	FactorSetID string          `json:"factor_set_id"`
	WindowSize  int             `json:"window_size"`
	BarsHandled int64           `json:"bars_handled"`
	BarErrors   int64           `json:"bar_errors"`
	LastBarAt   time.Time       `json:"last_bar_at,omitempty"`
	Series      []domain.BarKey `json:"series"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	series := s.engine.Series()
	sort.Slice(series, func(i, j int) bool {
		if series[i].Symbol != series[j].Symbol {
			return series[i].Symbol < series[j].Symbol
		}
		return series[i].Interval < series[j].Interval
	})

	s.mu.Lock()
	resp := StatusResponse{
		Status:      "running",
		Uptime:      time.Since(s.started).String(),
		FactorSetID: s.setID,
		WindowSize:  s.engine.WindowSize(),
		BarsHandled: s.barsHandled,
		BarErrors:   s.barErrors,
		LastBarAt:   s.lastBarAt,
		Series:      series,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// FactorsResponse is the JSON response for /factors endpoint.
type FactorsResponse struct {
	Symbol      string              `json:"symbol"`
	Interval    string              `json:"interval"`
	TimestampMs int64               `json:"ts"`
	Ready       bool                `json:"ready"`
	Values      map[string]*float64 `json:"values"` // null when undefined
}

// handleFactors returns the newest factor values of one series.
func (s *Server) handleFactors(w http.ResponseWriter, r *http.Request) {
	key := domain.BarKey{
		Symbol:   r.URL.Query().Get("symbol"),
		Interval: r.URL.Query().Get("interval"),
	}
	if key.Interval == "" {
		key.Interval = s.cfg.Feed.Interval
	}
	if key.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	snap := s.engine.Last(key)
	if snap == nil {
		http.Error(w, "unknown series", http.StatusNotFound)
		return
	}

	resp := FactorsResponse{
		Symbol:      key.Symbol,
		Interval:    key.Interval,
		TimestampMs: snap.TimestampMs,
		Ready:       snap.Ready,
		Values:      make(map[string]*float64, len(snap.Values)),
	}
	for name, v := range snap.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			resp.Values[name] = nil
			continue
		}
		resp.Values[name] = &v
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
