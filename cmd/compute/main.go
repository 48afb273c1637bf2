// Package main computes a factor set in batch.
//
// File mode (-input bars.parquet | bars.csv) evaluates factors in memory and
// writes a wide CSV. Database mode (no -input) reads bars from ClickHouse,
// writes factor values back to ClickHouse and, with -incremental, resumes
// each series from the progress kept in PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/factorset"
	"factor-lab/internal/idhash"
	"factor-lab/internal/observability"
	"factor-lab/internal/pipeline"
	"factor-lab/internal/reporting"
	"factor-lab/internal/storage"
	chstore "factor-lab/internal/storage/clickhouse"
	"factor-lab/internal/storage/migrations"
	pgstore "factor-lab/internal/storage/postgres"
	"factor-lab/internal/table"
	"factor-lab/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	factorsFile := flag.String("factors", "", "Factor set YAML (overrides config)")
	input := flag.String("input", "", "Bars file (.parquet or .csv); empty reads ClickHouse")
	symbol := flag.String("symbol", "", "Symbol of a CSV input")
	interval := flag.String("interval", "1d", "Interval of a CSV input")
	output := flag.String("output", "", "Factor CSV output path, '-' for stdout")
	report := flag.String("report", "", "Markdown coverage report path")
	importBars := flag.Bool("import", false, "Store a Parquet input in ClickHouse before computing")
	incremental := flag.Bool("incremental", false, "Resume series from progress kept in PostgreSQL")
	series := flag.String("series", "", "Comma-separated symbol[/interval] list; empty computes all stored series")
	workers := flag.Int("workers", 0, "Concurrent formula evaluations (overrides config)")
	verify := flag.Bool("verify", false, "Recompute stored values and report divergences")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *factorsFile != "" {
		cfg.Factors.File = *factorsFile
	}
	if *workers != 0 {
		cfg.Factors.Workers = *workers
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling", zap.String("signal", sig.String()))
		cancel()
	}()

	factorCfg := factorset.DefaultConfig()
	if cfg.Factors.File != "" {
		if factorCfg, err = factorset.LoadConfig(cfg.Factors.File); err != nil {
			logger.Fatal("load factor set", zap.Error(err))
		}
	}
	factors, err := factorset.Load(factorCfg)
	if err != nil {
		logger.Fatal("compile factor set", zap.Error(err))
	}
	setID := idhash.ComputeFactorSetID(factorset.Definitions(factors, 0))
	logger.Info("factor set loaded", zap.Int("factors", len(factors)), zap.String("set_id", idhash.ShortID(setID)))

	var frames []*reporting.Frame
	if *input != "" && !*importBars {
		frames, err = computeFile(ctx, *input, domain.BarKey{Symbol: *symbol, Interval: *interval}, factors, cfg.Factors.Workers)
	} else {
		frames, err = computeDatabase(ctx, cfg, dbOptions{
			input:       *input,
			incremental: *incremental,
			series:      parseSeries(*series),
			export:      *output != "" || *report != "",
			verify:      *verify,
		}, factors, logger)
	}
	if err != nil {
		logger.Fatal("compute failed", zap.Error(err))
	}

	if *output != "" {
		if err := writeOutput(*output, frames); err != nil {
			logger.Fatal("write output", zap.Error(err))
		}
		logger.Info("factors written", zap.String("path", *output), zap.Int("series", len(frames)))
	}
	if *report != "" {
		md := reporting.RenderMarkdown(time.Now().UTC(), frames, reporting.Summarize(frames...))
		if err := os.WriteFile(*report, []byte(md), 0644); err != nil {
			logger.Fatal("write report", zap.Error(err))
		}
		logger.Info("report written", zap.String("path", *report))
	}
}

// computeFile evaluates factors over a bar file without touching any database.
func computeFile(ctx context.Context, path string, key domain.BarKey, factors []factorset.Factor, workers int) ([]*reporting.Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		bars, err := table.ReadBarsParquet(path)
		if err != nil {
			return nil, err
		}
		return computeBarFrames(ctx, bars, factors, workers)
	case ".csv":
		if key.Symbol == "" {
			key.Symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		tbl, err := table.ReadCSVFile(path)
		if err != nil {
			return nil, err
		}
		if err := withVWAP(tbl); err != nil {
			return nil, err
		}
		f, err := computeFrame(ctx, key, tbl, factors, workers)
		if err != nil {
			return nil, err
		}
		return []*reporting.Frame{f}, nil
	default:
		return nil, fmt.Errorf("unsupported input %s: want .parquet or .csv", path)
	}
}

type dbOptions struct {
	input       string // Parquet file to import first, optional
	incremental bool
	series      []domain.BarKey
	export      bool // read the stored values back as frames
	verify      bool
}

// computeDatabase runs the pipeline against ClickHouse.
func computeDatabase(ctx context.Context, cfg *config.Config, opts dbOptions, factors []factorset.Factor, logger *zap.Logger) ([]*reporting.Frame, error) {
	if cfg.ClickHouse.DSN == "" {
		return nil, fmt.Errorf("clickhouse.dsn is required without -input")
	}
	metrics := observability.NewMetrics("", prometheus.NewRegistry())

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	defer conn.Close()

	var bars storage.BarStore = observability.InstrumentBarStore(chstore.NewBarStore(conn), metrics, "clickhouse")
	var values storage.FactorStore = observability.InstrumentFactorStore(chstore.NewFactorStore(conn), metrics, "clickhouse")

	if opts.input != "" {
		if strings.ToLower(filepath.Ext(opts.input)) != ".parquet" {
			return nil, fmt.Errorf("-import needs a .parquet input")
		}
		loaded, err := table.ReadBarsParquet(opts.input)
		if err != nil {
			return nil, err
		}
		if err := bars.InsertBulk(ctx, loaded); err != nil {
			return nil, fmt.Errorf("import bars: %w", err)
		}
		logger.Info("bars imported", zap.String("path", opts.input), zap.Int("bars", len(loaded)))
	}

	runnerOpts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Factors.Workers),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(metrics),
	}

	if cfg.Postgres.DSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN,
			pgstore.WithMaxConns(cfg.Postgres.MaxConns), pgstore.WithApplicationName("factor-lab-compute"))
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}

		n, err := pipeline.RegisterDefinitions(ctx, pgstore.NewFactorDefinitionStore(pool), factorset.Definitions(factors, time.Now().UnixMilli()))
		if err != nil {
			return nil, err
		}
		logger.Info("factor definitions registered", zap.Int("inserted", n))

		if opts.incremental {
			runnerOpts = append(runnerOpts, pipeline.WithProgress(pgstore.NewProgressStore(pool)))
		}
	} else if opts.incremental {
		return nil, fmt.Errorf("-incremental needs postgres.dsn")
	}

	runner := pipeline.NewRunner(bars, values, factors, runnerOpts...)
	summary, err := runner.Run(ctx, opts.series)
	if err != nil {
		return nil, err
	}

	if opts.verify {
		report, err := verification.NewVerifier(bars, values, factors, cfg.Factors.Workers).VerifyAll(ctx, opts.series)
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		for _, res := range report.Results {
			for _, d := range res.Divergences {
				logger.Warn("factor divergence",
					zap.String("symbol", res.Key.Symbol),
					zap.String("interval", res.Key.Interval),
					zap.String("factor", d.Factor),
					zap.Int64("ts", d.TimestampMs),
					zap.Bool("missing", d.Missing))
			}
		}
		logger.Info("verification complete",
			zap.Int("series", report.TotalSeries),
			zap.Int("matched", report.MatchedSeries),
			zap.Int("divergent", report.DivergentSeries))
		if report.DivergentSeries > 0 {
			return nil, fmt.Errorf("verification failed: %d of %d series diverge", report.DivergentSeries, report.TotalSeries)
		}
	}
	if !opts.export {
		return nil, nil
	}

	frames := make([]*reporting.Frame, 0, len(summary.Series))
	for _, res := range summary.Series {
		points, err := values.GetByTimeRange(ctx, res.Key, 0, math.MaxInt64)
		if err != nil {
			return nil, fmt.Errorf("export %s/%s: %w", res.Key.Symbol, res.Key.Interval, err)
		}
		if len(points) == 0 {
			continue
		}
		frames = append(frames, reporting.FrameFromPoints(res.Key, points))
	}
	return frames, nil
}

// parseSeries parses "rb2405/1m,ag2406" into keys; a missing interval means 1d.
func parseSeries(s string) []domain.BarKey {
	var keys []domain.BarKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, interval, ok := strings.Cut(part, "/")
		if !ok || interval == "" {
			interval = "1d"
		}
		keys = append(keys, domain.BarKey{Symbol: symbol, Interval: interval})
	}
	return keys
}

func writeOutput(path string, frames []*reporting.Frame) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return reporting.WriteCSV(w, frames...)
}
