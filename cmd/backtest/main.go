// Package main runs one backtest experiment end to end: load the
// request, simulate, and publish the run's artifacts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backtest-lab/internal/artifactio"
	"backtest-lab/internal/candles"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/experiment"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/reporting"
	chstore "backtest-lab/internal/storage/clickhouse"
	"backtest-lab/internal/storage/memory"
	"backtest-lab/internal/storage/migrations"
	pgstore "backtest-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	requestPath := flag.String("request", "", "Path to simulation request JSON (required)")
	experimentID := flag.String("experiment-id", "", "Experiment ID (default: derived from current time)")
	dataDir := flag.String("data-dir", "data", "Directory for artifact data files")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (experiment/artifact catalog)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (candle history)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	candlesPath := flag.String("candles", "", "Candle CSV to load (required with --use-memory)")

	// Output
	outputJSON := flag.Bool("json", false, "Output run metrics as JSON")
	reportPath := flag.String("report", "", "Write a markdown run report to this path")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (optional)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	logger, err := logging.NewLogger(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *requestPath == "" {
		logger.Fatal("--request is required")
	}
	if *useMemory && *candlesPath == "" {
		logger.Fatal("--candles is required with --use-memory")
	}

	req, err := loadRequest(*requestPath)
	if err != nil {
		logger.Fatal("load request", zap.Error(err))
	}

	id := *experimentID
	if id == "" {
		id = fmt.Sprintf("exp-%d", time.Now().Unix())
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	}()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	ports, closeStores, err := buildPorts(ctx, *useMemory, *postgresDSN, *clickhouseDSN, *candlesPath, logger)
	if err != nil {
		logger.Fatal("setup storage", zap.Error(err))
	}
	defer closeStores()

	gitSHA, gitDirty := buildProvenance()

	pipeline := experiment.New(experiment.Options{
		Ports:    ports,
		Writer:   artifactio.NewWriter(*dataDir),
		Logger:   logger,
		GitSHA:   gitSHA,
		GitDirty: gitDirty,
	})

	logger.Info("running experiment",
		zap.String("experiment_id", id),
		zap.String("strategy_id", req.Strategy.StrategyID),
		zap.Strings("assets", req.Snapshot.Assets),
	)

	result, err := pipeline.Execute(ctx, experiment.Definition{
		ExperimentID: id,
		Request:      req,
	})
	if err != nil {
		logger.Fatal("experiment failed", zap.Error(err))
	}

	printResult(result, *outputJSON)

	if *reportPath != "" {
		if err := writeReport(*reportPath, result.Artifact); err != nil {
			logger.Fatal("write report", zap.Error(err))
		}
		logger.Info("report written", zap.String("path", *reportPath))
	}
}

// loadRequest reads and parses the simulation request file.
func loadRequest(path string) (*domain.SimulationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	var req domain.SimulationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request file: %w", err)
	}
	return &req, nil
}

// buildPorts wires the storage ports: in-memory stores seeded from a
// candle CSV, or Postgres + ClickHouse with migrations applied.
func buildPorts(ctx context.Context, useMemory bool, postgresDSN, clickhouseDSN, candlesPath string, logger *zap.Logger) (experiment.Ports, func(), error) {
	if useMemory {
		candleStore := memory.NewCandleStore()
		series, err := candles.LoadCSV(candlesPath)
		if err != nil {
			return experiment.Ports{}, nil, err
		}
		if err := candleStore.InsertBulk(ctx, series); err != nil {
			return experiment.Ports{}, nil, fmt.Errorf("seed candle store: %w", err)
		}
		logger.Info("loaded candles", zap.Int("count", len(series)))

		return experiment.Ports{
			Experiments: memory.NewExperimentStore(),
			Artifacts:   memory.NewArtifactStore(),
			Candles:     candleStore,
		}, func() {}, nil
	}

	if postgresDSN == "" {
		return experiment.Ports{}, nil, fmt.Errorf("--postgres-dsn is required when not using --use-memory")
	}
	if clickhouseDSN == "" {
		return experiment.Ports{}, nil, fmt.Errorf("--clickhouse-dsn is required when not using --use-memory")
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return experiment.Ports{}, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return experiment.Ports{}, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return experiment.Ports{}, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	closeStores := func() {
		pool.Close()
		if err := conn.Close(); err != nil {
			logger.Warn("close clickhouse", zap.Error(err))
		}
	}

	return experiment.Ports{
		Experiments: pgstore.NewExperimentStore(pool),
		Artifacts:   pgstore.NewArtifactStore(pool),
		Candles:     chstore.NewCandleStore(conn),
	}, closeStores, nil
}

// buildProvenance extracts the VCS revision baked into the binary.
func buildProvenance() (sha string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			sha = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return sha, dirty
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server", zap.Error(err))
	}
}

// printResult outputs the run summary.
func printResult(result *experiment.Result, asJSON bool) {
	m := result.Artifact.Metrics

	if asJSON {
		output, _ := json.MarshalIndent(map[string]any{
			"experiment_id": result.Experiment.ExperimentID,
			"run_id":        result.Experiment.RunID,
			"status":        result.Experiment.Status,
			"artifact_ids":  result.Experiment.ArtifactIDs,
			"total_trades":  m.TotalTrades,
			"failed_events": m.FailedEvents,
		}, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Println()
	fmt.Println("=== Run Result ===")
	fmt.Printf("Experiment:      %s\n", result.Experiment.ExperimentID)
	fmt.Printf("Run ID:          %s\n", result.Experiment.RunID)
	fmt.Printf("Artifacts:       %d\n", len(result.Experiment.ArtifactIDs))
	fmt.Println()
	fmt.Printf("Total Trades:    %d (%d wins / %d losses)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Printf("Failed Events:   %d\n", m.FailedEvents)
	fmt.Printf("Total Return:    %.4f\n", m.TotalReturn)
	fmt.Printf("Max Drawdown:    %.4f\n", m.MaxDrawdown)
	fmt.Printf("Sharpe:          %.4f\n", m.Sharpe)
	fmt.Printf("Total Fees:      %.6f\n", m.TotalFees)
}

// writeReport renders the artifact as markdown and writes it.
func writeReport(path string, artifact *domain.RunArtifact) error {
	md := reporting.RenderMarkdown(reporting.Build(artifact, time.Now()))
	return os.WriteFile(path, []byte(md), 0o644)
}
