// Package main replays a stored run against the current candle store
// and engine code, and reports any divergence. A clean replay means the
// published artifacts are reproducible bit for bit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"backtest-lab/internal/artifactio"
	"backtest-lab/internal/candles"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/storage"
	chstore "backtest-lab/internal/storage/clickhouse"
	"backtest-lab/internal/storage/memory"
	"backtest-lab/internal/verification"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run ID to verify (required)")
	dataDir := flag.String("data-dir", "data", "Directory holding artifact data files")

	// Candle source
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (candle history)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory candle store")
	candlesPath := flag.String("candles", "", "Candle CSV to load (required with --use-memory)")

	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	logger, err := logging.NewLogger(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *runID == "" {
		logger.Fatal("--run-id is required")
	}
	if *useMemory && *candlesPath == "" {
		logger.Fatal("--candles is required with --use-memory")
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

	artifact, err := artifactio.LoadRunArtifact(*dataDir, *runID)
	if err != nil {
		logger.Fatal("load run artifact", zap.Error(err))
	}

	candleStore, closeStore, err := buildCandleStore(ctx, *useMemory, *clickhouseDSN, *candlesPath)
	if err != nil {
		logger.Fatal("setup candle store", zap.Error(err))
	}
	defer closeStore()

	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		CandleStore: candleStore,
	})

	logger.Info("replaying run", zap.String("run_id", *runID))

	result, err := verifier.VerifyRun(ctx, artifact)
	if err != nil {
		logger.Fatal("replay failed", zap.Error(err))
	}

	if result.Match {
		fmt.Printf("Run %s verified: replay matches stored artifacts.\n", result.RunID)
		return
	}

	fmt.Printf("Run %s DIVERGED: %d field(s) differ.\n\n", result.RunID, len(result.Divergences))
	for _, d := range result.Divergences {
		fmt.Printf("  %-30s stored=%v replayed=%v\n", d.Field, d.Expected, d.Actual)
	}
	os.Exit(1)
}

// buildCandleStore wires the candle source: a memory store seeded from
// a CSV, or the ClickHouse history.
func buildCandleStore(ctx context.Context, useMemory bool, clickhouseDSN, candlesPath string) (storage.CandleStore, func(), error) {
	if useMemory {
		store := memory.NewCandleStore()
		series, err := candles.LoadCSV(candlesPath)
		if err != nil {
			return nil, nil, err
		}
		if err := store.InsertBulk(ctx, series); err != nil {
			return nil, nil, fmt.Errorf("seed candle store: %w", err)
		}
		return store, func() {}, nil
	}

	if clickhouseDSN == "" {
		return nil, nil, fmt.Errorf("--clickhouse-dsn is required when not using --use-memory")
	}
	conn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return chstore.NewCandleStore(conn), func() { _ = conn.Close() }, nil
}
