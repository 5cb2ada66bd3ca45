// Package main renders a stored run into human-readable reports: a
// markdown summary and a CSV of the trade events.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"backtest-lab/internal/artifactio"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/reporting"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run ID to report on (required)")
	dataDir := flag.String("data-dir", "data", "Directory holding artifact data files")
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
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

	artifact, err := artifactio.LoadRunArtifact(*dataDir, *runID)
	if err != nil {
		logger.Fatal("load run artifact", zap.Error(err))
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatal("create output dir", zap.Error(err))
	}

	report := reporting.Build(artifact, time.Now())

	mdPath := filepath.Join(*outputDir, "RUN_"+shortID(*runID)+".md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		logger.Fatal("write markdown report", zap.Error(err))
	}

	csvPath := filepath.Join(*outputDir, "trade_events_"+shortID(*runID)+".csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(artifact.TradeEvents)), 0o644); err != nil {
		logger.Fatal("write trade events csv", zap.Error(err))
	}

	fmt.Println("Report generated:")
	fmt.Printf("  - %s\n", mdPath)
	fmt.Printf("  - %s\n", csvPath)
}

// shortID keeps file names readable for 64-char run IDs.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
