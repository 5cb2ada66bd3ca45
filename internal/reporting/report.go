// Package reporting renders completed run artifacts into human-readable
// summaries. Rendering is pure: it reads the artifact, derives nothing
// new, and never touches storage.
package reporting

import (
	"math"
	"strconv"
	"time"

	"backtest-lab/internal/domain"
)

// Report is the render-ready view of one run artifact.
type Report struct {
	GeneratedAt time.Time

	RunID    string
	GitSHA   string
	GitDirty bool

	SnapshotID string
	Assets     []string
	StrategyID string

	Metrics     domain.RunMetrics
	Events      []domain.TradeEvent
	Diagnostics []domain.InstrumentDiagnostic
}

// Build assembles a Report from a run artifact.
func Build(artifact *domain.RunArtifact, generatedAt time.Time) *Report {
	return &Report{
		GeneratedAt: generatedAt,
		RunID:       artifact.Manifest.RunID,
		GitSHA:      artifact.Manifest.GitSHA,
		GitDirty:    artifact.Manifest.GitDirty,
		SnapshotID:  artifact.Request.Snapshot.SnapshotID,
		Assets:      artifact.Request.Snapshot.Assets,
		StrategyID:  artifact.Request.Strategy.StrategyID,
		Metrics:     artifact.Metrics,
		Events:      artifact.TradeEvents,
		Diagnostics: artifact.Diagnostics,
	}
}

// formatRatio renders a float metric, spelling out infinities so they
// survive markdown and CSV output.
func formatRatio(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', 4, 64)
	}
}
