package reporting

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

func testArtifact() *domain.RunArtifact {
	return &domain.RunArtifact{
		Manifest: domain.RunManifest{
			RunID:  strings.Repeat("c", 64),
			GitSHA: "deadbeef",
		},
		Request: domain.SimulationRequest{
			Snapshot: domain.DataSnapshotRef{
				SnapshotID: "snap-1",
				Assets:     []string{"SOL", "ETH"},
			},
			Strategy: domain.StrategyRef{StrategyID: "strat-1"},
		},
		TradeEvents: []domain.TradeEvent{
			{
				Timestamp: 60, TimestampISO: "1970-01-01T00:01:00Z",
				Type: domain.EventEntry, Asset: "SOL",
				Price: 100, Quantity: 1, Value: 100, Fees: 0.3,
			},
			{
				Timestamp: 180, TimestampISO: "1970-01-01T00:03:00Z",
				Type: domain.EventExit, Asset: "SOL",
				Price: 110, Quantity: 1, Value: 110, Fees: 0.33,
				ExitReason: domain.ExitReasonFinal,
			},
		},
		Metrics: domain.RunMetrics{
			TotalTrades:   1,
			WinningTrades: 1,
			WinRate:       1,
			ProfitFactor:  math.Inf(1),
			TotalFees:     0.63,
		},
		Diagnostics: []domain.InstrumentDiagnostic{
			{Asset: "ETH", Stage: "simulate", Message: "no candles in range"},
		},
	}
}

func TestRenderMarkdown(t *testing.T) {
	report := Build(testArtifact(), time.Unix(1000, 0))
	md := RenderMarkdown(report)

	assert.Contains(t, md, "# Run Report")
	assert.Contains(t, md, strings.Repeat("c", 64))
	assert.Contains(t, md, "| Strategy | strat-1 |")
	assert.Contains(t, md, "| Assets | SOL, ETH |")
	assert.Contains(t, md, "| Git | deadbeef |")
	assert.Contains(t, md, "| Total Trades | 1 |")
	assert.Contains(t, md, "| Profit Factor | inf |", "infinities must render readably")
	assert.Contains(t, md, "1970-01-01T00:03:00Z")
	assert.Contains(t, md, "no candles in range")
}

func TestRenderMarkdown_Empty(t *testing.T) {
	artifact := testArtifact()
	artifact.TradeEvents = nil
	artifact.Diagnostics = nil

	md := RenderMarkdown(Build(artifact, time.Unix(1000, 0)))
	assert.Contains(t, md, "No trade events.")
	assert.Contains(t, md, "No diagnostics recorded.")
}

func TestRenderCSV(t *testing.T) {
	csv := RenderCSV(testArtifact().TradeEvents)

	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 3, "header plus one row per event")
	assert.Equal(t,
		"timestamp,timestamp_iso,type,asset,price,quantity,value,fees,partial_fill,failed,exit_reason",
		lines[0])
	assert.Contains(t, lines[1], "60,1970-01-01T00:01:00Z,entry,SOL,")
	assert.Contains(t, lines[2], "exit")
	assert.True(t, strings.HasSuffix(lines[2], ",final"))
}

func TestRenderCSV_NoEvents(t *testing.T) {
	csv := RenderCSV(nil)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	assert.Len(t, lines, 1, "header only")
}
