package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Run Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.UTC().Format(time.RFC3339)))

	// Provenance
	sb.WriteString("## Provenance\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Run ID | %s |\n", r.RunID))
	sb.WriteString(fmt.Sprintf("| Snapshot | %s |\n", r.SnapshotID))
	sb.WriteString(fmt.Sprintf("| Strategy | %s |\n", r.StrategyID))
	sb.WriteString(fmt.Sprintf("| Assets | %s |\n", strings.Join(r.Assets, ", ")))
	if r.GitSHA != "" {
		dirty := ""
		if r.GitDirty {
			dirty = " (dirty)"
		}
		sb.WriteString(fmt.Sprintf("| Git | %s%s |\n", r.GitSHA, dirty))
	}
	sb.WriteString("\n")

	// Metrics
	m := r.Metrics
	sb.WriteString("## Metrics\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", m.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Winning / Losing | %d / %d |\n", m.WinningTrades, m.LosingTrades))
	sb.WriteString(fmt.Sprintf("| Failed Events | %d |\n", m.FailedEvents))
	sb.WriteString(fmt.Sprintf("| Total Return | %s |\n", formatRatio(m.TotalReturn)))
	sb.WriteString(fmt.Sprintf("| Win Rate | %s |\n", formatRatio(m.WinRate)))
	sb.WriteString(fmt.Sprintf("| Profit Factor | %s |\n", formatRatio(m.ProfitFactor)))
	sb.WriteString(fmt.Sprintf("| Max Drawdown | %s |\n", formatRatio(m.MaxDrawdown)))
	sb.WriteString(fmt.Sprintf("| Sharpe | %s |\n", formatRatio(m.Sharpe)))
	sb.WriteString(fmt.Sprintf("| Sortino | %s |\n", formatRatio(m.Sortino)))
	sb.WriteString(fmt.Sprintf("| Tail Loss (P5) | %s |\n", formatRatio(m.TailLoss)))
	sb.WriteString(fmt.Sprintf("| Total Fees | %s |\n", formatRatio(m.TotalFees)))
	sb.WriteString(fmt.Sprintf("| Fee Sensitivity | %s |\n", formatRatio(m.FeeSensitivity)))
	sb.WriteString("\n")

	// Trade Events
	sb.WriteString("## Trade Events\n\n")
	if len(r.Events) > 0 {
		sb.WriteString("| Time | Type | Asset | Price | Quantity | Fees | Partial | Failed | Exit Reason |\n")
		sb.WriteString("|------|------|-------|-------|----------|------|---------|--------|-------------|\n")
		for _, e := range r.Events {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.6f | %.6f | %.6f | %t | %t | %s |\n",
				e.TimestampISO, e.Type, e.Asset,
				e.Price, e.Quantity, e.Fees,
				e.PartialFill, e.Failed, e.ExitReason))
		}
	} else {
		sb.WriteString("No trade events.\n")
	}
	sb.WriteString("\n")

	// Diagnostics
	sb.WriteString("## Diagnostics\n\n")
	if len(r.Diagnostics) > 0 {
		sb.WriteString("| Asset | Stage | Message | Anomalies |\n")
		sb.WriteString("|-------|-------|---------|----------|\n")
		for _, d := range r.Diagnostics {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				d.Asset, d.Stage, d.Message, strings.Join(d.Anomalies, ", ")))
		}
	} else {
		sb.WriteString("No diagnostics recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
