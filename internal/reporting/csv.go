package reporting

import (
	"fmt"
	"strings"

	"backtest-lab/internal/domain"
)

// RenderCSV renders trade events as CSV string.
func RenderCSV(events []domain.TradeEvent) string {
	var sb strings.Builder

	// Header
	sb.WriteString("timestamp,timestamp_iso,type,asset,price,quantity,value,fees,")
	sb.WriteString("partial_fill,failed,exit_reason\n")

	// Rows
	for _, e := range events {
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%.8f,%.8f,%.8f,%.8f,%t,%t,%s\n",
			e.Timestamp,
			e.TimestampISO,
			e.Type,
			e.Asset,
			e.Price,
			e.Quantity,
			e.Value,
			e.Fees,
			e.PartialFill,
			e.Failed,
			e.ExitReason,
		))
	}

	return sb.String()
}
