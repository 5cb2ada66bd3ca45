// Package verification replays stored runs and compares the replayed
// outputs against the published artifacts field by field. A published
// run that cannot be reproduced bit-for-bit from its manifest is a
// correctness incident, not a tolerance question; floats still compare
// with a small tolerance to absorb serialization round trips.
package verification

import (
	"fmt"
	"math"

	"backtest-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-9

// FieldDivergence records one mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string
	Expected any // stored value
	Actual   any // replayed value
}

// VerificationResult is the outcome of verifying one run.
type VerificationResult struct {
	RunID       string
	Match       bool
	Divergences []FieldDivergence
}

// CompareEvents compares stored and replayed trade event streams.
// Divergent fields are named positionally, e.g. "Events[3].Price".
func CompareEvents(stored, replayed []domain.TradeEvent) []FieldDivergence {
	var divs []FieldDivergence

	if len(stored) != len(replayed) {
		divs = append(divs, FieldDivergence{
			Field:    "Events.len",
			Expected: len(stored),
			Actual:   len(replayed),
		})
		return divs
	}

	for i := range stored {
		s, r := stored[i], replayed[i]
		prefix := eventField(i)

		divs = appendExact(divs, prefix+"Timestamp", s.Timestamp, r.Timestamp)
		divs = appendExact(divs, prefix+"Type", s.Type, r.Type)
		divs = appendExact(divs, prefix+"Asset", s.Asset, r.Asset)
		divs = appendFloat(divs, prefix+"Price", s.Price, r.Price)
		divs = appendFloat(divs, prefix+"Quantity", s.Quantity, r.Quantity)
		divs = appendFloat(divs, prefix+"Value", s.Value, r.Value)
		divs = appendFloat(divs, prefix+"Fees", s.Fees, r.Fees)
		divs = appendExact(divs, prefix+"PartialFill", s.PartialFill, r.PartialFill)
		divs = appendExact(divs, prefix+"Failed", s.Failed, r.Failed)
		divs = appendExact(divs, prefix+"ExitReason", s.ExitReason, r.ExitReason)
	}
	return divs
}

// CompareMetrics compares stored and replayed run metrics.
func CompareMetrics(stored, replayed domain.RunMetrics) []FieldDivergence {
	var divs []FieldDivergence

	divs = appendExact(divs, "Metrics.TotalTrades", stored.TotalTrades, replayed.TotalTrades)
	divs = appendExact(divs, "Metrics.WinningTrades", stored.WinningTrades, replayed.WinningTrades)
	divs = appendExact(divs, "Metrics.LosingTrades", stored.LosingTrades, replayed.LosingTrades)
	divs = appendExact(divs, "Metrics.FailedEvents", stored.FailedEvents, replayed.FailedEvents)
	divs = appendFloat(divs, "Metrics.TotalReturn", stored.TotalReturn, replayed.TotalReturn)
	divs = appendFloat(divs, "Metrics.WinRate", stored.WinRate, replayed.WinRate)
	divs = appendFloat(divs, "Metrics.ProfitFactor", stored.ProfitFactor, replayed.ProfitFactor)
	divs = appendFloat(divs, "Metrics.MaxDrawdown", stored.MaxDrawdown, replayed.MaxDrawdown)
	divs = appendFloat(divs, "Metrics.Sharpe", stored.Sharpe, replayed.Sharpe)
	divs = appendFloat(divs, "Metrics.Sortino", stored.Sortino, replayed.Sortino)
	divs = appendFloat(divs, "Metrics.TailLoss", stored.TailLoss, replayed.TailLoss)
	divs = appendFloat(divs, "Metrics.TotalFees", stored.TotalFees, replayed.TotalFees)
	divs = appendFloat(divs, "Metrics.FeeSensitivity", stored.FeeSensitivity, replayed.FeeSensitivity)
	return divs
}

func eventField(i int) string {
	return fmt.Sprintf("Events[%d].", i)
}

func appendExact[T comparable](divs []FieldDivergence, field string, expected, actual T) []FieldDivergence {
	if expected != actual {
		divs = append(divs, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}
	return divs
}

func appendFloat(divs []FieldDivergence, field string, expected, actual float64) []FieldDivergence {
	if !floatEquals(expected, actual) {
		divs = append(divs, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}
	return divs
}

// floatEquals compares floats within FloatTolerance. Infinities of the
// same sign compare equal.
func floatEquals(a, b float64) bool {
	if math.IsInf(a, 1) && math.IsInf(b, 1) {
		return true
	}
	if math.IsInf(a, -1) && math.IsInf(b, -1) {
		return true
	}
	return math.Abs(a-b) <= FloatTolerance
}
