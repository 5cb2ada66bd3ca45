// Package metrics reduces a run's trade stream into an equity curve
// and summary statistics. All functions are pure: same events in, same
// numbers out, and boundary cases produce zeros rather than NaNs.
package metrics

import (
	"math"
	"sort"
	"time"

	"backtest-lab/internal/domain"
)

// tailPercentile is the per-trade PnL percentile reported as tail loss.
const tailPercentile = 0.05

// CalculatePnLSeries folds trade events into an equity curve. Events
// are processed in ascending time order; asOfISO, when set, truncates
// the curve to events at or before that instant (RFC 3339). Entries
// move fees out of equity and build cost basis; exits realize PnL
// against the average basis of the asset. Failed events contribute a
// point but no equity change.
func CalculatePnLSeries(events []domain.TradeEvent, startingEquity float64, asOfISO string) []domain.PnLPoint {
	var asOf int64 = math.MaxInt64
	if asOfISO != "" {
		if t, err := time.Parse(time.RFC3339, asOfISO); err == nil {
			asOf = t.Unix()
		}
	}

	ordered := make([]domain.TradeEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	type basis struct {
		qty      float64
		avgPrice float64
	}
	positions := make(map[string]*basis)
	openCount := func() int {
		n := 0
		for _, b := range positions {
			if b.qty > 1e-12 {
				n++
			}
		}
		return n
	}

	equity := startingEquity
	series := make([]domain.PnLPoint, 0, len(ordered))

	for _, ev := range ordered {
		if ev.Timestamp > asOf {
			break
		}

		if !ev.Failed {
			switch ev.Type {
			case domain.EventEntry, domain.EventReentry:
				b := positions[ev.Asset]
				if b == nil {
					b = &basis{}
					positions[ev.Asset] = b
				}
				total := b.qty + ev.Quantity
				if total > 0 {
					b.avgPrice = (b.avgPrice*b.qty + ev.Price*ev.Quantity) / total
				}
				b.qty = total
				equity -= ev.Fees

			case domain.EventExit:
				if b := positions[ev.Asset]; b != nil {
					equity += (ev.Price-b.avgPrice)*ev.Quantity - ev.Fees
					b.qty -= ev.Quantity
					if b.qty < 1e-12 {
						b.qty = 0
					}
				}
			}
		}

		series = append(series, domain.PnLPoint{
			Timestamp:     ev.Timestamp,
			Equity:        equity,
			CumulativePnL: equity - startingEquity,
			OpenPositions: openCount(),
		})
	}
	return series
}

// CalculateMetrics reduces the trade stream and its equity curve into
// run statistics. Defined-everywhere boundary behavior: zero trades
// yield zero rates, not NaN; profit factor is +Inf only when wins
// exist without losses; zero-variance return series yield zero
// Sharpe/Sortino.
func CalculateMetrics(events []domain.TradeEvent, series []domain.PnLPoint) domain.RunMetrics {
	var m domain.RunMetrics

	tradePnls := perTradePnL(events)
	var grossWins, grossLosses float64
	for _, pnl := range tradePnls {
		m.TotalTrades++
		if pnl > 0 {
			m.WinningTrades++
			grossWins += pnl
		} else if pnl < 0 {
			m.LosingTrades++
			grossLosses += -pnl
		}
	}
	for _, ev := range events {
		if ev.Failed {
			m.FailedEvents++
		}
		m.TotalFees += ev.Fees
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	switch {
	case grossLosses > 0:
		m.ProfitFactor = grossWins / grossLosses
	case grossWins > 0:
		m.ProfitFactor = math.Inf(1)
	}
	if grossWins > 0 {
		m.FeeSensitivity = m.TotalFees / grossWins
	}

	if len(series) > 0 {
		starting := series[0].Equity - series[0].CumulativePnL
		if starting > 0 {
			m.TotalReturn = series[len(series)-1].Equity/starting - 1
		}
		m.MaxDrawdown = maxDrawdown(series)

		returns := periodReturns(series)
		m.Sharpe = sharpe(returns)
		m.Sortino = sortino(returns)
	}

	m.TailLoss = percentile(tradePnls, tailPercentile)
	return m
}

// perTradePnL reconstructs realized PnL per completed exit, replaying
// the same basis accounting the series uses.
func perTradePnL(events []domain.TradeEvent) []float64 {
	ordered := make([]domain.TradeEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	type basis struct {
		qty      float64
		avgPrice float64
	}
	positions := make(map[string]*basis)
	var pnls []float64

	for _, ev := range ordered {
		if ev.Failed {
			continue
		}
		switch ev.Type {
		case domain.EventEntry, domain.EventReentry:
			b := positions[ev.Asset]
			if b == nil {
				b = &basis{}
				positions[ev.Asset] = b
			}
			total := b.qty + ev.Quantity
			if total > 0 {
				b.avgPrice = (b.avgPrice*b.qty + ev.Price*ev.Quantity) / total
			}
			b.qty = total

		case domain.EventExit:
			if b := positions[ev.Asset]; b != nil {
				pnls = append(pnls, (ev.Price-b.avgPrice)*ev.Quantity-ev.Fees)
				b.qty -= ev.Quantity
			}
		}
	}
	return pnls
}

func maxDrawdown(series []domain.PnLPoint) float64 {
	var worst float64
	peak := series[0].Equity
	for _, p := range series {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func periodReturns(series []domain.PnLPoint) []float64 {
	if len(series) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1].Equity
		if prev > 0 {
			returns = append(returns, series[i].Equity/prev-1)
		}
	}
	return returns
}

func sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	sd := popStddev(returns, mean)
	if sd == 0 {
		return 0
	}
	return mean / sd
}

func sortino(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	var downSq float64
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
		}
	}
	sd := math.Sqrt(downSq / float64(len(returns)))
	if sd == 0 {
		return 0
	}
	return mean / sd
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func popStddev(xs []float64, mean float64) float64 {
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// percentile returns the p-quantile of xs by nearest-rank, 0 when xs
// is empty.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
