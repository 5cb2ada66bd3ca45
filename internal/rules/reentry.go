package rules

import "backtest-lab/internal/domain"

// CanReenter reports whether a position stopped out at exitIndex may
// re-enter at reentryIndex. The candles between the two, inclusive of
// the exit candle and exclusive of the re-entry candle, must all have
// held above the stop price: any low at or below it means the market
// kept trading through the stop and the re-entry is rejected. Exit and
// re-entry on the same candle is always permitted.
func CanReenter(candles []domain.Candle, exitIndex, reentryIndex int, stopPrice float64) bool {
	if reentryIndex < exitIndex {
		return false
	}
	for i := exitIndex; i < reentryIndex; i++ {
		if candles[i].Low <= stopPrice {
			return false
		}
	}
	return true
}

// ReentryAllowed applies the strategy's re-entry policy on top of the
// price eligibility scan. A stop price of zero (time or indicator
// stops) imposes no price constraint.
func (e *Engine) ReentryAllowed(pos *PositionState, candles []domain.Candle, reentryIndex int) bool {
	if !e.cfg.AllowReentry || pos.Open || !pos.ExitedByStop {
		return false
	}
	if e.cfg.MaxReentries > 0 && pos.Reentries >= e.cfg.MaxReentries {
		return false
	}
	if pos.LastStopPrice <= 0 {
		return true
	}
	return CanReenter(candles, pos.LastExitIndex, reentryIndex, pos.LastStopPrice)
}
