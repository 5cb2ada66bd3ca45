// Package costs computes trading fees and borrow costs. Pure functions
// of trade value and calibration; slippage is priced into fills by the
// execution model and never double counted here.
package costs

import (
	"math"

	"backtest-lab/internal/domain"
)

// bpsDivisor converts basis points to a fraction.
const bpsDivisor = 10000.0

// ComputeFee returns the fee for one fill. Entries pay the taker rate,
// exits the maker rate. A strictly-positive configured rate never
// rounds to zero on a nonzero trade value: the fee is floored at one
// bps-equivalent of the value.
func ComputeFee(value float64, isEntry bool, cfg domain.CostConfig) float64 {
	rateBps := cfg.MakerFeeBps
	if isEntry {
		rateBps = cfg.TakerFeeBps
	}

	v := math.Abs(value)
	if rateBps <= 0 || v == 0 {
		return 0
	}

	fee := v * rateBps / bpsDivisor
	if floor := v * 1.0 / bpsDivisor; fee < floor {
		fee = floor
	}
	return fee
}

// ComputeBorrowCost returns the borrow accrual for holding a position
// of the given value over holdSeconds. Zero when no borrow rate is
// configured.
func ComputeBorrowCost(value float64, holdSeconds int64, cfg domain.CostConfig) float64 {
	if cfg.BorrowDailyBps <= 0 || holdSeconds <= 0 {
		return 0
	}
	days := float64(holdSeconds) / 86400.0
	return math.Abs(value) * cfg.BorrowDailyBps / bpsDivisor * days
}
