// Package risk gates live execution during a run. Circuit breakers
// halt a strategy for the remainder of the run once a loss threshold
// is breached; anomaly detection flags execution-quality spikes
// without ever halting.
package risk

import (
	"backtest-lab/internal/domain"
)

// Breaker reason codes
const (
	ReasonMaxDrawdown       = "max_drawdown"
	ReasonMaxDailyLoss      = "max_daily_loss"
	ReasonConsecutiveLosses = "max_consecutive_losses"
	ReasonTradeThrottle     = "min_trade_interval"
)

const secondsPerDay = 86400

// BreakerResult is the outcome of one circuit breaker evaluation.
type BreakerResult struct {
	Triggered bool
	Reason    string
}

// CheckCircuitBreaker evaluates all breakers for an intended trade and
// updates the per-run state. Breakers are evaluated in priority order:
// drawdown, daily loss, consecutive losses, trade throttle. Once any
// breaker fires the state latches to halted for the rest of the run;
// there is no automatic un-halt.
//
// tradePnl is the realized PnL of the trade under evaluation,
// currentPnl and peakPnl the cumulative and peak cumulative PnL of the
// strategy, now the decision time in unix seconds. exposureDelta is
// the signed change in open notional: positive on entries, negative on
// exits, so TotalExposure tracks what is currently at risk.
func CheckCircuitBreaker(
	cfg domain.RiskConfig,
	state *domain.CircuitBreakerState,
	tradePnl, currentPnl, peakPnl float64,
	strategyID string,
	exposureDelta float64,
	now int64,
) BreakerResult {
	if state.Status == domain.RiskStatusHalted {
		return BreakerResult{Triggered: true, Reason: state.HaltReason}
	}

	// Roll the daily loss bucket.
	dayStart := now - now%secondsPerDay
	if dayStart != state.DayStart {
		state.DayStart = dayStart
		state.DailyLoss = 0
	}

	// Account the trade before evaluating thresholds: a losing trade
	// can itself be the one that trips a breaker.
	if tradePnl < 0 {
		state.ConsecutiveLosses++
		state.DailyLoss += -tradePnl
	} else if tradePnl > 0 {
		state.ConsecutiveLosses = 0
	}

	if peakPnl > 0 {
		state.CurrentDrawdown = (peakPnl - currentPnl) / peakPnl
	} else {
		state.CurrentDrawdown = 0
	}

	if r := evaluate(cfg, state, now); r.Triggered {
		state.Status = domain.RiskStatusHalted
		state.HaltReason = r.Reason
		return r
	}

	state.LastTradeTime = now
	// Exit prices move against entry prices, so the delta bookkeeping
	// can undershoot; exposure never goes below flat.
	state.TotalExposure += exposureDelta
	if state.TotalExposure < 0 {
		state.TotalExposure = 0
	}
	return BreakerResult{}
}

// evaluate applies the thresholds in priority order.
func evaluate(cfg domain.RiskConfig, state *domain.CircuitBreakerState, now int64) BreakerResult {
	if cfg.MaxDrawdown > 0 && state.CurrentDrawdown > cfg.MaxDrawdown {
		return BreakerResult{Triggered: true, Reason: ReasonMaxDrawdown}
	}
	if cfg.MaxDailyLoss > 0 && state.DailyLoss > cfg.MaxDailyLoss {
		return BreakerResult{Triggered: true, Reason: ReasonMaxDailyLoss}
	}
	if cfg.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return BreakerResult{Triggered: true, Reason: ReasonConsecutiveLosses}
	}
	if cfg.MinTradeIntervalSeconds > 0 && state.LastTradeTime > 0 &&
		now-state.LastTradeTime < cfg.MinTradeIntervalSeconds {
		return BreakerResult{Triggered: true, Reason: ReasonTradeThrottle}
	}
	return BreakerResult{}
}
