package rules

import "backtest-lab/internal/domain"

// PositionState tracks one instrument's position through a simulation.
// It is instrument-scoped and never shared across concurrent
// simulations. The rule engine reads it; only the orchestrator applies
// state changes, and only after a fill actually succeeds.
type PositionState struct {
	Open       bool
	EntryPrice float64
	EntryTime  int64
	EntryIndex int
	Remaining  float64 // fraction of the original position still open
	PeakPrice  float64 // running intrabar peak since entry

	FiredTargets []bool // parallel to the config's profit targets

	// Set on a stop-triggered exit; drives re-entry eligibility.
	ExitedByStop  bool
	LastExitIndex int
	LastStopPrice float64

	Reentries int
}

// NewPositionState returns a flat position sized for the strategy's
// profit target list.
func NewPositionState(targetCount int) *PositionState {
	return &PositionState{
		FiredTargets:  make([]bool, targetCount),
		LastExitIndex: -1,
	}
}

// ObserveCandle folds a candle's intrabar peak into the trailing
// reference. Market observation, independent of fill outcomes; call it
// after evaluating the candle so a new high never tightens the
// trailing stop within its own bar.
func (p *PositionState) ObserveCandle(c domain.Candle) {
	if p.Open && c.High > p.PeakPrice {
		p.PeakPrice = c.High
	}
}

// ApplyEntry opens the position after a successful entry fill.
func (p *PositionState) ApplyEntry(price float64, t int64, index int, fraction float64) {
	p.Open = true
	p.EntryPrice = price
	p.EntryTime = t
	p.EntryIndex = index
	p.Remaining = fraction
	p.PeakPrice = price
	for i := range p.FiredTargets {
		p.FiredTargets[i] = false
	}
	p.ExitedByStop = false
}

// ApplyTargetFill banks a profit target slice after a successful fill.
// The target is marked fired even on a partial fill: each target fires
// at most once.
func (p *PositionState) ApplyTargetFill(targetIndex int, filled float64) {
	p.FiredTargets[targetIndex] = true
	p.Remaining -= filled
	if p.Remaining <= 0 {
		p.Remaining = 0
		p.Open = false
	}
}

// ApplyExit flattens the position after a successful full exit.
func (p *PositionState) ApplyExit(index int, stopTriggered bool, stopPrice float64) {
	p.Open = false
	p.Remaining = 0
	p.ExitedByStop = stopTriggered
	p.LastExitIndex = index
	p.LastStopPrice = stopPrice
}

// ApplyReentry reopens after a permitted re-entry fill.
func (p *PositionState) ApplyReentry(price float64, t int64, index int, fraction float64) {
	p.ApplyEntry(price, t, index, fraction)
	p.Reentries++
}
