// Package rules implements the entry/exit rule engine: entry timing,
// ordered profit targets, stop-loss variants and re-entry gating. The
// engine is pure over market data and position state; the simulation
// orchestrator owns fills and applies state transitions only after a
// fill succeeds.
package rules

import (
	"errors"
	"fmt"

	"backtest-lab/internal/domain"
)

// ErrInvalidStrategy wraps strategy config violations detected at
// engine construction.
var ErrInvalidStrategy = errors.New("invalid strategy config")

// ActionKind discriminates engine actions.
type ActionKind string

// Action kind constants
const (
	ActionExit        ActionKind = "exit"         // full exit of the remaining position
	ActionPartialExit ActionKind = "partial_exit" // one profit target slice
)

// Action is one exit intent produced while evaluating a candle.
// Fraction is expressed against the original position size. StopPrice
// is set for price-based stops and later feeds re-entry gating.
type Action struct {
	Kind        ActionKind
	Reason      string
	Price       float64
	Fraction    float64
	TargetIndex int
	StopPrice   float64
}

// SignalFunc answers an indicator stop's exit question for one closed
// candle. The engine treats the signal as an opaque oracle; a nil
// function means the signal never fires.
type SignalFunc func(signal string, c domain.Candle) bool

// Engine evaluates entry/exit rules for one strategy configuration.
// Safe for concurrent use across instruments: it holds no per-position
// state.
type Engine struct {
	cfg    domain.StrategyConfig
	signal SignalFunc
}

// NewEngine validates the strategy config and builds an engine.
func NewEngine(cfg domain.StrategyConfig, signal SignalFunc) (*Engine, error) {
	if v := cfg.Violations(); len(v) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStrategy, v[0])
	}
	return &Engine{cfg: cfg, signal: signal}, nil
}

// Config returns the engine's strategy configuration.
func (e *Engine) Config() domain.StrategyConfig { return e.cfg }

// NewPosition returns a flat position sized for this strategy.
func (e *Engine) NewPosition() *PositionState {
	return NewPositionState(len(e.cfg.ProfitTargets))
}

// EntryFill resolves the strategy's entry timing for a base signal
// timestamp.
func (e *Engine) EntryFill(baseTime, intervalSeconds int64) EntryFill {
	return ResolveEntryFill(e.cfg.EntryTiming, baseTime, e.cfg.EntryLagSeconds, intervalSeconds)
}

// Evaluate inspects one candle against an open position and returns
// the exit actions it implies, in execution order. Stops are checked
// before profit targets: when both could fire inside the same bar the
// engine assumes the adverse path. Evaluate never mutates the
// position; callers apply fills through the PositionState methods.
func (e *Engine) Evaluate(pos *PositionState, c domain.Candle, index int) []Action {
	if pos == nil || !pos.Open {
		return nil
	}

	if a, ok := e.checkStops(pos, c, index); ok {
		return []Action{a}
	}
	return e.checkTargets(pos, c)
}

// checkStops evaluates the active stop and any stacked stops in listed
// order; the first trigger wins.
func (e *Engine) checkStops(pos *PositionState, c domain.Candle, index int) (Action, bool) {
	stops := make([]domain.StopLossConfig, 0, 1+len(e.cfg.Stacked))
	stops = append(stops, e.cfg.StopLoss)
	stops = append(stops, e.cfg.Stacked...)

	for _, s := range stops {
		if a, ok := e.checkStop(s, pos, c, index); ok {
			return a, true
		}
	}
	return Action{}, false
}

func (e *Engine) checkStop(s domain.StopLossConfig, pos *PositionState, c domain.Candle, index int) (Action, bool) {
	switch s.Type {
	case domain.StopLossFixed:
		stop := pos.EntryPrice * (1 - s.Percent)
		if c.Low <= stop {
			return Action{
				Kind:      ActionExit,
				Reason:    domain.ExitReasonStopLoss,
				Price:     stop,
				Fraction:  pos.Remaining,
				StopPrice: stop,
			}, true
		}

	case domain.StopLossTrailing:
		// Stop references the peak before this candle; ObserveCandle
		// folds the current high in afterwards.
		stop := pos.PeakPrice * (1 - s.Percent)
		if c.Low <= stop {
			return Action{
				Kind:      ActionExit,
				Reason:    domain.ExitReasonStopLoss,
				Price:     stop,
				Fraction:  pos.Remaining,
				StopPrice: stop,
			}, true
		}

	case domain.StopLossTime:
		if index-pos.EntryIndex >= s.Candles {
			return Action{
				Kind:     ActionExit,
				Reason:   domain.ExitReasonTimeStop,
				Price:    c.Close,
				Fraction: pos.Remaining,
			}, true
		}

	case domain.StopLossIndicator:
		if e.signal != nil && e.signal(s.Signal, c) {
			return Action{
				Kind:     ActionExit,
				Reason:   domain.ExitReasonIndicator,
				Price:    c.Close,
				Fraction: pos.Remaining,
			}, true
		}
	}
	return Action{}, false
}

// checkTargets fires unfired profit targets whose level the candle's
// high reached, in ascending order. Each target fires at most once per
// position; a target that exhausts the remaining position becomes a
// full exit.
func (e *Engine) checkTargets(pos *PositionState, c domain.Candle) []Action {
	var actions []Action
	remaining := pos.Remaining

	for i, t := range e.cfg.ProfitTargets {
		if pos.FiredTargets[i] || remaining <= 0 {
			continue
		}
		level := pos.EntryPrice * t.TargetMultiple
		if c.High < level {
			// Targets ascend; later ones cannot fire either.
			break
		}

		fraction := t.PercentOfPosition
		if fraction > remaining {
			fraction = remaining
		}
		remaining -= fraction

		kind := ActionPartialExit
		if remaining <= 0 {
			kind = ActionExit
		}
		actions = append(actions, Action{
			Kind:        kind,
			Reason:      domain.ExitReasonProfitTarget,
			Price:       level,
			Fraction:    fraction,
			TargetIndex: i,
		})
	}
	return actions
}

// FinalExit forces the remaining position flat at the last candle's
// close. Used at the end of the snapshot range.
func (e *Engine) FinalExit(pos *PositionState, c domain.Candle) (Action, bool) {
	if pos == nil || !pos.Open {
		return Action{}, false
	}
	return Action{
		Kind:     ActionExit,
		Reason:   domain.ExitReasonFinal,
		Price:    c.Close,
		Fraction: pos.Remaining,
	}, true
}
