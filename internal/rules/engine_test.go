package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

func baseStrategy() domain.StrategyConfig {
	return domain.StrategyConfig{
		EntryTiming: domain.EntryNextCandleOpen,
		StopLoss:    domain.StopLossConfig{Type: domain.StopLossFixed, Percent: 0.1},
	}
}

func candle(low, high, close float64) domain.Candle {
	return domain.Candle{Asset: "SOL", Open: close, High: high, Low: low, Close: close}
}

func openPosition(t *testing.T, e *Engine, price float64) *PositionState {
	t.Helper()
	pos := e.NewPosition()
	pos.ApplyEntry(price, 1000, 0, 1)
	return pos
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := baseStrategy()
	cfg.StopLoss.Percent = 0

	_, err := NewEngine(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestEvaluate_FlatPositionNoActions(t *testing.T) {
	e, err := NewEngine(baseStrategy(), nil)
	require.NoError(t, err)

	assert.Nil(t, e.Evaluate(e.NewPosition(), candle(90, 110, 100), 1))
	assert.Nil(t, e.Evaluate(nil, candle(90, 110, 100), 1))
}

func TestEvaluate_FixedStop(t *testing.T) {
	e, err := NewEngine(baseStrategy(), nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	// Low 95 stays above the 90 stop.
	assert.Empty(t, e.Evaluate(pos, candle(95, 105, 100), 1))

	// Low touching the stop exits the full position at the stop price.
	actions := e.Evaluate(pos, candle(89, 105, 100), 2)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionExit, actions[0].Kind)
	assert.Equal(t, domain.ExitReasonStopLoss, actions[0].Reason)
	assert.InDelta(t, 90, actions[0].Price, 1e-12)
	assert.InDelta(t, 90, actions[0].StopPrice, 1e-12)
	assert.InDelta(t, 1, actions[0].Fraction, 1e-12)
}

func TestEvaluate_TrailingStopFollowsPeak(t *testing.T) {
	cfg := baseStrategy()
	cfg.StopLoss = domain.StopLossConfig{Type: domain.StopLossTrailing, Percent: 0.1}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	// Rally to 200 lifts the peak; the stop rises to 180.
	c := candle(100, 200, 190)
	require.Empty(t, e.Evaluate(pos, c, 1))
	pos.ObserveCandle(c)
	require.InDelta(t, 200, pos.PeakPrice, 1e-12)

	actions := e.Evaluate(pos, candle(175, 195, 185), 2)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, actions[0].Reason)
	assert.InDelta(t, 180, actions[0].Price, 1e-12)
}

func TestEvaluate_TrailingStopIgnoresSameBarHigh(t *testing.T) {
	cfg := baseStrategy()
	cfg.StopLoss = domain.StopLossConfig{Type: domain.StopLossTrailing, Percent: 0.1}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	// High 200 would imply a 180 stop, but within its own bar the stop
	// still references the 100 entry peak, so a 95 low survives.
	assert.Empty(t, e.Evaluate(pos, candle(95, 200, 190), 1))
}

func TestEvaluate_TimeStop(t *testing.T) {
	cfg := baseStrategy()
	cfg.StopLoss = domain.StopLossConfig{Type: domain.StopLossTime, Candles: 3}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	assert.Empty(t, e.Evaluate(pos, candle(99, 101, 100), 2))

	actions := e.Evaluate(pos, candle(99, 101, 100.5), 3)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ExitReasonTimeStop, actions[0].Reason)
	assert.InDelta(t, 100.5, actions[0].Price, 1e-12, "time stop exits at the close")
}

func TestEvaluate_IndicatorStop(t *testing.T) {
	cfg := baseStrategy()
	cfg.StopLoss = domain.StopLossConfig{Type: domain.StopLossIndicator, Signal: "momentum_down"}

	fire := false
	e, err := NewEngine(cfg, func(signal string, c domain.Candle) bool {
		assert.Equal(t, "momentum_down", signal)
		return fire
	})
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	assert.Empty(t, e.Evaluate(pos, candle(99, 101, 100), 1))

	fire = true
	actions := e.Evaluate(pos, candle(99, 101, 100), 2)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ExitReasonIndicator, actions[0].Reason)
}

func TestEvaluate_ProfitTargetsFireInOrderOnce(t *testing.T) {
	cfg := baseStrategy()
	cfg.ProfitTargets = []domain.ProfitTarget{
		{TargetMultiple: 1.5, PercentOfPosition: 0.5},
		{TargetMultiple: 2.0, PercentOfPosition: 0.5},
	}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	// High 160 reaches only the first target.
	actions := e.Evaluate(pos, candle(120, 160, 150), 1)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionPartialExit, actions[0].Kind)
	assert.Equal(t, domain.ExitReasonProfitTarget, actions[0].Reason)
	assert.InDelta(t, 150, actions[0].Price, 1e-12)
	assert.InDelta(t, 0.5, actions[0].Fraction, 1e-12)
	assert.Equal(t, 0, actions[0].TargetIndex)

	pos.ApplyTargetFill(0, 0.5)
	require.True(t, pos.Open)

	// The fired target stays quiet; the second one exhausts the position.
	actions = e.Evaluate(pos, candle(150, 210, 205), 2)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionExit, actions[0].Kind)
	assert.InDelta(t, 200, actions[0].Price, 1e-12)
	assert.Equal(t, 1, actions[0].TargetIndex)
}

func TestEvaluate_BothTargetsInOneBar(t *testing.T) {
	cfg := baseStrategy()
	cfg.ProfitTargets = []domain.ProfitTarget{
		{TargetMultiple: 1.5, PercentOfPosition: 0.5},
		{TargetMultiple: 2.0, PercentOfPosition: 0.5},
	}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	actions := e.Evaluate(pos, candle(120, 250, 240), 1)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionPartialExit, actions[0].Kind)
	assert.Equal(t, ActionExit, actions[1].Kind)
}

func TestEvaluate_StopBeatsTargetInSameBar(t *testing.T) {
	cfg := baseStrategy()
	cfg.ProfitTargets = []domain.ProfitTarget{{TargetMultiple: 1.5, PercentOfPosition: 1}}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	// The bar spans both the 90 stop and the 150 target; the engine
	// assumes the adverse path.
	actions := e.Evaluate(pos, candle(85, 160, 120), 1)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, actions[0].Reason)
}

func TestEvaluate_StackedStopsFirstTriggerWins(t *testing.T) {
	cfg := baseStrategy()
	cfg.StopLoss = domain.StopLossConfig{Type: domain.StopLossFixed, Percent: 0.2}
	cfg.Stacked = []domain.StopLossConfig{{Type: domain.StopLossTime, Candles: 2}}
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)

	// Price holds, but the stacked time stop expires.
	actions := e.Evaluate(pos, candle(95, 105, 100), 2)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ExitReasonTimeStop, actions[0].Reason)
}

func TestFinalExit(t *testing.T) {
	e, err := NewEngine(baseStrategy(), nil)
	require.NoError(t, err)
	pos := openPosition(t, e, 100)
	pos.Remaining = 0.5

	a, ok := e.FinalExit(pos, candle(95, 105, 102))
	require.True(t, ok)
	assert.Equal(t, domain.ExitReasonFinal, a.Reason)
	assert.InDelta(t, 102, a.Price, 1e-12)
	assert.InDelta(t, 0.5, a.Fraction, 1e-12)

	pos.ApplyExit(3, false, 0)
	_, ok = e.FinalExit(pos, candle(95, 105, 102))
	assert.False(t, ok)
}
