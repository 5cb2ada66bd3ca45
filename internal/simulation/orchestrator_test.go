package simulation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/candles"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage/memory"
)

const testInterval = 60

func seededAccessor(t *testing.T, series ...[]domain.Candle) *candles.StoreAccessor {
	t.Helper()
	store := memory.NewCandleStore()
	for _, s := range series {
		require.NoError(t, store.InsertBulk(context.Background(), s))
	}
	return candles.NewStoreAccessor(store)
}

// closesSeries builds one candle per close value, 60s apart from t=0,
// with a fixed 2-point intrabar range around the close.
func closesSeries(asset string, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Asset:     asset,
			Timestamp: int64(i) * testInterval,
			Open:      c,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func baseRequest(assets ...string) *domain.SimulationRequest {
	return &domain.SimulationRequest{
		Snapshot: domain.DataSnapshotRef{
			SnapshotID:  "snap-1",
			ContentHash: strings.Repeat("a", 64),
			TimeRange:   domain.TimeRange{Start: 0, End: 10 * testInterval},
			Assets:      assets,
		},
		Strategy: domain.StrategyRef{
			StrategyID: "strat-1",
			Config: domain.StrategyConfig{
				EntryTiming: domain.EntryCallTimeClose,
				StopLoss:    domain.StopLossConfig{Type: domain.StopLossFixed, Percent: 0.5},
			},
		},
		Run: domain.RunConfig{
			Seed:            42,
			IntervalSeconds: testInterval,
			StartingEquity:  1000,
			MaxConcurrency:  2,
			ErrorMode:       domain.ErrorModeCollect,
		},
	}
}

func newOrchestrator(t *testing.T, accessor candles.CausalAccessor) *Orchestrator {
	t.Helper()
	o, err := New(Options{Accessor: accessor})
	require.NoError(t, err)
	return o
}

func TestRun_InvalidRequest(t *testing.T) {
	o := newOrchestrator(t, seededAccessor(t))

	_, err := o.Run(context.Background(), &domain.SimulationRequest{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRun_EntryThenFinalExit(t *testing.T) {
	acc := seededAccessor(t, closesSeries("SOL", 100, 101, 102, 103, 104))
	o := newOrchestrator(t, acc)

	res, err := o.Run(context.Background(), baseRequest("SOL"))
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	entry := res.Events[0]
	assert.Equal(t, domain.EventEntry, entry.Type)
	assert.Equal(t, int64(testInterval), entry.Timestamp, "call_time_close fills at the first candle close")
	assert.InDelta(t, 100, entry.Price, 1e-9)
	assert.Equal(t, "1970-01-01T00:01:00Z", entry.TimestampISO)

	final := res.Events[1]
	assert.Equal(t, domain.EventExit, final.Type)
	assert.Equal(t, domain.ExitReasonFinal, final.ExitReason)
	assert.InDelta(t, 104, final.Price, 1e-9)

	assert.Equal(t, 1, res.Metrics.TotalTrades)
	assert.Equal(t, 1, res.Metrics.WinningTrades)
	assert.NotEmpty(t, res.Series)
	assert.Empty(t, res.Diagnostics)
}

func TestRun_StopLossExit(t *testing.T) {
	// Entry at 100; the 10% stop sits at 90 and candle 2's low pierces it.
	series := closesSeries("SOL", 100, 99, 85, 95, 96)
	acc := seededAccessor(t, series)
	o := newOrchestrator(t, acc)

	req := baseRequest("SOL")
	req.Strategy.Config.StopLoss.Percent = 0.1

	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	exit := res.Events[1]
	assert.Equal(t, domain.ExitReasonStopLoss, exit.ExitReason)
	assert.InDelta(t, 90, exit.Price, 1e-9, "stop exits fill at the stop price")
	assert.Equal(t, int64(3*testInterval), exit.Timestamp)
	assert.Equal(t, 1, res.Metrics.LosingTrades)
}

func TestRun_ProfitTargetPartialThenFinal(t *testing.T) {
	series := closesSeries("SOL", 100, 120, 160, 140, 150)
	acc := seededAccessor(t, series)
	o := newOrchestrator(t, acc)

	req := baseRequest("SOL")
	req.Strategy.Config.ProfitTargets = []domain.ProfitTarget{
		{TargetMultiple: 1.5, PercentOfPosition: 0.5},
	}

	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Events, 3)

	target := res.Events[1]
	assert.Equal(t, domain.EventExit, target.Type)
	assert.Equal(t, domain.ExitReasonProfitTarget, target.ExitReason)
	assert.InDelta(t, 150, target.Price, 1e-9)
	assert.InDelta(t, 0.5, target.Quantity, 1e-9)

	final := res.Events[2]
	assert.Equal(t, domain.ExitReasonFinal, final.ExitReason)
	assert.InDelta(t, 0.5, final.Quantity, 1e-9)
}

func TestRun_TimeStopReentry(t *testing.T) {
	series := closesSeries("SOL", 100, 101, 102, 103, 104, 105)
	acc := seededAccessor(t, series)
	o := newOrchestrator(t, acc)

	req := baseRequest("SOL")
	req.Strategy.Config.StopLoss = domain.StopLossConfig{Type: domain.StopLossTime, Candles: 1}
	req.Strategy.Config.AllowReentry = true
	req.Strategy.Config.MaxReentries = 1

	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Events, 4)

	assert.Equal(t, domain.EventEntry, res.Events[0].Type)
	assert.Equal(t, domain.ExitReasonTimeStop, res.Events[1].ExitReason)
	assert.Equal(t, domain.EventReentry, res.Events[2].Type)
	assert.Equal(t, domain.ExitReasonTimeStop, res.Events[3].ExitReason)
}

func TestRun_BreakerHaltsAfterLoss(t *testing.T) {
	// Downtrend: every round trip loses. One consecutive loss halts the
	// strategy, so the permitted re-entry never executes.
	series := closesSeries("SOL", 100, 95, 90, 85, 80, 75)
	acc := seededAccessor(t, series)
	o := newOrchestrator(t, acc)

	req := baseRequest("SOL")
	req.Strategy.Config.StopLoss = domain.StopLossConfig{Type: domain.StopLossTime, Candles: 1}
	req.Strategy.Config.AllowReentry = true
	req.Strategy.Config.MaxReentries = 5
	req.Risk = &domain.RiskConfig{MaxConsecutiveLosses: 1}

	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Events, 2, "halted strategy must stop trading")
	assert.Equal(t, domain.ExitReasonTimeStop, res.Events[1].ExitReason)
	assert.Equal(t, 1, res.Metrics.LosingTrades)
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	mk := func() (*Orchestrator, *domain.SimulationRequest) {
		acc := seededAccessor(t,
			closesSeries("SOL", 100, 104, 99, 108, 112, 103, 110, 118, 109, 121),
			closesSeries("BONK", 50, 51, 49, 53, 55, 52, 56, 58, 54, 60),
		)
		req := baseRequest("SOL", "BONK")
		req.Strategy.Config.StopLoss = domain.StopLossConfig{Type: domain.StopLossTime, Candles: 2}
		req.Strategy.Config.AllowReentry = true
		req.Strategy.Config.MaxReentries = 3
		req.Execution = domain.ExecutionConfig{
			Latency:  domain.LatencyConfig{P50Ms: 50, P90Ms: 200, P99Ms: 800, JitterMs: 20},
			Slippage: domain.SlippageConfig{BaseBps: 10, ImpactBpsPerUnit: 5, MinBps: 5, MaxBps: 80},
			Failure:  domain.FailureConfig{BaseRate: 0.2, CongestionMultiplier: 1.5, MaxRate: 0.5},
			PartialFill: domain.PartialFillConfig{
				Probability: 0.4, MinFraction: 0.3, MaxFraction: 0.9,
			},
		}
		req.Risk = &domain.RiskConfig{MaxDrawdown: 0.9}
		return newOrchestrator(t, acc), req
	}

	o1, req1 := mk()
	res1, err := o1.Run(context.Background(), req1)
	require.NoError(t, err)

	o2, req2 := mk()
	res2, err := o2.Run(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, res1.Events, res2.Events, "equal seeds must reproduce the event stream exactly")
	assert.Equal(t, res1.Series, res2.Series)
	assert.Equal(t, res1.Metrics, res2.Metrics)
}

func TestRun_SeedChangesOutput(t *testing.T) {
	series := closesSeries("SOL", 100, 104, 99, 108, 112, 103, 110, 118, 109, 121)

	run := func(seed int64) *Result {
		o := newOrchestrator(t, seededAccessor(t, series))
		req := baseRequest("SOL")
		req.Run.Seed = seed
		req.Execution.Failure = domain.FailureConfig{BaseRate: 0.5, MaxRate: 0.9}
		res, err := o.Run(context.Background(), req)
		require.NoError(t, err)
		return res
	}

	// With a 50% failure rate the entry outcome almost surely differs
	// across seeds; compare a few to avoid a flaky equality.
	base := run(1)
	diverged := false
	for seed := int64(2); seed <= 5 && !diverged; seed++ {
		if other := run(seed); !assert.ObjectsAreEqual(base.Events, other.Events) {
			diverged = true
		}
	}
	assert.True(t, diverged, "different seeds should change sampled outcomes")
}

type failingAccessor struct {
	candles.CausalAccessor
	bad string
}

func (f *failingAccessor) GetLastClosedCandle(ctx context.Context, asset string, decisionTime, intervalSeconds int64) (*domain.Candle, error) {
	if asset == f.bad {
		return nil, errors.New("series unavailable")
	}
	return f.CausalAccessor.GetLastClosedCandle(ctx, asset, decisionTime, intervalSeconds)
}

func TestRun_CollectModeIsolatesInstrumentFailure(t *testing.T) {
	acc := &failingAccessor{
		CausalAccessor: seededAccessor(t, closesSeries("SOL", 100, 101, 102)),
		bad:            "BAD",
	}
	o := newOrchestrator(t, acc)

	res, err := o.Run(context.Background(), baseRequest("SOL", "BAD"))
	require.NoError(t, err)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "BAD", res.Diagnostics[0].Asset)
	assert.Equal(t, "simulate", res.Diagnostics[0].Stage)
	assert.Contains(t, res.Diagnostics[0].Message, "series unavailable")

	for _, ev := range res.Events {
		assert.Equal(t, "SOL", ev.Asset, "healthy instruments must still simulate")
	}
	assert.NotEmpty(t, res.Events)
}

func TestRun_FailFastAborts(t *testing.T) {
	acc := &failingAccessor{
		CausalAccessor: seededAccessor(t, closesSeries("SOL", 100, 101, 102)),
		bad:            "BAD",
	}
	o := newOrchestrator(t, acc)

	// Concurrency 1 so SOL finishes before BAD fails.
	req := baseRequest("SOL", "BAD")
	req.Run.ErrorMode = domain.ErrorModeFailFast
	req.Run.MaxConcurrency = 1

	res, err := o.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")

	// Completed instruments keep their events in the partial result.
	require.NotNil(t, res)
	require.NotEmpty(t, res.Events)
	for _, ev := range res.Events {
		assert.Equal(t, "SOL", ev.Asset)
	}
}

func TestRun_EventsMergedInTimeOrder(t *testing.T) {
	acc := seededAccessor(t,
		closesSeries("SOL", 100, 101, 102, 103),
		closesSeries("BONK", 50, 51, 52, 53),
	)
	o := newOrchestrator(t, acc)

	res, err := o.Run(context.Background(), baseRequest("SOL", "BONK"))
	require.NoError(t, err)

	for i := 1; i < len(res.Events); i++ {
		assert.LessOrEqual(t, res.Events[i-1].Timestamp, res.Events[i].Timestamp)
	}
	// Equal timestamps resolve by declared asset order, not scheduling.
	require.GreaterOrEqual(t, len(res.Events), 4)
	assert.Equal(t, "SOL", res.Events[0].Asset)
	assert.Equal(t, "BONK", res.Events[1].Asset)
}
