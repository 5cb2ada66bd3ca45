// Package simulation orchestrates causal backtest runs: one bounded
// worker pool fans instruments out over per-instrument simulators and
// merges their trade streams into a single deterministic result.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtest-lab/internal/candles"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/metrics"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/rules"
)

// Orchestrator errors
var (
	ErrNoAccessor = errors.New("candle accessor is required")
)

// Result is the complete output of one simulation run. Given equal
// requests (including the seed), two Results are identical field for
// field.
type Result struct {
	Events      []domain.TradeEvent
	Series      []domain.PnLPoint
	Metrics     domain.RunMetrics
	Diagnostics []domain.InstrumentDiagnostic
}

// Orchestrator runs simulations over a causal candle accessor.
type Orchestrator struct {
	accessor candles.CausalAccessor
	signal   rules.SignalFunc
	logger   *zap.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Accessor candles.CausalAccessor
	Signal   rules.SignalFunc // optional indicator stop oracle
	Logger   *zap.Logger      // optional, defaults to a nop logger
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Accessor == nil {
		return nil, ErrNoAccessor
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		accessor: opts.Accessor,
		signal:   opts.Signal,
		logger:   logger,
	}, nil
}

// Run simulates every instrument in the request's snapshot.
//
// Instruments execute on a bounded worker pool (Run.MaxConcurrency).
// Each instrument is fully independent: its own PRNG stream seeded
// from (run seed, asset), its own position and risk state. Failures
// follow the request's error mode: collect records a diagnostic and
// keeps going, failFast cancels the remaining instruments and returns
// the first error. On a failFast abort or cancellation the partial
// Result built from completed instruments is returned alongside the
// error; their events stay valid.
func (o *Orchestrator) Run(ctx context.Context, req *domain.SimulationRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	engine, err := rules.NewEngine(req.Strategy.Config, o.signal)
	if err != nil {
		return nil, err
	}

	failFast := req.Run.ErrorMode == domain.ErrorModeFailFast
	limit := req.Run.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}

	o.logger.Info("simulation started",
		zap.String("strategy_id", req.Strategy.StrategyID),
		zap.String("snapshot_id", req.Snapshot.SnapshotID),
		zap.Int("assets", len(req.Snapshot.Assets)),
		zap.Int("concurrency", limit),
	)

	type outcome struct {
		events    []domain.TradeEvent
		anomalies []string
		diag      *domain.InstrumentDiagnostic
	}
	outcomes := make([]outcome, len(req.Snapshot.Assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, asset := range req.Snapshot.Assets {
		i, asset := i, asset
		g.Go(func() (err error) {
			// A single instrument's panic must not take down the rest of
			// the run; it degrades to a per-instrument failure.
			defer func() {
				if p := recover(); p != nil {
					err = o.instrumentFailure(&outcomes[i].diag, asset, fmt.Errorf("panic: %v", p), failFast)
				}
			}()

			run := newInstrumentRun(req, engine, o.accessor, asset)
			events, anomalies, simErr := run.simulate(gctx)
			if simErr != nil {
				return o.instrumentFailure(&outcomes[i].diag, asset, simErr, failFast)
			}
			outcomes[i] = outcome{events: events, anomalies: anomalies}
			return nil
		})
	}
	waitErr := g.Wait()

	// Merge in declared asset order, then stable-sort by time: ties
	// resolve by asset position, never by scheduling order. The merge
	// runs even after a failure so the events of instruments that
	// completed before the abort stay in the partial result.
	result := &Result{}
	for i, oc := range outcomes {
		result.Events = append(result.Events, oc.events...)
		if oc.diag != nil {
			result.Diagnostics = append(result.Diagnostics, *oc.diag)
		}
		if len(oc.anomalies) > 0 {
			for _, flag := range oc.anomalies {
				observability.RecordAnomaly(flag)
			}
			result.Diagnostics = append(result.Diagnostics, domain.InstrumentDiagnostic{
				Asset:     req.Snapshot.Assets[i],
				Stage:     "anomaly",
				Message:   "execution quality anomalies detected",
				Anomalies: oc.anomalies,
			})
		}
	}
	sort.SliceStable(result.Events, func(a, b int) bool {
		return result.Events[a].Timestamp < result.Events[b].Timestamp
	})

	asOf := time.Unix(req.Snapshot.TimeRange.End, 0).UTC().Format(time.RFC3339)
	result.Series = metrics.CalculatePnLSeries(result.Events, req.Run.StartingEquity, asOf)
	result.Metrics = metrics.CalculateMetrics(result.Events, result.Series)

	o.logger.Info("simulation finished",
		zap.String("strategy_id", req.Strategy.StrategyID),
		zap.Int("events", len(result.Events)),
		zap.Int("diagnostics", len(result.Diagnostics)),
	)

	if waitErr != nil {
		// failFast abort or cancellation: completed instruments survive.
		return result, waitErr
	}
	return result, nil
}

// instrumentFailure records a failure per the error mode: collect
// turns it into a diagnostic and returns nil, failFast propagates it.
func (o *Orchestrator) instrumentFailure(diag **domain.InstrumentDiagnostic, asset string, err error, failFast bool) error {
	observability.RecordInstrumentFailure()
	if failFast {
		return fmt.Errorf("simulate %s: %w", asset, err)
	}

	stage := "simulate"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		stage = "cancelled"
	}
	o.logger.Warn("instrument failed",
		zap.String("asset", asset),
		zap.String("stage", stage),
		zap.Error(err),
	)
	*diag = &domain.InstrumentDiagnostic{
		Asset:   asset,
		Stage:   stage,
		Message: err.Error(),
	}
	if stage == "cancelled" {
		return err
	}
	return nil
}
