package simulation

import (
	"context"
	"math/rand"
	"time"

	"backtest-lab/internal/candles"
	"backtest-lab/internal/costs"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/execution"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/risk"
	"backtest-lab/internal/rules"
)

// instrumentRun simulates one instrument's trade stream. Each run owns
// its own seeded PRNG, sampler, position, breaker state and anomaly
// detector, so instruments are independent regardless of scheduling
// order and the output depends only on (request, seed, asset).
type instrumentRun struct {
	asset    string
	req      *domain.SimulationRequest
	engine   *rules.Engine
	accessor candles.CausalAccessor
	sampler  *execution.Sampler
	detector *risk.AnomalyDetector
	breaker  *domain.CircuitBreakerState

	pos  *rules.PositionState
	seen []domain.Candle // closed candles observed so far, ascending

	events    []domain.TradeEvent
	anomalies []string

	entered     bool
	realizedPnl float64
	peakPnl     float64
}

func newInstrumentRun(req *domain.SimulationRequest, engine *rules.Engine, accessor candles.CausalAccessor, asset string) *instrumentRun {
	seed := idhash.ComputeInstrumentSeed(req.Run.Seed, asset)
	rng := rand.New(rand.NewSource(seed))

	r := &instrumentRun{
		asset:    asset,
		req:      req,
		engine:   engine,
		accessor: accessor,
		sampler:  execution.NewSampler(req.Execution, rng),
		pos:      engine.NewPosition(),
	}
	if req.Risk != nil {
		r.breaker = domain.NewCircuitBreakerState()
		r.detector = risk.NewAnomalyDetector(*req.Risk)
	}
	return r
}

// simulate walks the snapshot's time range in candle steps. At each
// closed candle it resolves entry, evaluates exit rules, executes
// intended trades through the sampler, and updates risk state. The
// remaining position is force-closed at the last observed candle.
func (r *instrumentRun) simulate(ctx context.Context) ([]domain.TradeEvent, []string, error) {
	interval := r.req.Run.IntervalSeconds
	start := r.req.Snapshot.TimeRange.Start
	end := r.req.Snapshot.TimeRange.End

	entryFill := r.engine.EntryFill(start, interval)
	firstClose := start - start%interval + interval

	for t := firstClose; t <= end; t += interval {
		select {
		case <-ctx.Done():
			return r.events, r.anomalies, ctx.Err()
		default:
		}

		c, err := r.accessor.GetLastClosedCandle(ctx, r.asset, t, interval)
		if err != nil {
			return r.events, r.anomalies, err
		}
		if c == nil || (len(r.seen) > 0 && c.Timestamp == r.seen[len(r.seen)-1].Timestamp) {
			continue // gap in the series, nothing new closed
		}
		r.seen = append(r.seen, *c)
		index := len(r.seen) - 1

		switch {
		case !r.entered:
			if entryFill.AtOpen && c.Timestamp == entryFill.Time {
				r.tryEnter(domain.EventEntry, c.Open, entryFill.Time, index)
			} else if !entryFill.AtOpen && c.CloseTime(interval) == entryFill.Time {
				r.tryEnter(domain.EventEntry, c.Close, entryFill.Time, index)
			}

		case r.pos.Open:
			for _, a := range r.engine.Evaluate(r.pos, *c, index) {
				r.executeExit(a, t, index)
				if !r.pos.Open {
					break
				}
			}

		case r.engine.ReentryAllowed(r.pos, r.seen, index):
			r.tryEnter(domain.EventReentry, c.Close, t, index)
		}

		r.pos.ObserveCandle(*c)

		if r.entered && !r.pos.Open && !r.mayStillReenter() {
			break
		}
	}

	if r.pos.Open && len(r.seen) > 0 {
		last := r.seen[len(r.seen)-1]
		if a, ok := r.engine.FinalExit(r.pos, last); ok {
			r.executeExit(a, last.CloseTime(interval), len(r.seen)-1)
		}
	}

	return r.events, r.anomalies, nil
}

func (r *instrumentRun) mayStillReenter() bool {
	cfg := r.engine.Config()
	if !cfg.AllowReentry || !r.pos.ExitedByStop {
		return false
	}
	return cfg.MaxReentries <= 0 || r.pos.Reentries < cfg.MaxReentries
}

// tryEnter executes an entry or re-entry intent. A halted breaker
// skips execution entirely; a sampled failure appends a failed event
// and consumes the signal without opening a position.
func (r *instrumentRun) tryEnter(kind domain.TradeEventType, price float64, t int64, index int) {
	r.entered = true
	if r.halted() {
		return
	}

	sample := r.observe(r.sampler.SampleFill(1))
	fillPrice := price * (1 + sample.AppliedSlippageBps/10000)

	if sample.Failed {
		r.append(domain.TradeEvent{
			Timestamp: t,
			Type:      kind,
			Asset:     r.asset,
			Price:     fillPrice,
			Failed:    true,
		})
		return
	}

	qty := sample.FillFraction
	value := fillPrice * qty
	fees := costs.ComputeFee(value, true, r.req.Cost)

	r.append(domain.TradeEvent{
		Timestamp:   t,
		Type:        kind,
		Asset:       r.asset,
		Price:       fillPrice,
		Quantity:    qty,
		Value:       value,
		Fees:        fees,
		PartialFill: sample.FillFraction < 1,
	})

	if kind == domain.EventReentry {
		r.pos.ApplyReentry(fillPrice, t, index, qty)
	} else {
		r.pos.ApplyEntry(fillPrice, t, index, qty)
	}
	r.updateRisk(0, value, t)
}

// executeExit executes one exit intent from the rule engine. Stop and
// final exits always fill their full fraction; only profit target
// slices are subject to the partial fill gate.
func (r *instrumentRun) executeExit(a rules.Action, t int64, index int) {
	if r.halted() {
		return
	}

	sample := r.observe(r.sampler.SampleFill(a.Fraction))
	fillPrice := a.Price * (1 - sample.AppliedSlippageBps/10000)

	if sample.Failed {
		r.append(domain.TradeEvent{
			Timestamp:  t,
			Type:       domain.EventExit,
			Asset:      r.asset,
			Price:      fillPrice,
			Failed:     true,
			ExitReason: a.Reason,
		})
		return
	}

	filled := a.Fraction
	partial := false
	if a.Kind == rules.ActionPartialExit && sample.FillFraction < 1 {
		filled = a.Fraction * sample.FillFraction
		partial = true
	}

	value := fillPrice * filled
	fees := costs.ComputeFee(value, false, r.req.Cost) +
		costs.ComputeBorrowCost(value, t-r.pos.EntryTime, r.req.Cost)
	tradePnl := (fillPrice-r.pos.EntryPrice)*filled - fees

	r.append(domain.TradeEvent{
		Timestamp:   t,
		Type:        domain.EventExit,
		Asset:       r.asset,
		Price:       fillPrice,
		Quantity:    filled,
		Value:       value,
		Fees:        fees,
		PartialFill: partial,
		ExitReason:  a.Reason,
	})

	if a.Kind == rules.ActionPartialExit {
		r.pos.ApplyTargetFill(a.TargetIndex, filled)
	} else {
		r.pos.ApplyExit(index, stopTriggered(a.Reason), a.StopPrice)
	}

	r.realizedPnl += tradePnl
	if r.realizedPnl > r.peakPnl {
		r.peakPnl = r.realizedPnl
	}
	r.updateRisk(tradePnl, -value, t)
}

// stopTriggered reports whether an exit reason makes the position
// eligible for re-entry consideration.
func stopTriggered(reason string) bool {
	switch reason {
	case domain.ExitReasonStopLoss, domain.ExitReasonTimeStop, domain.ExitReasonIndicator:
		return true
	}
	return false
}

func (r *instrumentRun) halted() bool {
	return r.breaker != nil && r.breaker.Status == domain.RiskStatusHalted
}

// updateRisk feeds one executed trade to the breaker. exposureDelta is
// positive on entries and negative on exits.
func (r *instrumentRun) updateRisk(tradePnl, exposureDelta float64, now int64) {
	if r.breaker == nil {
		return
	}
	wasHalted := r.breaker.Status == domain.RiskStatusHalted
	res := risk.CheckCircuitBreaker(*r.req.Risk, r.breaker, tradePnl,
		r.realizedPnl, r.peakPnl, r.req.Strategy.StrategyID, exposureDelta, now)
	if res.Triggered && !wasHalted {
		observability.RecordBreakerTrigger(res.Reason)
	}
}

// observe feeds the fill sample to the anomaly detector and collects
// any flags it raises.
func (r *instrumentRun) observe(sample domain.FillSample) domain.FillSample {
	if r.detector != nil {
		r.anomalies = append(r.anomalies, r.detector.Observe(sample)...)
	}
	return sample
}

func (r *instrumentRun) append(ev domain.TradeEvent) {
	ev.TimestampISO = time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339)
	r.events = append(r.events, ev)
}
