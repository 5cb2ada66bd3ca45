// Package execution converts static calibration parameters into a
// stochastic but seeded, reproducible fill simulator.
package execution

import (
	"math/rand"

	"backtest-lab/internal/domain"
)

// Sampler draws fill latency, slippage, failures and partial fills for
// intended trades. All randomness comes from the explicit seeded PRNG
// handed in at construction, never from a global source; one sampler
// serves exactly one instrument stream.
type Sampler struct {
	cfg domain.ExecutionConfig
	rng *rand.Rand

	effectiveFailureRate float64
}

// NewSampler creates a fill sampler over a seeded PRNG.
func NewSampler(cfg domain.ExecutionConfig, rng *rand.Rand) *Sampler {
	rate := cfg.Failure.BaseRate
	if cfg.Failure.CongestionMultiplier > 1 {
		rate *= cfg.Failure.CongestionMultiplier
	}
	if rate > cfg.Failure.MaxRate {
		rate = cfg.Failure.MaxRate
	}

	return &Sampler{
		cfg:                  cfg,
		rng:                  rng,
		effectiveFailureRate: rate,
	}
}

// SampleFill simulates execution of one intended trade of the given
// size. Variates are always drawn in a fixed order (latency, failure,
// partial fill) so the PRNG stream position is independent of the
// outcome of earlier draws.
func (s *Sampler) SampleFill(size float64) domain.FillSample {
	latency := s.sampleLatency()
	failed := s.rng.Float64() < s.effectiveFailureRate
	fraction := s.sampleFillFraction()

	sample := domain.FillSample{
		AppliedLatencyMs:   latency,
		AppliedSlippageBps: s.SlippageBps(size),
		Failed:             failed,
		FillFraction:       fraction,
	}
	if failed {
		// Nothing fills on failure; fraction stays a full unit so the
		// caller never sees a zero quantity.
		sample.FillFraction = 1.0
	}
	return sample
}

// SlippageBps returns the slippage applied to a trade of the given
// size: base plus linear volume impact, clamped to [MinBps, MaxBps].
// Monotonically non-decreasing in size.
func (s *Sampler) SlippageBps(size float64) float64 {
	sl := s.cfg.Slippage
	if size < 0 {
		size = -size
	}

	bps := sl.BaseBps + sl.ImpactBpsPerUnit*size
	if bps < sl.MinBps {
		bps = sl.MinBps
	}
	if bps > sl.MaxBps {
		bps = sl.MaxBps
	}
	return bps
}

// sampleLatency draws from the piecewise-linear percentile curve
// p50/p90/p99, then adds uniform jitter.
func (s *Sampler) sampleLatency() int64 {
	lat := s.cfg.Latency
	u := s.rng.Float64()

	var ms float64
	switch {
	case u <= 0.50:
		ms = float64(lat.P50Ms) * (u / 0.50)
	case u <= 0.90:
		ms = float64(lat.P50Ms) + float64(lat.P90Ms-lat.P50Ms)*(u-0.50)/0.40
	case u <= 0.99:
		ms = float64(lat.P90Ms) + float64(lat.P99Ms-lat.P90Ms)*(u-0.90)/0.09
	default:
		ms = float64(lat.P99Ms)
	}

	applied := int64(ms)
	if lat.JitterMs > 0 {
		applied += s.rng.Int63n(lat.JitterMs + 1)
	}
	return applied
}

// sampleFillFraction draws the filled fraction: 1.0 unless the partial
// fill gate fires, then uniform in [MinFraction, MaxFraction].
func (s *Sampler) sampleFillFraction() float64 {
	pf := s.cfg.PartialFill

	// Both gates draw even when the config disables them, keeping the
	// stream position fixed across configs with equal seeds.
	gate := s.rng.Float64()
	u := s.rng.Float64()

	if pf.Probability <= 0 || gate >= pf.Probability {
		return 1.0
	}
	return pf.MinFraction + u*(pf.MaxFraction-pf.MinFraction)
}
