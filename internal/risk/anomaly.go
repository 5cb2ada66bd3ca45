package risk

import (
	"backtest-lab/internal/domain"
)

// Anomaly flag codes
const (
	AnomalyLatencySpike  = "latency_spike"
	AnomalySlippageSpike = "slippage_spike"
	AnomalyFailureSpike  = "failure_rate_spike"
)

// minBaselineSamples is how many observations a series needs before a
// spike can be declared against its baseline.
const minBaselineSamples = 5

// AnomalyDetector tracks rolling execution-quality statistics for one
// run and flags latency, slippage and failure-rate spikes that exceed
// a configured multiple of the observed baseline. Flags populate
// diagnostics only; the detector never halts trading.
type AnomalyDetector struct {
	multiplier float64

	latency  *series
	slippage *series
	failures *series
}

// NewAnomalyDetector creates a detector from the risk config, applying
// defaults for zero values.
func NewAnomalyDetector(cfg domain.RiskConfig) *AnomalyDetector {
	multiplier := cfg.AnomalyMultiplier
	if multiplier == 0 {
		multiplier = domain.DefaultAnomalyMultiplier
	}
	window := cfg.AnomalyWindow
	if window == 0 {
		window = domain.DefaultAnomalyWindow
	}

	return &AnomalyDetector{
		multiplier: multiplier,
		latency:    newSeries(window),
		slippage:   newSeries(window),
		failures:   newSeries(window),
	}
}

// Observe records one fill sample and returns any anomaly flags it
// raises. Order of checks is fixed for reproducible diagnostics.
func (d *AnomalyDetector) Observe(sample domain.FillSample) []string {
	var flags []string

	if d.latency.spike(float64(sample.AppliedLatencyMs), d.multiplier) {
		flags = append(flags, AnomalyLatencySpike)
	}
	d.latency.push(float64(sample.AppliedLatencyMs))

	if d.slippage.spike(sample.AppliedSlippageBps, d.multiplier) {
		flags = append(flags, AnomalySlippageSpike)
	}
	d.slippage.push(sample.AppliedSlippageBps)

	failed := 0.0
	if sample.Failed {
		failed = 1.0
	}
	// Failure rate compares the rolling window rate against the
	// all-time baseline rather than a single observation.
	d.failures.push(failed)
	if d.failures.windowMean() > d.multiplier*d.failures.baselineMean() &&
		d.failures.total >= minBaselineSamples && d.failures.baselineMean() > 0 {
		flags = append(flags, AnomalyFailureSpike)
	}

	return flags
}

// series keeps a bounded rolling window plus an all-time baseline mean.
type series struct {
	window []float64
	next   int
	filled int

	total       int64
	baselineSum float64
	windowSum   float64
}

func newSeries(size int) *series {
	return &series{window: make([]float64, size)}
}

func (s *series) push(v float64) {
	if s.filled == len(s.window) {
		s.windowSum -= s.window[s.next]
	} else {
		s.filled++
	}
	s.window[s.next] = v
	s.windowSum += v
	s.next = (s.next + 1) % len(s.window)

	s.total++
	s.baselineSum += v
}

func (s *series) baselineMean() float64 {
	if s.total == 0 {
		return 0
	}
	return s.baselineSum / float64(s.total)
}

func (s *series) windowMean() float64 {
	if s.filled == 0 {
		return 0
	}
	return s.windowSum / float64(s.filled)
}

// spike reports whether v exceeds multiplier times the baseline mean,
// once enough samples exist to trust the baseline.
func (s *series) spike(v, multiplier float64) bool {
	if s.total < minBaselineSamples {
		return false
	}
	baseline := s.baselineMean()
	return baseline > 0 && v > multiplier*baseline
}
