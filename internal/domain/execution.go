package domain

// LatencyConfig calibrates fill latency sampling. Percentiles are in
// milliseconds; jitter is added uniformly on top of the sampled value.
type LatencyConfig struct {
	P50Ms    int64
	P90Ms    int64
	P99Ms    int64
	JitterMs int64
}

// SlippageConfig calibrates slippage sampling in basis points.
// Applied slippage is BaseBps + ImpactBpsPerUnit*size clamped to
// [MinBps, MaxBps], so larger orders always slip at least as much.
type SlippageConfig struct {
	BaseBps          float64
	ImpactBpsPerUnit float64 // linear volume-impact coefficient
	MinBps           float64
	MaxBps           float64
}

// FailureConfig calibrates simulated execution failures.
type FailureConfig struct {
	BaseRate             float64 // probability in [0,1)
	CongestionMultiplier float64 // scales BaseRate under congestion
	MaxRate              float64 // hard cap on effective rate
}

// PartialFillConfig calibrates partial fills. When a fill is partial
// the fraction is drawn uniformly from [MinFraction, MaxFraction].
type PartialFillConfig struct {
	Probability float64
	MinFraction float64 // in (0,1]
	MaxFraction float64 // in (0,1], >= MinFraction
}

// ExecutionConfig converts static calibration into a stochastic but
// seeded, reproducible fill simulator.
type ExecutionConfig struct {
	Latency     LatencyConfig
	Slippage    SlippageConfig
	Failure     FailureConfig
	PartialFill PartialFillConfig
}

// FillSample is the execution model's output for one intended trade.
type FillSample struct {
	AppliedLatencyMs   int64
	AppliedSlippageBps float64
	Failed             bool
	FillFraction       float64 // in (0,1]; 1.0 unless partially filled
}

func (c *ExecutionConfig) violations() []string {
	var v []string
	if c.Latency.P50Ms < 0 || c.Latency.P90Ms < c.Latency.P50Ms || c.Latency.P99Ms < c.Latency.P90Ms {
		v = append(v, "execution: latency percentiles must satisfy 0 <= p50 <= p90 <= p99")
	}
	if c.Latency.JitterMs < 0 {
		v = append(v, "execution: JitterMs must not be negative")
	}
	if c.Slippage.MaxBps < c.Slippage.MinBps {
		v = append(v, "execution: slippage MaxBps precedes MinBps")
	}
	if c.Failure.BaseRate < 0 || c.Failure.BaseRate >= 1 {
		v = append(v, "execution: failure BaseRate must be in [0,1)")
	}
	if c.Failure.MaxRate < 0 || c.Failure.MaxRate >= 1 {
		v = append(v, "execution: failure MaxRate must be in [0,1)")
	}
	if c.PartialFill.Probability < 0 || c.PartialFill.Probability > 1 {
		v = append(v, "execution: partial-fill Probability must be in [0,1]")
	}
	if c.PartialFill.Probability > 0 {
		if c.PartialFill.MinFraction <= 0 || c.PartialFill.MaxFraction > 1 ||
			c.PartialFill.MaxFraction < c.PartialFill.MinFraction {
			v = append(v, "execution: partial-fill fraction range must satisfy 0 < min <= max <= 1")
		}
	}
	return v
}
