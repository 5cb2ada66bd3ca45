package domain

// PnLPoint is one point of the equity curve, derived purely from trade
// events. Points are monotonic in Timestamp.
type PnLPoint struct {
	Timestamp     int64
	Equity        float64
	CumulativePnL float64
	OpenPositions int
}

// RunMetrics aggregates a run's trade stream into summary statistics.
// It is a pure function of the trade events and the PnL series.
type RunMetrics struct {
	TotalTrades   int // completed round trips
	WinningTrades int
	LosingTrades  int
	FailedEvents  int // simulated execution failures

	TotalReturn    float64 // final equity / starting equity - 1
	WinRate        float64 // 0 when TotalTrades == 0, never NaN
	ProfitFactor   float64 // +Inf when wins exist and losses do not
	MaxDrawdown    float64 // worst peak-to-trough equity decline ratio
	Sharpe         float64 // population stddev; 0 on zero variance
	Sortino        float64 // population downside stddev; 0 on zero variance
	TailLoss       float64 // 5th percentile of per-trade PnL
	TotalFees      float64
	FeeSensitivity float64 // fees as a share of gross winning PnL
}
