package domain

// Candle represents one OHLCV bar for a fixed time interval.
// Immutable once produced by the data source. Timestamp is the candle
// open in unix seconds; exactly one candle exists per (asset, interval)
// bucket and series are ordered ascending by Timestamp.
type Candle struct {
	Asset     string  // instrument identifier
	Timestamp int64   // candle open, unix seconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CloseTime returns the instant at which the candle closes.
func (c Candle) CloseTime(intervalSeconds int64) int64 {
	return c.Timestamp + intervalSeconds
}

// ClosedAt reports whether the candle is closed relative to a decision
// time. A candle is closed iff its close time is at or before the
// decision time; an open candle must never be visible to a strategy.
func (c Candle) ClosedAt(decisionTime, intervalSeconds int64) bool {
	return c.CloseTime(intervalSeconds) <= decisionTime
}

// Supported candle intervals (in seconds)
const (
	Interval1Min  = 60
	Interval5Min  = 300
	Interval1Hour = 3600
	Interval1Day  = 86400
)
