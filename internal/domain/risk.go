package domain

// RiskStatus is the circuit breaker state machine state.
type RiskStatus string

// Risk status constants. A halted strategy stays halted until the run
// ends; there is no automatic un-halt within one run.
const (
	RiskStatusActive RiskStatus = "active"
	RiskStatusHalted RiskStatus = "halted"
)

// RiskConfig calibrates the circuit breakers and the anomaly detector.
type RiskConfig struct {
	MaxDrawdown             float64 // peak-to-current PnL decline ratio
	MaxDailyLoss            float64 // cumulative loss within one day
	MaxConsecutiveLosses    int
	MinTradeIntervalSeconds int64 // throttle between trades

	// Anomaly detection (diagnostics only, never halts)
	AnomalyMultiplier float64 // spike threshold vs baseline, default 3
	AnomalyWindow     int     // rolling sample window, default 20
}

// DefaultAnomalyMultiplier is used when RiskConfig.AnomalyMultiplier is zero.
const DefaultAnomalyMultiplier = 3.0

// DefaultAnomalyWindow is used when RiskConfig.AnomalyWindow is zero.
const DefaultAnomalyWindow = 20

func (c *RiskConfig) violations() []string {
	var v []string
	if c.MaxDrawdown < 0 {
		v = append(v, "risk: MaxDrawdown must not be negative")
	}
	if c.MaxDailyLoss < 0 {
		v = append(v, "risk: MaxDailyLoss must not be negative")
	}
	if c.MaxConsecutiveLosses < 0 {
		v = append(v, "risk: MaxConsecutiveLosses must not be negative")
	}
	if c.MinTradeIntervalSeconds < 0 {
		v = append(v, "risk: MinTradeIntervalSeconds must not be negative")
	}
	if c.AnomalyMultiplier < 0 {
		v = append(v, "risk: AnomalyMultiplier must not be negative")
	}
	return v
}

// CircuitBreakerState is the mutable per-run, per-strategy breaker
// state. Created fresh at run start and never shared across concurrent
// runs or concurrent instrument simulations.
type CircuitBreakerState struct {
	Status            RiskStatus
	HaltReason        string
	CurrentDrawdown   float64
	DailyLoss         float64
	DayStart          int64 // unix seconds, start of the loss-tracking day
	ConsecutiveLosses int
	TotalExposure     float64 // notional currently open, never negative
	LastTradeTime     int64 // unix seconds, zero before first trade
}

// NewCircuitBreakerState returns a fresh active breaker state.
func NewCircuitBreakerState() *CircuitBreakerState {
	return &CircuitBreakerState{Status: RiskStatusActive}
}
