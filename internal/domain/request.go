package domain

import "regexp"

// contentHashPattern matches a SHA-256 hex digest.
var contentHashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// TimeRange is a closed interval of unix-second instants.
type TimeRange struct {
	Start int64
	End   int64
}

// DataSnapshotRef identifies the exact immutable data slice a run
// consumes. ContentHash addresses the slice; two runs over the same
// hash see byte-identical candles.
type DataSnapshotRef struct {
	SnapshotID    string
	ContentHash   string // SHA-256 hex over the canonicalized slice
	TimeRange     TimeRange
	Sources       []string
	Filters       map[string]string
	SchemaVersion int
	CreatedAtISO  string
	Assets        []string // tradable instruments in the snapshot
}

// StrategyRef carries an opaque strategy configuration plus its hash.
type StrategyRef struct {
	StrategyID string
	Config     StrategyConfig
	ConfigHash string // SHA-256 hex over the canonicalized config
}

// ErrorMode controls how per-instrument failures propagate.
type ErrorMode string

// Error mode constants
const (
	ErrorModeCollect  ErrorMode = "collect"  // record failures, keep going
	ErrorModeFailFast ErrorMode = "failFast" // abort run on first failure
)

// Valid reports whether m is a known error mode.
func (m ErrorMode) Valid() bool {
	return m == ErrorModeCollect || m == ErrorModeFailFast
}

// RunConfig holds run-wide simulation parameters. Seed fully determines
// every stochastic draw in the run.
type RunConfig struct {
	Seed            int64
	IntervalSeconds int64 // candle interval / time resolution
	StartingEquity  float64
	MaxConcurrency  int // bounded worker pool size, 0 means 1
	ErrorMode       ErrorMode
}

// SimulationRequest is the full input of one run. Together with the
// seed inside RunConfig it is the sole determinant of all outputs.
type SimulationRequest struct {
	Snapshot  DataSnapshotRef
	Strategy  StrategyRef
	Execution ExecutionConfig
	Cost      CostConfig
	Risk      *RiskConfig // optional; nil disables circuit breakers
	Run       RunConfig
}

// Validate checks the request before any simulation work begins.
// All violations are collected, not just the first.
func (r *SimulationRequest) Validate() error {
	var v []string

	if r.Snapshot.SnapshotID == "" {
		v = append(v, "snapshot: SnapshotID is required")
	}
	if !contentHashPattern.MatchString(r.Snapshot.ContentHash) {
		v = append(v, "snapshot: ContentHash must be 64 lowercase hex characters")
	}
	if r.Snapshot.TimeRange.End < r.Snapshot.TimeRange.Start {
		v = append(v, "snapshot: TimeRange.End precedes TimeRange.Start")
	}
	if len(r.Snapshot.Assets) == 0 {
		v = append(v, "snapshot: at least one asset is required")
	}

	if r.Strategy.StrategyID == "" {
		v = append(v, "strategy: StrategyID is required")
	}
	v = append(v, r.Strategy.Config.violations()...)
	v = append(v, r.Execution.violations()...)
	v = append(v, r.Cost.violations()...)
	if r.Risk != nil {
		v = append(v, r.Risk.violations()...)
	}

	if r.Run.IntervalSeconds <= 0 {
		v = append(v, "run: IntervalSeconds must be positive")
	}
	if r.Run.StartingEquity <= 0 {
		v = append(v, "run: StartingEquity must be positive")
	}
	if r.Run.MaxConcurrency < 0 {
		v = append(v, "run: MaxConcurrency must not be negative")
	}
	if !r.Run.ErrorMode.Valid() {
		v = append(v, "run: ErrorMode must be collect or failFast")
	}

	if len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}
