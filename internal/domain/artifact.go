package domain

// RunManifest carries everything a downstream consumer needs to audit
// or replay one run. All hashes are SHA-256 hex over canonical JSON.
type RunManifest struct {
	RunID              string
	GitSHA             string
	GitDirty           bool
	DataSnapshotHash   string
	StrategyConfigHash string
	ExecutionModelHash string
	CostModelHash      string
	RiskModelHash      string // empty when no risk model was attached
	RunConfigHash      string
	SimulationTimeMs   int64 // wall-clock duration, metadata only
	SchemaVersion      int
}

// RunArtifact is the immutable output of one successful run. Once
// published its constituents are never mutated in place; corrections
// create a new run with a new RunID and supersede the old one.
type RunArtifact struct {
	Manifest    RunManifest
	Request     SimulationRequest
	TradeEvents []TradeEvent
	PnLSeries   []PnLPoint
	Metrics     RunMetrics
	Diagnostics []InstrumentDiagnostic
}

// ExperimentStatus is the lifecycle state of an experiment record.
type ExperimentStatus string

// Experiment status constants
const (
	ExperimentPending   ExperimentStatus = "pending"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentFailed    ExperimentStatus = "failed"
)

// Experiment records one pipeline execution and the artifacts it
// produced, in publish order.
type Experiment struct {
	ExperimentID string
	RunID        string
	Status       ExperimentStatus
	ArtifactIDs  []string // trades, metrics, curves, diagnostics
	Error        string   // set when Status is failed
	CreatedAtISO string
	UpdatedAtISO string
}

// Published artifact type constants, in their fixed publish order.
const (
	ArtifactTypeTrades      = "trades"
	ArtifactTypeMetrics     = "metrics"
	ArtifactTypeCurves      = "curves"
	ArtifactTypeDiagnostics = "diagnostics"
)
