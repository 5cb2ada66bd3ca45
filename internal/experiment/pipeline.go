// Package experiment runs the artifact pipeline around a simulation:
// experiment lifecycle bookkeeping, input validation, publishing the
// run's outputs to the artifact catalog in a fixed order, and
// best-effort compensation when publishing fails part way.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backtest-lab/internal/artifactio"
	"backtest-lab/internal/candles"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/simulation"
	"backtest-lab/internal/storage"
)

// Pipeline errors
var (
	ErrMissingInputs = errors.New("referenced input artifacts missing")
	ErrNilRequest    = errors.New("experiment definition carries no request")
)

// manifestSchemaVersion is bumped on incompatible manifest changes.
const manifestSchemaVersion = 1

// Definition describes one experiment to execute.
type Definition struct {
	ExperimentID     string
	Request          *domain.SimulationRequest
	InputArtifactIDs []string // artifacts that must exist before the run
}

// Ports bundles the storage dependencies of the pipeline.
type Ports struct {
	Experiments storage.ExperimentStore
	Artifacts   storage.ArtifactStore
	Candles     storage.CandleStore
}

// Result is the outcome of one executed experiment.
type Result struct {
	Experiment *domain.Experiment
	Artifact   *domain.RunArtifact
}

// Pipeline executes experiments.
type Pipeline struct {
	ports  Ports
	writer *artifactio.Writer
	logger *zap.Logger
	signal func(signal string, c domain.Candle) bool

	gitSHA   string
	gitDirty bool

	now func() time.Time // swappable for tests
}

// Options configures a Pipeline.
type Options struct {
	Ports    Ports
	Writer   *artifactio.Writer
	Logger   *zap.Logger // optional, defaults to a nop logger
	Signal   func(signal string, c domain.Candle) bool
	GitSHA   string
	GitDirty bool
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		ports:    opts.Ports,
		writer:   opts.Writer,
		logger:   logger,
		signal:   opts.Signal,
		gitSHA:   opts.GitSHA,
		gitDirty: opts.GitDirty,
		now:      time.Now,
	}
}

// Execute runs one experiment end to end: pending → running →
// completed, or failed on any error. Output artifacts publish in the
// fixed order trades, metrics, curves, diagnostics; diagnostics only
// when the run produced any. If publishing fails part way, every
// artifact already published in this attempt is marked superseded
// (never deleted) and the original error is returned. Partial
// visibility of superseded artifacts is an accepted limitation: this
// is compensation, not a distributed transaction.
//
// A simulation that aborts part way (failFast, cancellation) but still
// produced results for completed instruments has those results
// published before the experiment is marked failed.
func (p *Pipeline) Execute(ctx context.Context, def Definition) (*Result, error) {
	if def.Request == nil {
		return nil, ErrNilRequest
	}
	started := p.now()

	hashes, err := idhash.ComputeRequestHashes(def.Request)
	if err != nil {
		return nil, fmt.Errorf("hash request: %w", err)
	}
	runID := idhash.ComputeRunID(hashes)

	exp := &domain.Experiment{
		ExperimentID: def.ExperimentID,
		RunID:        runID,
		Status:       domain.ExperimentPending,
		CreatedAtISO: started.UTC().Format(time.RFC3339),
		UpdatedAtISO: started.UTC().Format(time.RFC3339),
	}
	if err := p.ports.Experiments.Insert(ctx, exp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	if err := p.transition(ctx, exp, domain.ExperimentRunning, ""); err != nil {
		return nil, err
	}

	result, err := p.run(ctx, def, exp, hashes, runID, started)
	if err != nil {
		if ferr := p.transition(ctx, exp, domain.ExperimentFailed, err.Error()); ferr != nil {
			p.logger.Error("failed to record experiment failure", zap.Error(ferr))
		}
		observability.RecordExperiment(string(domain.ExperimentFailed), p.now().Sub(started).Seconds())
		return nil, err
	}

	if err := p.transition(ctx, exp, domain.ExperimentCompleted, ""); err != nil {
		return nil, err
	}
	observability.RecordExperiment(string(domain.ExperimentCompleted), p.now().Sub(started).Seconds())
	observability.DefaultMetrics.LastSuccessfulExperiment.Set(float64(p.now().Unix()))

	result.Experiment = exp
	return result, nil
}

// run performs the fallible middle of the pipeline; Execute wraps it
// with lifecycle bookkeeping.
func (p *Pipeline) run(ctx context.Context, def Definition, exp *domain.Experiment, hashes idhash.RequestHashes, runID string, started time.Time) (*Result, error) {
	if err := p.validateInputs(ctx, def.InputArtifactIDs); err != nil {
		return nil, err
	}

	// The queryable projection for this run: a per-run causal view over
	// the candle store, disposed when the run ends.
	accessor := candles.NewStoreAccessor(p.ports.Candles)
	orch, err := simulation.New(simulation.Options{
		Accessor: accessor,
		Signal:   p.signal,
		Logger:   p.logger,
	})
	if err != nil {
		return nil, err
	}

	simStarted := p.now()
	simResult, simErr := orch.Run(ctx, def.Request)
	if simErr != nil && simResult == nil {
		observability.RecordSimulationRun("failed", p.now().Sub(simStarted).Seconds(), 0)
		return nil, fmt.Errorf("simulate: %w", simErr)
	}
	if simErr != nil {
		// A failFast abort or cancellation still carries the events and
		// diagnostics of completed instruments. Publish them so the
		// partial run stays auditable; the experiment is failed below.
		observability.RecordSimulationRun("partial", p.now().Sub(simStarted).Seconds(), len(simResult.Events))
		p.logger.Warn("simulation returned a partial result",
			zap.Int("events", len(simResult.Events)),
			zap.Error(simErr),
		)
	} else {
		observability.RecordSimulationRun("ok", p.now().Sub(simStarted).Seconds(), len(simResult.Events))
	}

	manifest := domain.RunManifest{
		RunID:              runID,
		GitSHA:             p.gitSHA,
		GitDirty:           p.gitDirty,
		DataSnapshotHash:   hashes.Snapshot,
		StrategyConfigHash: hashes.Strategy,
		ExecutionModelHash: hashes.Execution,
		CostModelHash:      hashes.Cost,
		RiskModelHash:      hashes.Risk,
		RunConfigHash:      hashes.RunConfig,
		SimulationTimeMs:   p.now().Sub(simStarted).Milliseconds(),
		SchemaVersion:      manifestSchemaVersion,
	}
	if _, err := p.writer.WriteManifest(runID, manifest); err != nil {
		return nil, err
	}
	if _, err := p.writer.WriteRequest(runID, def.Request); err != nil {
		return nil, err
	}

	artifactIDs, err := p.publishAll(ctx, def, runID, simResult)
	if err != nil {
		return nil, err
	}
	exp.ArtifactIDs = artifactIDs

	result := &Result{
		Artifact: &domain.RunArtifact{
			Manifest:    manifest,
			Request:     *def.Request,
			TradeEvents: simResult.Events,
			PnLSeries:   simResult.Series,
			Metrics:     simResult.Metrics,
			Diagnostics: simResult.Diagnostics,
		},
	}
	if simErr != nil {
		return result, fmt.Errorf("simulate: %w", simErr)
	}
	return result, nil
}

// validateInputs checks every referenced input artifact and reports
// all missing ones at once.
func (p *Pipeline) validateInputs(ctx context.Context, ids []string) error {
	var missing []string
	for _, id := range ids {
		ok, err := p.ports.Artifacts.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("check input artifact %s: %w", id, err)
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingInputs, missing)
	}
	return nil
}

// publishAll writes and publishes the run's outputs in the fixed
// order, compensating already-published artifacts on failure.
func (p *Pipeline) publishAll(ctx context.Context, def Definition, runID string, sim *simulation.Result) ([]string, error) {
	var published []string

	publish := func(artifactType, dataPath string) error {
		res, err := p.ports.Artifacts.Publish(ctx, storage.PublishInput{
			ArtifactType:     artifactType,
			SchemaVersion:    manifestSchemaVersion,
			LogicalKey:       runID + "/" + artifactType,
			DataPath:         dataPath,
			InputArtifactIDs: def.InputArtifactIDs,
			WriterName:       "backtest-lab",
			WriterVersion:    fmt.Sprintf("%d", manifestSchemaVersion),
			GitCommit:        p.gitSHA,
			GitDirty:         p.gitDirty,
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", artifactType, err)
		}
		observability.RecordArtifactPublished(artifactType, res.Deduped)
		published = append(published, res.ArtifactID)
		return nil
	}

	steps := []struct {
		artifactType string
		write        func() (string, error)
		skip         bool
	}{
		{domain.ArtifactTypeTrades, func() (string, error) { return p.writer.WriteTrades(runID, sim.Events) }, false},
		{domain.ArtifactTypeMetrics, func() (string, error) { return p.writer.WriteMetrics(runID, sim.Metrics) }, false},
		{domain.ArtifactTypeCurves, func() (string, error) { return p.writer.WriteCurves(runID, sim.Series) }, false},
		{domain.ArtifactTypeDiagnostics, func() (string, error) { return p.writer.WriteDiagnostics(runID, sim.Diagnostics) }, len(sim.Diagnostics) == 0},
	}

	for _, step := range steps {
		if step.skip {
			continue
		}
		path, err := step.write()
		if err == nil {
			err = publish(step.artifactType, path)
		}
		if err != nil {
			p.compensate(ctx, published)
			return nil, err
		}
	}
	return published, nil
}

// compensate marks every artifact published in this attempt as
// superseded. Best effort: individual failures are logged, never
// escalated, and the records stay queryable.
func (p *Pipeline) compensate(ctx context.Context, published []string) {
	for _, id := range published {
		err := p.ports.Artifacts.Supersede(ctx, id, "publish pipeline failed")
		if err != nil && !errors.Is(err, storage.ErrSuperseded) {
			p.logger.Warn("compensation supersede failed",
				zap.String("artifact_id", id),
				zap.Error(err),
			)
			continue
		}
		observability.RecordArtifactSuperseded()
	}
}

func (p *Pipeline) transition(ctx context.Context, exp *domain.Experiment, status domain.ExperimentStatus, errMsg string) error {
	exp.Status = status
	exp.Error = errMsg
	exp.UpdatedAtISO = p.now().UTC().Format(time.RFC3339)
	if err := p.ports.Experiments.Update(ctx, exp); err != nil {
		return fmt.Errorf("transition experiment to %s: %w", status, err)
	}
	p.logger.Info("experiment transition",
		zap.String("experiment_id", exp.ExperimentID),
		zap.String("run_id", exp.RunID),
		zap.String("status", string(status)),
	)
	return nil
}
