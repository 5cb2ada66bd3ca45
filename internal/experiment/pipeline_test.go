package experiment

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/artifactio"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
)

const testInterval = 60

func testRequest() *domain.SimulationRequest {
	return &domain.SimulationRequest{
		Snapshot: domain.DataSnapshotRef{
			SnapshotID:  "snap-1",
			ContentHash: strings.Repeat("a", 64),
			TimeRange:   domain.TimeRange{Start: 0, End: 5 * testInterval},
			Assets:      []string{"SOL"},
		},
		Strategy: domain.StrategyRef{
			StrategyID: "strat-1",
			Config: domain.StrategyConfig{
				EntryTiming: domain.EntryCallTimeClose,
				StopLoss:    domain.StopLossConfig{Type: domain.StopLossFixed, Percent: 0.5},
			},
		},
		Run: domain.RunConfig{
			Seed:            7,
			IntervalSeconds: testInterval,
			StartingEquity:  1000,
			MaxConcurrency:  1,
			ErrorMode:       domain.ErrorModeCollect,
		},
	}
}

type fixture struct {
	pipeline    *Pipeline
	experiments *memory.ExperimentStore
	artifacts   storage.ArtifactStore
	writer      *artifactio.Writer
}

func seededCandleStore(t *testing.T) *memory.CandleStore {
	t.Helper()

	candleStore := memory.NewCandleStore()
	closes := []float64{100, 102, 104, 106, 108}
	series := make([]domain.Candle, len(closes))
	for i, c := range closes {
		series[i] = domain.Candle{
			Asset:     "SOL",
			Timestamp: int64(i) * testInterval,
			Open:      c, High: c + 1, Low: c - 1, Close: c,
		}
	}
	require.NoError(t, candleStore.InsertBulk(context.Background(), series))
	return candleStore
}

func newFixture(t *testing.T, artifacts storage.ArtifactStore) *fixture {
	t.Helper()

	candleStore := seededCandleStore(t)
	experiments := memory.NewExperimentStore()
	if artifacts == nil {
		artifacts = memory.NewArtifactStore()
	}
	writer := artifactio.NewWriter(t.TempDir())

	return &fixture{
		pipeline: New(Options{
			Ports: Ports{
				Experiments: experiments,
				Artifacts:   artifacts,
				Candles:     candleStore,
			},
			Writer: writer,
			GitSHA: "deadbeef",
		}),
		experiments: experiments,
		artifacts:   artifacts,
		writer:      writer,
	}
}

func TestExecute_HappyPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: testRequest()})
	require.NoError(t, err)

	assert.Equal(t, domain.ExperimentCompleted, res.Experiment.Status)
	assert.Len(t, res.Experiment.ArtifactIDs, 3, "trades, metrics, curves; no diagnostics when empty")
	assert.Len(t, res.Experiment.RunID, 64)

	// Publish order is fixed.
	types := make([]string, 0, 3)
	for _, id := range res.Experiment.ArtifactIDs {
		rec, err := f.artifacts.GetByID(ctx, id)
		require.NoError(t, err)
		types = append(types, rec.ArtifactType)
		assert.Equal(t, "deadbeef", rec.GitCommit)
		assert.FileExists(t, rec.DataPath)
	}
	assert.Equal(t, []string{
		domain.ArtifactTypeTrades,
		domain.ArtifactTypeMetrics,
		domain.ArtifactTypeCurves,
	}, types)

	// The stored record matches what Execute returned.
	stored, err := f.experiments.GetByID(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentCompleted, stored.Status)
	assert.Equal(t, res.Experiment.ArtifactIDs, stored.ArtifactIDs)

	// The manifest carries the per-component hashes.
	require.NotNil(t, res.Artifact)
	m, err := artifactio.ReadManifest(filepath.Join(f.writer.DataDir, res.Experiment.RunID, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, res.Experiment.RunID, m.RunID)
	assert.NotEmpty(t, m.DataSnapshotHash)
	assert.Empty(t, m.RiskModelHash, "no risk model attached")
	assert.NotEmpty(t, res.Artifact.TradeEvents)

	// The whole run reloads from disk, including the request.
	loaded, err := artifactio.LoadRunArtifact(f.writer.DataDir, res.Experiment.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Artifact, loaded)
}

func TestExecute_RepublishDedupes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: testRequest()})
	require.NoError(t, err)

	second, err := f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-2", Request: testRequest()})
	require.NoError(t, err)

	assert.Equal(t, first.Experiment.RunID, second.Experiment.RunID, "same request, same run")
	assert.Equal(t, first.Experiment.ArtifactIDs, second.Experiment.ArtifactIDs,
		"identical logical content must dedup to the same artifacts")
}

func TestExecute_MissingInputsListsAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Execute(ctx, Definition{
		ExperimentID:     "exp-1",
		Request:          testRequest(),
		InputArtifactIDs: []string{"missing-a", "missing-b"},
	})
	require.ErrorIs(t, err, ErrMissingInputs)
	assert.Contains(t, err.Error(), "missing-a")
	assert.Contains(t, err.Error(), "missing-b", "every missing artifact must be reported")

	stored, gerr := f.experiments.GetByID(ctx, "exp-1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.ExperimentFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestExecute_InvalidRequestFailsExperiment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := testRequest()
	req.Run.StartingEquity = 0

	_, err := f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: req})
	require.Error(t, err)

	stored, gerr := f.experiments.GetByID(ctx, "exp-1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.ExperimentFailed, stored.Status)
}

// failingArtifactStore fails publishing a chosen artifact type and
// records supersede calls.
type failingArtifactStore struct {
	storage.ArtifactStore
	failType   string
	superseded []string
}

func (s *failingArtifactStore) Publish(ctx context.Context, in storage.PublishInput) (storage.PublishResult, error) {
	if in.ArtifactType == s.failType {
		return storage.PublishResult{}, errors.New("catalog unavailable")
	}
	return s.ArtifactStore.Publish(ctx, in)
}

func (s *failingArtifactStore) Supersede(ctx context.Context, artifactID, reason string) error {
	s.superseded = append(s.superseded, artifactID)
	return s.ArtifactStore.Supersede(ctx, artifactID, reason)
}

func TestExecute_PublishFailureCompensates(t *testing.T) {
	failing := &failingArtifactStore{
		ArtifactStore: memory.NewArtifactStore(),
		failType:      domain.ArtifactTypeCurves,
	}
	f := newFixture(t, failing)
	ctx := context.Background()

	_, err := f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: testRequest()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog unavailable", "the original error is re-thrown")

	// Trades and metrics were already published; both get superseded.
	require.Len(t, failing.superseded, 2)
	for _, id := range failing.superseded {
		rec, gerr := f.artifacts.GetByID(ctx, id)
		require.NoError(t, gerr)
		assert.True(t, rec.Superseded, "compensation marks, never deletes")
	}

	stored, gerr := f.experiments.GetByID(ctx, "exp-1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.ExperimentFailed, stored.Status)
}

// failingCandleStore errors on one asset's reads.
type failingCandleStore struct {
	storage.CandleStore
	bad string
}

func (s *failingCandleStore) GetByAsset(ctx context.Context, asset string) ([]domain.Candle, error) {
	if asset == s.bad {
		return nil, errors.New("series unavailable")
	}
	return s.CandleStore.GetByAsset(ctx, asset)
}

func TestExecute_FailFastPublishesPartialResult(t *testing.T) {
	ctx := context.Background()
	experiments := memory.NewExperimentStore()
	artifacts := memory.NewArtifactStore()

	pipeline := New(Options{
		Ports: Ports{
			Experiments: experiments,
			Artifacts:   artifacts,
			Candles:     &failingCandleStore{CandleStore: seededCandleStore(t), bad: "BAD"},
		},
		Writer: artifactio.NewWriter(t.TempDir()),
	})

	// Concurrency 1 so SOL completes before BAD aborts the run.
	req := testRequest()
	req.Snapshot.Assets = []string{"SOL", "BAD"}
	req.Run.ErrorMode = domain.ErrorModeFailFast

	_, err := pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: req})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulate")

	// The experiment fails, but the completed instrument's artifacts are
	// published first and recorded on the experiment.
	stored, gerr := experiments.GetByID(ctx, "exp-1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.ExperimentFailed, stored.Status)
	require.Len(t, stored.ArtifactIDs, 3, "trades, metrics, curves from the partial run")

	for _, id := range stored.ArtifactIDs {
		rec, rerr := artifacts.GetByID(ctx, id)
		require.NoError(t, rerr)
		assert.False(t, rec.Superseded)
		assert.FileExists(t, rec.DataPath)
	}
}

func TestExecute_DuplicateExperimentID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: testRequest()})
	require.NoError(t, err)

	_, err = f.pipeline.Execute(ctx, Definition{ExperimentID: "exp-1", Request: testRequest()})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestExecute_NilRequest(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Execute(context.Background(), Definition{ExperimentID: "exp-1"})
	assert.ErrorIs(t, err, ErrNilRequest)
}
