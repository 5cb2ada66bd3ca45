package verification

import (
	"context"
	"errors"

	"backtest-lab/internal/candles"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/rules"
	"backtest-lab/internal/simulation"
	"backtest-lab/internal/storage"
)

// Verifier errors
var (
	ErrNoArtifact = errors.New("run artifact is required")
)

// ReplayVerifier re-simulates stored runs against the current candle
// store and engine code.
type ReplayVerifier struct {
	candleStore storage.CandleStore
	signal      rules.SignalFunc
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	CandleStore storage.CandleStore
	Signal      rules.SignalFunc // must match the signal used for the original run
}

// NewReplayVerifier creates a ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		candleStore: opts.CandleStore,
		signal:      opts.Signal,
	}
}

// VerifyRun replays a stored run artifact and compares outputs.
//
// Three independent checks feed the result: the manifest's RunID must
// equal the one recomputed from the stored request (a mismatch means
// the artifact was tampered with or hashed by incompatible code), and
// the replayed trade events and metrics must match the stored ones.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, artifact *domain.RunArtifact) (*VerificationResult, error) {
	if artifact == nil {
		return nil, ErrNoArtifact
	}

	result := &VerificationResult{RunID: artifact.Manifest.RunID}

	hashes, err := idhash.ComputeRequestHashes(&artifact.Request)
	if err != nil {
		return nil, err
	}
	if recomputed := idhash.ComputeRunID(hashes); recomputed != artifact.Manifest.RunID {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "Manifest.RunID",
			Expected: artifact.Manifest.RunID,
			Actual:   recomputed,
		})
	}

	orch, err := simulation.New(simulation.Options{
		Accessor: candles.NewStoreAccessor(v.candleStore),
		Signal:   v.signal,
	})
	if err != nil {
		return nil, err
	}
	replayed, err := orch.Run(ctx, &artifact.Request)
	if err != nil {
		return nil, err
	}

	result.Divergences = append(result.Divergences, CompareEvents(artifact.TradeEvents, replayed.Events)...)
	result.Divergences = append(result.Divergences, CompareMetrics(artifact.Metrics, replayed.Metrics)...)
	result.Match = len(result.Divergences) == 0
	return result, nil
}
