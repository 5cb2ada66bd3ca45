package storage

import (
	"context"

	"backtest-lab/internal/domain"
)

// CandleStore provides access to candle history. It backs the causal
// accessor; the accessor, not the store, enforces the no-look-ahead
// rule, so the store only guarantees ascending order per asset.
type CandleStore interface {
	// InsertBulk adds candles. Fails entire batch on duplicate (asset, timestamp).
	InsertBulk(ctx context.Context, candles []domain.Candle) error

	// GetByAsset retrieves all candles for an asset, ordered by timestamp ASC.
	GetByAsset(ctx context.Context, asset string) ([]domain.Candle, error)

	// GetByTimeRange retrieves candles for an asset within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, asset string, start, end int64) ([]domain.Candle, error)
}

// PublishInput describes one artifact to publish.
type PublishInput struct {
	ArtifactType     string // trades | metrics | curves | diagnostics
	SchemaVersion    int
	LogicalKey       string // stable identity of the content, e.g. runID/type
	DataPath         string // path of the written data file
	InputArtifactIDs []string
	WriterName       string
	WriterVersion    string
	GitCommit        string
	GitDirty         bool
	Params           map[string]string
}

// PublishResult is the outcome of a publish call.
type PublishResult struct {
	ArtifactID string
	Deduped    bool // true when identical logical content already existed
}

// ArtifactRecord is the catalog entry for one published artifact.
// Records are append-only; supersession marks them, never deletes them.
type ArtifactRecord struct {
	ArtifactID       string
	ArtifactType     string
	SchemaVersion    int
	LogicalKey       string
	DataPath         string
	InputArtifactIDs []string
	WriterName       string
	WriterVersion    string
	GitCommit        string
	GitDirty         bool
	Params           map[string]string
	Superseded       bool
	SupersedeReason  string
	CreatedAtISO     string
}

// ArtifactStore is the artifact-publishing port. Implementations must
// deduplicate identical logical content instead of creating duplicates.
type ArtifactStore interface {
	// Publish records an artifact. Re-publishing identical logical
	// content returns the existing artifact ID with Deduped=true.
	Publish(ctx context.Context, in PublishInput) (PublishResult, error)

	// Supersede marks an artifact as replaced. The record stays
	// queryable. Returns ErrNotFound for unknown IDs and ErrSuperseded
	// when already marked.
	Supersede(ctx context.Context, artifactID, reason string) error

	// GetByID retrieves an artifact record. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, artifactID string) (*ArtifactRecord, error)

	// Exists reports whether an artifact ID is known (superseded or not).
	Exists(ctx context.Context, artifactID string) (bool, error)
}

// ExperimentStore provides access to experiment lifecycle records.
type ExperimentStore interface {
	// Insert adds a new experiment. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, e *domain.Experiment) error

	// Update replaces the stored record. Returns ErrNotFound if not exists.
	Update(ctx context.Context, e *domain.Experiment) error

	// GetByID retrieves an experiment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, experimentID string) (*domain.Experiment, error)
}
