package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backtest-lab/internal/observability"
	"backtest-lab/internal/storage"
)

// ArtifactStore implements storage.ArtifactStore using PostgreSQL.
//
// The artifact ID is the content key of the publish input, so identical
// logical content republished from anywhere lands on the same row. The
// catalog is append-only: supersession flips a flag, rows are never
// deleted.
type ArtifactStore struct {
	pool *Pool

	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

// NewArtifactStore creates a new ArtifactStore.
func NewArtifactStore(pool *Pool) *ArtifactStore {
	return &ArtifactStore{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ storage.ArtifactStore = (*ArtifactStore)(nil)

// Publish records an artifact. Re-publishing identical logical content
// returns the existing artifact ID with Deduped=true.
func (s *ArtifactStore) Publish(ctx context.Context, in storage.PublishInput) (storage.PublishResult, error) {
	if in.ArtifactType == "" || in.LogicalKey == "" {
		return storage.PublishResult{}, storage.ErrInvalidInput
	}

	artifactID := in.ContentKey()

	params, err := json.Marshal(in.Params)
	if err != nil {
		return storage.PublishResult{}, fmt.Errorf("marshal params: %w", err)
	}

	// ON CONFLICT DO NOTHING makes republishing idempotent: zero rows
	// affected means the content key already existed.
	query := `
		INSERT INTO artifacts (
			artifact_id, artifact_type, schema_version, logical_key, data_path,
			input_artifact_ids, writer_name, writer_version, git_commit, git_dirty,
			params, superseded, supersede_reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, FALSE, '', $12
		)
		ON CONFLICT (artifact_id) DO NOTHING
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query,
		artifactID, in.ArtifactType, in.SchemaVersion, in.LogicalKey, in.DataPath,
		in.InputArtifactIDs, in.WriterName, in.WriterVersion, in.GitCommit, in.GitDirty,
		params, s.now().UTC(),
	)
	observability.RecordDBQuery("postgres", "publish_artifact", time.Since(start).Seconds(), err)
	if err != nil {
		return storage.PublishResult{}, fmt.Errorf("publish artifact: %w", err)
	}

	return storage.PublishResult{
		ArtifactID: artifactID,
		Deduped:    tag.RowsAffected() == 0,
	}, nil
}

// Supersede marks an artifact as replaced. The record stays queryable.
// Returns ErrNotFound for unknown IDs and ErrSuperseded when already marked.
func (s *ArtifactStore) Supersede(ctx context.Context, artifactID, reason string) error {
	query := `
		UPDATE artifacts
		SET superseded = TRUE, supersede_reason = $2
		WHERE artifact_id = $1 AND NOT superseded
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, artifactID, reason)
	observability.RecordDBQuery("postgres", "supersede_artifact", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("supersede artifact: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the artifact is unknown or already superseded.
	exists, err := s.Exists(ctx, artifactID)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrSuperseded
}

// GetByID retrieves an artifact record. Returns ErrNotFound if not exists.
func (s *ArtifactStore) GetByID(ctx context.Context, artifactID string) (*storage.ArtifactRecord, error) {
	query := `
		SELECT
			artifact_id, artifact_type, schema_version, logical_key, data_path,
			input_artifact_ids, writer_name, writer_version, git_commit, git_dirty,
			params, superseded, supersede_reason, created_at
		FROM artifacts
		WHERE artifact_id = $1
	`

	var (
		rec       storage.ArtifactRecord
		params    []byte
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, artifactID).Scan(
		&rec.ArtifactID, &rec.ArtifactType, &rec.SchemaVersion, &rec.LogicalKey, &rec.DataPath,
		&rec.InputArtifactIDs, &rec.WriterName, &rec.WriterVersion, &rec.GitCommit, &rec.GitDirty,
		&params, &rec.Superseded, &rec.SupersedeReason, &createdAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get artifact by id: %w", err)
	}

	if err := json.Unmarshal(params, &rec.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	rec.CreatedAtISO = formatISO(createdAt)
	return &rec, nil
}

// Exists reports whether an artifact ID is known (superseded or not).
func (s *ArtifactStore) Exists(ctx context.Context, artifactID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM artifacts WHERE artifact_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, artifactID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check artifact exists: %w", err)
	}
	return exists, nil
}
