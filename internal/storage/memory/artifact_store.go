package memory

import (
	"context"
	"sync"
	"time"

	"backtest-lab/internal/storage"
)

// ArtifactStore is an in-memory implementation of storage.ArtifactStore.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string]*storage.ArtifactRecord // keyed by artifact_id (content key)

	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		data: make(map[string]*storage.ArtifactRecord),
		now:  time.Now,
	}
}

// Publish records an artifact. Re-publishing identical logical content
// returns the existing artifact ID with Deduped=true.
func (s *ArtifactStore) Publish(_ context.Context, in storage.PublishInput) (storage.PublishResult, error) {
	if in.ArtifactType == "" || in.LogicalKey == "" {
		return storage.PublishResult{}, storage.ErrInvalidInput
	}

	artifactID := in.ContentKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[artifactID]; exists {
		return storage.PublishResult{ArtifactID: artifactID, Deduped: true}, nil
	}

	s.data[artifactID] = in.Record(artifactID, s.now().UTC().Format(time.RFC3339))
	return storage.PublishResult{ArtifactID: artifactID, Deduped: false}, nil
}

// Supersede marks an artifact as replaced. The record stays queryable.
func (s *ArtifactStore) Supersede(_ context.Context, artifactID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[artifactID]
	if !exists {
		return storage.ErrNotFound
	}
	if rec.Superseded {
		return storage.ErrSuperseded
	}

	rec.Superseded = true
	rec.SupersedeReason = reason
	return nil
}

// GetByID retrieves an artifact record. Returns ErrNotFound if not exists.
func (s *ArtifactStore) GetByID(_ context.Context, artifactID string) (*storage.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[artifactID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

// Exists reports whether an artifact ID is known.
func (s *ArtifactStore) Exists(_ context.Context, artifactID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[artifactID]
	return exists, nil
}

var _ storage.ArtifactStore = (*ArtifactStore)(nil)
