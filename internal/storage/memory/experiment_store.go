package memory

import (
	"context"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// ExperimentStore is an in-memory implementation of storage.ExperimentStore.
type ExperimentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Experiment // keyed by experiment_id
}

// NewExperimentStore creates a new in-memory experiment store.
func NewExperimentStore() *ExperimentStore {
	return &ExperimentStore{
		data: make(map[string]*domain.Experiment),
	}
}

// Insert adds a new experiment. Returns ErrDuplicateKey if the ID exists.
func (s *ExperimentStore) Insert(_ context.Context, e *domain.Experiment) error {
	if e == nil || e.ExperimentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ExperimentID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[e.ExperimentID] = copyExperiment(e)
	return nil
}

// Update replaces the stored record. Returns ErrNotFound if not exists.
func (s *ExperimentStore) Update(_ context.Context, e *domain.Experiment) error {
	if e == nil || e.ExperimentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ExperimentID]; !exists {
		return storage.ErrNotFound
	}

	s.data[e.ExperimentID] = copyExperiment(e)
	return nil
}

// GetByID retrieves an experiment. Returns ErrNotFound if not exists.
func (s *ExperimentStore) GetByID(_ context.Context, experimentID string) (*domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[experimentID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyExperiment(e), nil
}

func copyExperiment(e *domain.Experiment) *domain.Experiment {
	cp := *e
	cp.ArtifactIDs = make([]string, len(e.ArtifactIDs))
	copy(cp.ArtifactIDs, e.ArtifactIDs)
	return &cp
}

var _ storage.ExperimentStore = (*ExperimentStore)(nil)
