package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/storage"
)

// ExperimentStore implements storage.ExperimentStore using PostgreSQL.
type ExperimentStore struct {
	pool *Pool
}

// NewExperimentStore creates a new ExperimentStore.
func NewExperimentStore(pool *Pool) *ExperimentStore {
	return &ExperimentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExperimentStore = (*ExperimentStore)(nil)

// Insert adds a new experiment. Returns ErrDuplicateKey if experiment_id exists.
func (s *ExperimentStore) Insert(ctx context.Context, e *domain.Experiment) error {
	createdAt, err := parseISO(e.CreatedAtISO)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := parseISO(e.UpdatedAtISO)
	if err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}

	query := `
		INSERT INTO experiments (
			experiment_id, run_id, status, artifact_ids, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	start := time.Now()
	_, err = s.pool.Exec(ctx, query,
		e.ExperimentID, e.RunID, string(e.Status), e.ArtifactIDs, e.Error,
		createdAt, updatedAt,
	)
	observability.RecordDBQuery("postgres", "insert_experiment", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// Update replaces the stored record. Returns ErrNotFound if not exists.
func (s *ExperimentStore) Update(ctx context.Context, e *domain.Experiment) error {
	updatedAt, err := parseISO(e.UpdatedAtISO)
	if err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}

	query := `
		UPDATE experiments
		SET run_id = $2, status = $3, artifact_ids = $4, error = $5, updated_at = $6
		WHERE experiment_id = $1
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query,
		e.ExperimentID, e.RunID, string(e.Status), e.ArtifactIDs, e.Error, updatedAt,
	)
	observability.RecordDBQuery("postgres", "update_experiment", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an experiment by its ID. Returns ErrNotFound if not exists.
func (s *ExperimentStore) GetByID(ctx context.Context, experimentID string) (*domain.Experiment, error) {
	query := `
		SELECT experiment_id, run_id, status, artifact_ids, error, created_at, updated_at
		FROM experiments
		WHERE experiment_id = $1
	`

	row := s.pool.QueryRow(ctx, query, experimentID)
	e, err := scanExperiment(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get experiment by id: %w", err)
	}
	return e, nil
}

// GetByStatus retrieves all experiments in a given lifecycle state,
// oldest first.
func (s *ExperimentStore) GetByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	query := `
		SELECT experiment_id, run_id, status, artifact_ids, error, created_at, updated_at
		FROM experiments
		WHERE status = $1
		ORDER BY created_at ASC, experiment_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("get experiments by status: %w", err)
	}
	defer rows.Close()

	var experiments []*domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment row: %w", err)
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiment rows: %w", err)
	}
	return experiments, nil
}

// scanExperiment scans a single row into an Experiment.
func scanExperiment(row pgx.Row) (*domain.Experiment, error) {
	var (
		e         domain.Experiment
		status    string
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(
		&e.ExperimentID, &e.RunID, &status, &e.ArtifactIDs, &e.Error,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.ExperimentStatus(status)
	e.CreatedAtISO = formatISO(createdAt)
	e.UpdatedAtISO = formatISO(updatedAt)
	return &e, nil
}

// parseISO converts the domain's RFC3339 strings into timestamps for
// TIMESTAMPTZ columns. Empty strings map to the zero time.
func parseISO(iso string) (time.Time, error) {
	if iso == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, iso)
}

func formatISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
