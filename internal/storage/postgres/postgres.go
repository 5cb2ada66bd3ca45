// Package postgres backs the experiment and artifact catalogs. Both
// stores share one Pool and translate driver errors into the storage
// package's sentinel errors at this boundary.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the pgx connection pool behind the catalog stores. Safe for
// concurrent use; stores hold it by reference and never close it.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to the catalog database and verifies it is
// reachable before any store touches it.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// uniqueViolation is the error code raised when an insert collides
// with an existing experiment or artifact primary key; the stores map
// it to storage.ErrDuplicateKey.
const uniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
