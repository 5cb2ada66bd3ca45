package clickhouse

import (
	"context"
	"fmt"
	"time"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds candles. Fails entire batch on duplicate (asset, timestamp).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		asset     string
		timestamp int64
	}
	seen := make(map[key]struct{})
	for _, c := range candles {
		k := key{c.Asset, c.Timestamp}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree doesn't enforce uniqueness, so check against existing rows
	for _, c := range candles {
		exists, err := s.exists(ctx, c.Asset, c.Timestamp)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			asset, timestamp, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Asset, c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_candles", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByAsset retrieves all candles for an asset, ordered by timestamp ASC.
func (s *CandleStore) GetByAsset(ctx context.Context, asset string) ([]domain.Candle, error) {
	query := `
		SELECT asset, timestamp, open, high, low, close, volume
		FROM candles
		WHERE asset = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("query by asset: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByTimeRange retrieves candles for an asset within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(ctx context.Context, asset string, start, end int64) ([]domain.Candle, error) {
	query := `
		SELECT asset, timestamp, open, high, low, close, volume
		FROM candles
		WHERE asset = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// exists checks if a candle with the given key exists.
func (s *CandleStore) exists(ctx context.Context, asset string, timestamp int64) (bool, error) {
	query := `
		SELECT count(*) FROM candles
		WHERE asset = ? AND timestamp = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, asset, timestamp).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanCandles scans multiple rows into a slice.
func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle

		err := rows.Scan(
			&c.Asset, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
