package candles

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"backtest-lab/internal/domain"
)

// csvHeader is the required column order for candle CSV files.
var csvHeader = []string{"asset", "timestamp", "open", "high", "low", "close", "volume"}

// LoadCSV reads candles from a CSV file with the header
// asset,timestamp,open,high,low,close,volume. Timestamps are unix
// seconds. Rows keep file order; ordering per asset is the store's
// concern, not the loader's.
func LoadCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read candles header: %w", err)
	}
	for i, col := range csvHeader {
		if header[i] != col {
			return nil, fmt.Errorf("candles header column %d: want %q, got %q", i, col, header[i])
		}
	}

	var candles []domain.Candle
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candles line %d: %w", line, err)
		}

		c, err := parseCandleRecord(record)
		if err != nil {
			return nil, fmt.Errorf("candles line %d: %w", line, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandleRecord(record []string) (domain.Candle, error) {
	var c domain.Candle
	c.Asset = record[0]
	if c.Asset == "" {
		return c, fmt.Errorf("empty asset")
	}

	ts, err := strconv.ParseInt(record[1], 10, 64)
	if err != nil {
		return c, fmt.Errorf("parse timestamp: %w", err)
	}
	c.Timestamp = ts

	for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
		v, err := strconv.ParseFloat(record[2+i], 64)
		if err != nil {
			return c, fmt.Errorf("parse %s: %w", csvHeader[2+i], err)
		}
		*dst = v
	}
	return c, nil
}
