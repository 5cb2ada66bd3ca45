// Package artifactio writes run outputs to disk: columnar Parquet for
// the high-volume streams (trades, curves) and JSON for the small
// summary documents (metrics, diagnostics, manifest). Files are laid
// out per run: <dataDir>/<runID>/<artifact>.{parquet,json}.
package artifactio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"backtest-lab/internal/domain"
)

// Writer writes run artifacts under a data directory.
type Writer struct {
	DataDir string
}

// NewWriter creates a Writer rooted at the given data directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{DataDir: dataDir}
}

// TradeEventRecord is the Parquet schema for trade event streams.
type TradeEventRecord struct {
	Timestamp   int64   `parquet:"timestamp"`
	Type        string  `parquet:"type"`
	Asset       string  `parquet:"asset"`
	Price       float64 `parquet:"price"`
	Quantity    float64 `parquet:"quantity"`
	Value       float64 `parquet:"value"`
	Fees        float64 `parquet:"fees"`
	PartialFill bool    `parquet:"partial_fill"`
	Failed      bool    `parquet:"failed"`
	ExitReason  string  `parquet:"exit_reason"`
}

// PnLPointRecord is the Parquet schema for equity curves.
type PnLPointRecord struct {
	Timestamp     int64   `parquet:"timestamp"`
	Equity        float64 `parquet:"equity"`
	CumulativePnL float64 `parquet:"cumulative_pnl"`
	OpenPositions int32   `parquet:"open_positions"`
}

// WriteTrades writes the trade event stream and returns the file path.
func (w *Writer) WriteTrades(runID string, events []domain.TradeEvent) (string, error) {
	records := make([]TradeEventRecord, len(events))
	for i, ev := range events {
		records[i] = TradeEventRecord{
			Timestamp:   ev.Timestamp,
			Type:        string(ev.Type),
			Asset:       ev.Asset,
			Price:       ev.Price,
			Quantity:    ev.Quantity,
			Value:       ev.Value,
			Fees:        ev.Fees,
			PartialFill: ev.PartialFill,
			Failed:      ev.Failed,
			ExitReason:  ev.ExitReason,
		}
	}
	return w.writeParquet(runID, domain.ArtifactTypeTrades, records)
}

// WriteCurves writes the PnL series and returns the file path.
func (w *Writer) WriteCurves(runID string, series []domain.PnLPoint) (string, error) {
	records := make([]PnLPointRecord, len(series))
	for i, p := range series {
		records[i] = PnLPointRecord{
			Timestamp:     p.Timestamp,
			Equity:        p.Equity,
			CumulativePnL: p.CumulativePnL,
			OpenPositions: int32(p.OpenPositions),
		}
	}
	return w.writeParquet(runID, domain.ArtifactTypeCurves, records)
}

// runMetricsDoc is the JSON schema for metrics documents. The float
// fields are string-encoded because encoding/json rejects infinities,
// and ProfitFactor is +Inf on runs with wins and no losses.
type runMetricsDoc struct {
	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`
	FailedEvents  int `json:"failed_events"`

	TotalReturn    string `json:"total_return"`
	WinRate        string `json:"win_rate"`
	ProfitFactor   string `json:"profit_factor"`
	MaxDrawdown    string `json:"max_drawdown"`
	Sharpe         string `json:"sharpe"`
	Sortino        string `json:"sortino"`
	TailLoss       string `json:"tail_loss"`
	TotalFees      string `json:"total_fees"`
	FeeSensitivity string `json:"fee_sensitivity"`
}

func encodeMetrics(m domain.RunMetrics) runMetricsDoc {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return runMetricsDoc{
		TotalTrades:    m.TotalTrades,
		WinningTrades:  m.WinningTrades,
		LosingTrades:   m.LosingTrades,
		FailedEvents:   m.FailedEvents,
		TotalReturn:    f(m.TotalReturn),
		WinRate:        f(m.WinRate),
		ProfitFactor:   f(m.ProfitFactor),
		MaxDrawdown:    f(m.MaxDrawdown),
		Sharpe:         f(m.Sharpe),
		Sortino:        f(m.Sortino),
		TailLoss:       f(m.TailLoss),
		TotalFees:      f(m.TotalFees),
		FeeSensitivity: f(m.FeeSensitivity),
	}
}

func decodeMetrics(doc runMetricsDoc) (domain.RunMetrics, error) {
	m := domain.RunMetrics{
		TotalTrades:   doc.TotalTrades,
		WinningTrades: doc.WinningTrades,
		LosingTrades:  doc.LosingTrades,
		FailedEvents:  doc.FailedEvents,
	}

	var err error
	parse := func(name, s string, dst *float64) {
		if err != nil {
			return
		}
		var v float64
		if v, err = strconv.ParseFloat(s, 64); err != nil {
			err = fmt.Errorf("parse %s: %w", name, err)
			return
		}
		*dst = v
	}
	parse("total_return", doc.TotalReturn, &m.TotalReturn)
	parse("win_rate", doc.WinRate, &m.WinRate)
	parse("profit_factor", doc.ProfitFactor, &m.ProfitFactor)
	parse("max_drawdown", doc.MaxDrawdown, &m.MaxDrawdown)
	parse("sharpe", doc.Sharpe, &m.Sharpe)
	parse("sortino", doc.Sortino, &m.Sortino)
	parse("tail_loss", doc.TailLoss, &m.TailLoss)
	parse("total_fees", doc.TotalFees, &m.TotalFees)
	parse("fee_sensitivity", doc.FeeSensitivity, &m.FeeSensitivity)
	return m, err
}

// WriteMetrics writes the run metrics document and returns the file path.
func (w *Writer) WriteMetrics(runID string, m domain.RunMetrics) (string, error) {
	return w.writeJSON(runID, domain.ArtifactTypeMetrics, encodeMetrics(m))
}

// WriteDiagnostics writes the diagnostics document and returns the file path.
func (w *Writer) WriteDiagnostics(runID string, diags []domain.InstrumentDiagnostic) (string, error) {
	return w.writeJSON(runID, domain.ArtifactTypeDiagnostics, diags)
}

// WriteManifest writes the run manifest next to the artifacts.
func (w *Writer) WriteManifest(runID string, m domain.RunManifest) (string, error) {
	return w.writeJSON(runID, "manifest", m)
}

// WriteRequest writes the simulation request next to the manifest, so a
// stored run can be replayed without the original caller.
func (w *Writer) WriteRequest(runID string, req *domain.SimulationRequest) (string, error) {
	return w.writeJSON(runID, "request", req)
}

func (w *Writer) writeParquet(runID, name string, records any) (string, error) {
	path := filepath.Join(w.DataDir, runID, name+".parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	var err error
	switch rs := records.(type) {
	case []TradeEventRecord:
		err = parquet.WriteFile(path, rs)
	case []PnLPointRecord:
		err = parquet.WriteFile(path, rs)
	default:
		err = fmt.Errorf("unsupported record type %T", records)
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func (w *Writer) writeJSON(runID, name string, v any) (string, error) {
	path := filepath.Join(w.DataDir, runID, name+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// ReadTrades reads a trade event stream back from disk.
func ReadTrades(path string) ([]domain.TradeEvent, error) {
	records, err := parquet.ReadFile[TradeEventRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read trades: %w", err)
	}

	events := make([]domain.TradeEvent, len(records))
	for i, r := range records {
		events[i] = domain.TradeEvent{
			Timestamp:    r.Timestamp,
			TimestampISO: time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
			Type:         domain.TradeEventType(r.Type),
			Asset:        r.Asset,
			Price:        r.Price,
			Quantity:     r.Quantity,
			Value:        r.Value,
			Fees:         r.Fees,
			PartialFill:  r.PartialFill,
			Failed:       r.Failed,
			ExitReason:   r.ExitReason,
		}
	}
	return events, nil
}

// ReadCurves reads an equity curve back from disk.
func ReadCurves(path string) ([]domain.PnLPoint, error) {
	records, err := parquet.ReadFile[PnLPointRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read curves: %w", err)
	}

	series := make([]domain.PnLPoint, len(records))
	for i, r := range records {
		series[i] = domain.PnLPoint{
			Timestamp:     r.Timestamp,
			Equity:        r.Equity,
			CumulativePnL: r.CumulativePnL,
			OpenPositions: int(r.OpenPositions),
		}
	}
	return series, nil
}

// ReadManifest reads a run manifest document.
func ReadManifest(path string) (*domain.RunManifest, error) {
	var m domain.RunManifest
	if err := readJSON(path, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

// ReadRequest reads a stored simulation request document.
func ReadRequest(path string) (*domain.SimulationRequest, error) {
	var req domain.SimulationRequest
	if err := readJSON(path, &req); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return &req, nil
}

// ReadMetrics reads a run metrics document.
func ReadMetrics(path string) (domain.RunMetrics, error) {
	var doc runMetricsDoc
	if err := readJSON(path, &doc); err != nil {
		return domain.RunMetrics{}, fmt.Errorf("metrics: %w", err)
	}
	return decodeMetrics(doc)
}

// ReadDiagnostics reads a diagnostics document.
func ReadDiagnostics(path string) ([]domain.InstrumentDiagnostic, error) {
	var diags []domain.InstrumentDiagnostic
	if err := readJSON(path, &diags); err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	return diags, nil
}

// LoadRunArtifact reassembles a stored run from its directory. The
// diagnostics document is optional; everything else must be present.
func LoadRunArtifact(dataDir, runID string) (*domain.RunArtifact, error) {
	dir := filepath.Join(dataDir, runID)

	manifest, err := ReadManifest(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	req, err := ReadRequest(filepath.Join(dir, "request.json"))
	if err != nil {
		return nil, err
	}
	events, err := ReadTrades(filepath.Join(dir, domain.ArtifactTypeTrades+".parquet"))
	if err != nil {
		return nil, err
	}
	series, err := ReadCurves(filepath.Join(dir, domain.ArtifactTypeCurves+".parquet"))
	if err != nil {
		return nil, err
	}
	metrics, err := ReadMetrics(filepath.Join(dir, domain.ArtifactTypeMetrics+".json"))
	if err != nil {
		return nil, err
	}

	artifact := &domain.RunArtifact{
		Manifest:    *manifest,
		Request:     *req,
		TradeEvents: events,
		PnLSeries:   series,
		Metrics:     metrics,
	}

	diagsPath := filepath.Join(dir, domain.ArtifactTypeDiagnostics+".json")
	if _, err := os.Stat(diagsPath); err == nil {
		diags, err := ReadDiagnostics(diagsPath)
		if err != nil {
			return nil, err
		}
		artifact.Diagnostics = diags
	}

	return artifact, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
