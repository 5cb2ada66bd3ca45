package domain

// TradeEventType discriminates trade events. Closed set; every consumer
// must handle all three variants.
type TradeEventType string

// Trade event type constants
const (
	EventEntry   TradeEventType = "entry"
	EventReentry TradeEventType = "reentry"
	EventExit    TradeEventType = "exit"
)

// Valid reports whether t is one of the known event types.
func (t TradeEventType) Valid() bool {
	switch t {
	case EventEntry, EventReentry, EventExit:
		return true
	}
	return false
}

// TradeEvent is one append-only record in an instrument's trade stream.
// Events are ordered by Timestamp within one simulated instrument.
type TradeEvent struct {
	Timestamp    int64  // unix seconds
	TimestampISO string // RFC 3339 rendering of Timestamp (UTC)
	Type         TradeEventType
	Asset        string
	Price        float64 // fill price after slippage
	Quantity     float64 // filled quantity (position fraction units)
	Value        float64 // Price * Quantity
	Fees         float64
	PartialFill  bool
	Failed       bool   // simulated execution failure, no position change
	ExitReason   string // set on exit events only
}

// Exit reason codes
const (
	ExitReasonStopLoss     = "stop_loss"
	ExitReasonProfitTarget = "profit_target"
	ExitReasonTimeStop     = "time_stop"
	ExitReasonIndicator    = "indicator"
	ExitReasonFinal        = "final" // forced exit at end of snapshot range
)

// InstrumentDiagnostic records a per-instrument failure or anomaly note.
// Diagnostics never abort the run in collect mode.
type InstrumentDiagnostic struct {
	Asset     string
	Stage     string // "simulate" | "cancelled" | "anomaly"
	Message   string
	Anomalies []string // anomaly detector flags, if any
}
