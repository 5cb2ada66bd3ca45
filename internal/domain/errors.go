package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed request or config. It carries the
// full list of violations so callers surface everything at once; a
// request failing validation is rejected before any simulation work and
// is never retried.
type ValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// CausalityViolation reports an internal invariant breach in the causal
// accessor. It must be unreachable in correct code and is treated as a
// fatal assertion failure, never a recoverable runtime condition.
type CausalityViolation struct {
	Asset        string
	DecisionTime int64
	CandleClose  int64
}

// Error implements the error interface.
func (e *CausalityViolation) Error() string {
	return fmt.Sprintf("causality violation: asset %s candle closing at %d returned for decision time %d",
		e.Asset, e.CandleClose, e.DecisionTime)
}
