package rules

import "backtest-lab/internal/domain"

// EntryFill locates where an entry lands on the candle grid. Time is
// the unix-second instant of the fill; AtOpen selects which side of
// the candle prices the fill (the open of the candle starting at Time,
// or the close of the candle ending at Time).
type EntryFill struct {
	Time   int64
	AtOpen bool
}

// ResolveEntryFill maps a base signal timestamp through the strategy's
// entry timing rule. The configured lag is added first, then the
// result snaps deterministically to a candle boundary:
//
//	call_time_close:   close of the candle containing the lagged time
//	next_candle_open:  open of the candle after the one containing it
//	next_candle_close: close of that next candle
//
// A lagged time falling exactly on a boundary belongs to the candle
// opening at that instant.
func ResolveEntryFill(timing domain.EntryTiming, baseTime, lagSeconds, intervalSeconds int64) EntryFill {
	t := baseTime + lagSeconds
	open := t - t%intervalSeconds

	switch timing {
	case domain.EntryCallTimeClose:
		return EntryFill{Time: open + intervalSeconds}
	case domain.EntryNextCandleOpen:
		return EntryFill{Time: open + intervalSeconds, AtOpen: true}
	default: // next_candle_close
		return EntryFill{Time: open + 2*intervalSeconds}
	}
}
