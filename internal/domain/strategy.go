package domain

// EntryTiming selects the candle boundary an entry fill snaps to.
type EntryTiming string

// Entry timing constants
const (
	EntryNextCandleOpen  EntryTiming = "next_candle_open"
	EntryNextCandleClose EntryTiming = "next_candle_close"
	EntryCallTimeClose   EntryTiming = "call_time_close"
)

// Valid reports whether t is a known entry timing rule.
func (t EntryTiming) Valid() bool {
	switch t {
	case EntryNextCandleOpen, EntryNextCandleClose, EntryCallTimeClose:
		return true
	}
	return false
}

// StopLossType selects the active stop-loss rule for a position.
type StopLossType string

// Stop-loss type constants
const (
	StopLossFixed     StopLossType = "fixed"     // percent from entry price
	StopLossTrailing  StopLossType = "trailing"  // percent from running peak
	StopLossTime      StopLossType = "time"      // candles elapsed since entry
	StopLossIndicator StopLossType = "indicator" // external signal condition
)

// Valid reports whether t is a known stop-loss type.
func (t StopLossType) Valid() bool {
	switch t {
	case StopLossFixed, StopLossTrailing, StopLossTime, StopLossIndicator:
		return true
	}
	return false
}

// StopLossConfig configures one stop-loss rule. Exactly one rule is
// active per position unless Stacked lists additional rules.
type StopLossConfig struct {
	Type    StopLossType
	Percent float64 // fixed/trailing: distance from reference price
	Candles int     // time: candles elapsed before forced exit
	Signal  string  // indicator: external signal series name
}

// ProfitTarget fires once when the intrabar high reaches
// entryPrice*TargetMultiple, banking PercentOfPosition of the position.
type ProfitTarget struct {
	TargetMultiple    float64 // e.g. 1.5 = +50%
	PercentOfPosition float64 // fraction of the original position in (0,1]
}

// StrategyConfig is the entry/exit rule configuration for one run.
// The artifact pipeline treats it as opaque and only hashes it; the
// rule engine is its sole interpreter.
type StrategyConfig struct {
	EntryTiming     EntryTiming
	EntryLagSeconds int64 // added to the base timestamp before rounding
	ProfitTargets   []ProfitTarget
	StopLoss        StopLossConfig
	Stacked         []StopLossConfig // explicitly stacked extra stops
	AllowReentry    bool
	MaxReentries    int
}

// Violations returns all problems with the strategy config. Exposed
// because the rule engine re-validates at construction time.
func (c *StrategyConfig) Violations() []string { return c.violations() }

func (c *StrategyConfig) violations() []string {
	var v []string
	if !c.EntryTiming.Valid() {
		v = append(v, "strategy: unknown entry timing rule")
	}
	if c.EntryLagSeconds < 0 {
		v = append(v, "strategy: EntryLagSeconds must not be negative")
	}
	if !c.StopLoss.Type.Valid() {
		v = append(v, "strategy: unknown stop-loss type")
	}
	if (c.StopLoss.Type == StopLossFixed || c.StopLoss.Type == StopLossTrailing) && c.StopLoss.Percent <= 0 {
		v = append(v, "strategy: fixed/trailing stop requires positive Percent")
	}
	if c.StopLoss.Type == StopLossTime && c.StopLoss.Candles <= 0 {
		v = append(v, "strategy: time stop requires positive Candles")
	}
	if c.StopLoss.Type == StopLossIndicator && c.StopLoss.Signal == "" {
		v = append(v, "strategy: indicator stop requires Signal")
	}
	prev := 0.0
	total := 0.0
	for _, t := range c.ProfitTargets {
		if t.TargetMultiple <= 1 {
			v = append(v, "strategy: profit target multiple must exceed 1")
		}
		if t.TargetMultiple <= prev {
			v = append(v, "strategy: profit targets must be strictly ascending")
		}
		if t.PercentOfPosition <= 0 || t.PercentOfPosition > 1 {
			v = append(v, "strategy: profit target percent must be in (0,1]")
		}
		prev = t.TargetMultiple
		total += t.PercentOfPosition
	}
	if total > 1+1e-9 {
		v = append(v, "strategy: profit target percents exceed the full position")
	}
	if c.MaxReentries < 0 {
		v = append(v, "strategy: MaxReentries must not be negative")
	}
	return v
}
