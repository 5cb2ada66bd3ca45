package domain

// CostConfig calibrates trading costs. All rates are basis points.
// Slippage is already reflected in fill prices by the execution model
// and is not double counted here.
type CostConfig struct {
	TakerFeeBps    float64 // applied on entries
	MakerFeeBps    float64 // applied on exits
	BorrowDailyBps float64 // optional borrow accrual per day held
}

func (c *CostConfig) violations() []string {
	var v []string
	if c.TakerFeeBps < 0 {
		v = append(v, "cost: TakerFeeBps must not be negative")
	}
	if c.MakerFeeBps < 0 {
		v = append(v, "cost: MakerFeeBps must not be negative")
	}
	if c.BorrowDailyBps < 0 {
		v = append(v, "cost: BorrowDailyBps must not be negative")
	}
	return v
}
