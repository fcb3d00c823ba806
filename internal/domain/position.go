package domain

// Position is a user's holding in one market. Identity is the pair
// (MarketID, Address). PnL is stored as delivered.
type Position struct {
	MarketID     int64   `json:"marketId"`
	Address      string  `json:"address"`
	YesShares    float64 `json:"yesShares"`
	NoShares     float64 `json:"noShares"`
	Invested     float64 `json:"invested"`
	CurrentValue float64 `json:"currentValue"`
	PnL          float64 `json:"pnl"`
}

// PositionPatch is a partial position update. Nil fields are left untouched.
type PositionPatch struct {
	YesShares    *float64
	NoShares     *float64
	Invested     *float64
	CurrentValue *float64
	PnL          *float64
}

// Empty reports whether the patch carries no fields.
func (p PositionPatch) Empty() bool {
	return p == PositionPatch{}
}

// Apply returns pos with every non-nil field of p merged in.
func (p PositionPatch) Apply(pos Position) Position {
	if p.YesShares != nil {
		pos.YesShares = *p.YesShares
	}
	if p.NoShares != nil {
		pos.NoShares = *p.NoShares
	}
	if p.Invested != nil {
		pos.Invested = *p.Invested
	}
	if p.CurrentValue != nil {
		pos.CurrentValue = *p.CurrentValue
	}
	if p.PnL != nil {
		pos.PnL = *p.PnL
	}
	return pos
}
