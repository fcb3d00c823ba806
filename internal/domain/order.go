package domain

// Order is a resting or historical order placed on a market.
type Order struct {
	ID        int64   `json:"id"`
	MarketID  int64   `json:"marketId"`
	Trader    string  `json:"trader"`
	IsYes     bool    `json:"isYes"`
	Shares    float64 `json:"shares"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Status    string  `json:"status"`
}

// OrderPatch is a partial order update. Nil fields are left untouched.
type OrderPatch struct {
	MarketID  *int64
	Trader    *string
	IsYes     *bool
	Shares    *float64
	Price     *float64
	Timestamp *int64
	Status    *string
}

// Empty reports whether the patch carries no fields.
func (p OrderPatch) Empty() bool {
	return p == OrderPatch{}
}

// Apply returns o with every non-nil field of p merged in.
func (p OrderPatch) Apply(o Order) Order {
	if p.MarketID != nil {
		o.MarketID = *p.MarketID
	}
	if p.Trader != nil {
		o.Trader = *p.Trader
	}
	if p.IsYes != nil {
		o.IsYes = *p.IsYes
	}
	if p.Shares != nil {
		o.Shares = *p.Shares
	}
	if p.Price != nil {
		o.Price = *p.Price
	}
	if p.Timestamp != nil {
		o.Timestamp = *p.Timestamp
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	return o
}
