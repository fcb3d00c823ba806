package domain

// Trade is an immutable fill record. Trades have no identity beyond their
// insertion order in the cache.
type Trade struct {
	MarketID  int64   `json:"marketId"`
	Trader    string  `json:"trader"`
	IsYes     bool    `json:"isYes"`
	Shares    float64 `json:"shares"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	TxHash    string  `json:"txHash"`
}
