package domain

import (
	"context"
	"time"
)

// ChangeKind tags a cache mutation.
type ChangeKind string

const (
	ChangeMarket   ChangeKind = "market"
	ChangePosition ChangeKind = "position"
	ChangeTrade    ChangeKind = "trade"
	ChangeOrder    ChangeKind = "order"
	ChangeReset    ChangeKind = "reset"
)

// CacheChange describes one applied mutation. Only the identifying fields
// for Kind are set.
type CacheChange struct {
	Kind     ChangeKind `json:"kind"`
	MarketID int64      `json:"marketId,omitempty"`
	OrderID  int64      `json:"orderId,omitempty"`
	Address  string     `json:"address,omitempty"`
	At       time.Time  `json:"at"`
}

// CacheStats summarizes cache contents.
type CacheStats struct {
	Markets   int `json:"markets"`
	Positions int `json:"positions"`
	Trades    int `json:"trades"`
	Orders    int `json:"orders"`
}

// EntityCache is the authoritative in-process store of synced entities.
// Mutations are total: unknown ids on patch are ignored.
type EntityCache interface {
	UpsertMarket(m Market)
	PatchMarket(id int64, p MarketPatch) bool
	PatchPosition(marketID int64, address string, p PositionPatch)
	AppendTrade(t Trade)
	UpsertOrder(o Order)
	PatchOrder(id int64, p OrderPatch) bool

	GetMarket(id int64) (Market, bool)
	GetPosition(marketID int64, address string) (Position, bool)
	GetOrder(id int64) (Order, bool)
	ListMarkets() []Market
	ListActiveMarkets() []Market
	ListTrades(marketID int64) []Trade
	ListOrders(marketID int64) []Order
	ListPositions(address string) []Position
	Stats() CacheStats

	Subscribe(buffer int) (<-chan CacheChange, func())
	Reset()
}

// SignalBus provides fire-and-forget pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
