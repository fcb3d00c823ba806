// Package memory implements the in-process entity cache.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// DefaultTradeCapacity is the number of trades retained across all markets.
const DefaultTradeCapacity = 100

type positionKey struct {
	marketID int64
	address  string
}

// Store is a mutex-guarded entity cache. Every accessor returns copies, so
// callers never observe a write in progress.
type Store struct {
	mu        sync.RWMutex
	markets   map[int64]domain.Market
	positions map[positionKey]domain.Position
	orders    map[int64]domain.Order
	trades    *tradeRing

	lmu       sync.Mutex
	listeners map[int]chan domain.CacheChange
	nextID    int

	now func() time.Time
}

var _ domain.EntityCache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp change notifications.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty cache retaining at most tradeCapacity trades. A
// non-positive capacity selects DefaultTradeCapacity.
func New(tradeCapacity int, opts ...Option) *Store {
	if tradeCapacity <= 0 {
		tradeCapacity = DefaultTradeCapacity
	}
	s := &Store{
		markets:   make(map[int64]domain.Market),
		positions: make(map[positionKey]domain.Position),
		orders:    make(map[int64]domain.Order),
		trades:    newTradeRing(tradeCapacity),
		listeners: make(map[int]chan domain.CacheChange),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UpsertMarket inserts or replaces a market.
func (s *Store) UpsertMarket(m domain.Market) {
	s.mu.Lock()
	s.markets[m.ID] = m
	s.mu.Unlock()
	s.notify(domain.CacheChange{Kind: domain.ChangeMarket, MarketID: m.ID})
}

// PatchMarket merges p into an existing market. It reports false and does
// nothing when the id is unknown.
func (s *Store) PatchMarket(id int64, p domain.MarketPatch) bool {
	s.mu.Lock()
	m, ok := s.markets[id]
	if ok {
		s.markets[id] = p.Apply(m)
	}
	s.mu.Unlock()
	if ok {
		s.notify(domain.CacheChange{Kind: domain.ChangeMarket, MarketID: id})
	}
	return ok
}

// PatchPosition merges p into the position, creating it on first sight.
func (s *Store) PatchPosition(marketID int64, address string, p domain.PositionPatch) {
	k := positionKey{marketID: marketID, address: normalizeAddress(address)}
	s.mu.Lock()
	pos, ok := s.positions[k]
	if !ok {
		pos = domain.Position{MarketID: marketID, Address: address}
	}
	s.positions[k] = p.Apply(pos)
	s.mu.Unlock()
	s.notify(domain.CacheChange{Kind: domain.ChangePosition, MarketID: marketID, Address: address})
}

// AppendTrade records a trade, evicting the oldest once capacity is reached.
func (s *Store) AppendTrade(t domain.Trade) {
	s.mu.Lock()
	s.trades.push(t)
	s.mu.Unlock()
	s.notify(domain.CacheChange{Kind: domain.ChangeTrade, MarketID: t.MarketID})
}

// UpsertOrder inserts or replaces an order.
func (s *Store) UpsertOrder(o domain.Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
	s.notify(domain.CacheChange{Kind: domain.ChangeOrder, OrderID: o.ID, MarketID: o.MarketID})
}

// PatchOrder merges p into an existing order; unknown ids are ignored.
func (s *Store) PatchOrder(id int64, p domain.OrderPatch) bool {
	s.mu.Lock()
	o, ok := s.orders[id]
	if ok {
		o = p.Apply(o)
		s.orders[id] = o
	}
	s.mu.Unlock()
	if ok {
		s.notify(domain.CacheChange{Kind: domain.ChangeOrder, OrderID: id, MarketID: o.MarketID})
	}
	return ok
}

func (s *Store) GetMarket(id int64) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	return m, ok
}

// GetPosition looks up a position. A miss does not create an entry.
func (s *Store) GetPosition(marketID int64, address string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey{marketID: marketID, address: normalizeAddress(address)}]
	return p, ok
}

func (s *Store) GetOrder(id int64) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// ListMarkets returns every market, newest createdAt first.
func (s *Store) ListMarkets() []domain.Market {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// ListActiveMarkets returns Active markets, highest totalVolume first.
func (s *Store) ListActiveMarkets() []domain.Market {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if m.Status == domain.MarketStatusActive {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalVolume != out[j].TotalVolume {
			return out[i].TotalVolume > out[j].TotalVolume
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListTrades returns the retained trades of a market, newest first.
func (s *Store) ListTrades(marketID int64) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	s.trades.each(func(t domain.Trade) {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	})
	return out
}

// RecentTrades returns every retained trade, newest first.
func (s *Store) RecentTrades() []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Trade, 0, s.trades.len())
	s.trades.each(func(t domain.Trade) { out = append(out, t) })
	return out
}

// ListOrders returns the orders of a market ordered by timestamp, newest first.
func (s *Store) ListOrders(marketID int64) []domain.Order {
	s.mu.RLock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// ListPositions returns every position held by address, ordered by market id.
func (s *Store) ListPositions(address string) []domain.Position {
	addr := normalizeAddress(address)
	s.mu.RLock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.address == addr {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

func (s *Store) Stats() domain.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CacheStats{
		Markets:   len(s.markets),
		Positions: len(s.positions),
		Trades:    s.trades.len(),
		Orders:    len(s.orders),
	}
}

// Reset drops all cached state. Listeners stay registered and receive a
// reset change.
func (s *Store) Reset() {
	s.mu.Lock()
	s.markets = make(map[int64]domain.Market)
	s.positions = make(map[positionKey]domain.Position)
	s.orders = make(map[int64]domain.Order)
	s.trades = newTradeRing(s.trades.capacity())
	s.mu.Unlock()
	s.notify(domain.CacheChange{Kind: domain.ChangeReset})
}

// Subscribe registers a change listener with the given channel buffer.
// Changes are dropped for a listener whose buffer is full. The returned func
// unregisters the listener and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan domain.CacheChange, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan domain.CacheChange, buffer)

	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = ch
	s.lmu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
			close(ch)
		})
	}
}

// notify must be called without s.mu held.
func (s *Store) notify(c domain.CacheChange) {
	c.At = s.now()
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- c:
		default:
		}
	}
}

// Addresses are compared case-insensitively so checksummed and lowercase
// forms address the same position.
func normalizeAddress(a string) string {
	return strings.ToLower(a)
}
