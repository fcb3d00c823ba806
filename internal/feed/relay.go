package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// ChangesChannel is the pub/sub channel cache changes are relayed on. Redis
// clients add their key prefix (default "marketsync:").
const ChangesChannel = "changes"

// changeEvent is the JSON shape published to ChangesChannel.
type changeEvent struct {
	Event     string           `json:"event"`
	MarketID  int64            `json:"marketId,omitempty"`
	OrderID   int64            `json:"orderId,omitempty"`
	Address   string           `json:"address,omitempty"`
	Timestamp string           `json:"timestamp"`
	Market    *domain.Market   `json:"market,omitempty"`
	Position  *domain.Position `json:"position,omitempty"`
	Order     *domain.Order    `json:"order,omitempty"`
	Trade     *domain.Trade    `json:"trade,omitempty"`
}

// ChangeRelay publishes every cache change, with the refreshed entity, on a
// SignalBus so out-of-process consumers can refresh.
type ChangeRelay struct {
	cache  domain.EntityCache
	bus    domain.SignalBus
	buffer int
	logger *slog.Logger
}

// NewChangeRelay creates a ChangeRelay.
func NewChangeRelay(cache domain.EntityCache, bus domain.SignalBus, logger *slog.Logger) *ChangeRelay {
	return &ChangeRelay{
		cache:  cache,
		bus:    bus,
		buffer: 256,
		logger: logger.With(slog.String("component", "change_relay")),
	}
}

// Run relays changes until ctx is cancelled.
func (r *ChangeRelay) Run(ctx context.Context) error {
	ch, cancel := r.cache.Subscribe(r.buffer)
	defer cancel()

	r.logger.Info("change relay started", slog.String("channel", ChangesChannel))
	defer r.logger.Info("change relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.publish(ctx, c); err != nil {
				r.logger.Debug("change relay publish failed",
					slog.String("kind", string(c.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (r *ChangeRelay) publish(ctx context.Context, c domain.CacheChange) error {
	payload, err := json.Marshal(r.event(c))
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, ChangesChannel, payload)
}

func (r *ChangeRelay) event(c domain.CacheChange) changeEvent {
	ev := changeEvent{
		Event:     string(c.Kind),
		MarketID:  c.MarketID,
		OrderID:   c.OrderID,
		Address:   c.Address,
		Timestamp: c.At.UTC().Format(time.RFC3339Nano),
	}
	switch c.Kind {
	case domain.ChangeMarket:
		if m, ok := r.cache.GetMarket(c.MarketID); ok {
			ev.Market = &m
		}
	case domain.ChangePosition:
		if p, ok := r.cache.GetPosition(c.MarketID, c.Address); ok {
			ev.Position = &p
		}
	case domain.ChangeOrder:
		if o, ok := r.cache.GetOrder(c.OrderID); ok {
			ev.Order = &o
		}
	case domain.ChangeTrade:
		if ts := r.cache.ListTrades(c.MarketID); len(ts) > 0 {
			ev.Trade = &ts[0]
		}
	}
	return ev
}
