package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

type memBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[string][][]byte)
	}
	b.msgs[channel] = append(b.msgs[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs[channel])
}

func (b *memBus) first(channel string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs[channel][0]
}

func TestChangeRelay_PublishesEntity(t *testing.T) {
	h := newHarness(t)
	bus := &memBus{}
	relay := NewChangeRelay(h.cache, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(done)
	}()

	// Give Run a moment to register its listener.
	waitFor(t, "listener", func() bool {
		h.cache.UpsertMarket(domain.Market{ID: 7, Question: "Q", CurrentPrice: 60})
		return bus.count(ChangesChannel) > 0
	})

	var ev struct {
		Event    string         `json:"event"`
		MarketID int64          `json:"marketId"`
		Market   *domain.Market `json:"market"`
	}
	if err := json.Unmarshal(bus.first(ChangesChannel), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != "market" || ev.MarketID != 7 || ev.Market == nil || ev.Market.CurrentPrice != 60 {
		t.Errorf("event = %+v", ev)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
