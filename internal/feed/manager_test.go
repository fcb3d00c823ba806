package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func marketKey(id int64) domain.SubscriptionKey {
	return domain.SubscriptionKey{Kind: domain.KindMarket, ID: id}
}

func TestManager_ReferenceCounting(t *testing.T) {
	h := newHarness(t)
	key := marketKey(7)
	stream, _ := h.deriver.ForKey(key)

	h1, err := h.mgr.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	h2, err := h.mgr.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if h1.ID() == h2.ID() {
		t.Error("handles should have distinct ids")
	}
	waitFor(t, "active", func() bool { return h.mgr.State(key) == StateActive })

	if got := h.fake.Subscribed(stream); got != 1 {
		t.Fatalf("expected 1 subscribe, got %d", got)
	}

	h1.Release()
	if got := h.fake.Detached(stream); got != 0 {
		t.Fatalf("detach called with a consumer remaining: %d", got)
	}
	if h.mgr.State(key) != StateActive {
		t.Error("subscription should stay active while referenced")
	}

	h2.Release()
	h2.Release()
	h1.Release()
	if got := h.fake.Detached(stream); got != 1 {
		t.Fatalf("expected exactly 1 detach, got %d", got)
	}
	if h.mgr.State(key) != StateIdle {
		t.Errorf("state = %s, want idle", h.mgr.State(key))
	}
	if len(h.mgr.Keys()) != 0 {
		t.Error("released key still listed")
	}
}

func TestManager_MarketDeltaEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.cache.UpsertMarket(domain.Market{
		ID: 7, Question: "Will it ship?", Creator: "0xabc", TotalVolume: 100, Status: domain.MarketStatusActive,
	})
	h.clock.Advance(30 * time.Second)
	if h.conn.Quality() != domain.QualityPoor {
		t.Fatalf("precondition: quality = %s, want poor", h.conn.Quality())
	}

	key := marketKey(7)
	stream, _ := h.deriver.ForKey(key)
	handle, err := h.mgr.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer handle.Release()
	waitFor(t, "active", func() bool { return h.mgr.State(key) == StateActive })

	n := h.fake.Deliver(stream, domain.Record{
		"totalYesShares": 120,
		"totalNoShares":  80,
		"totalVolume":    5000,
		"currentPrice":   60,
	})
	if n != 1 {
		t.Fatalf("delivered to %d handlers, want 1", n)
	}

	m, ok := h.cache.GetMarket(7)
	if !ok {
		t.Fatal("market 7 missing")
	}
	if m.TotalYesShares != 120 || m.TotalNoShares != 80 || m.TotalVolume != 5000 || m.CurrentPrice != 60 {
		t.Errorf("delta not applied: %+v", m)
	}
	if m.Question != "Will it ship?" || m.Creator != "0xabc" || m.Status != domain.MarketStatusActive {
		t.Errorf("prior fields changed: %+v", m)
	}
	if !h.conn.IsConnected() {
		t.Error("isConnected should be true after an applied record")
	}
	if q := h.conn.Quality(); q != domain.QualityGood {
		t.Errorf("quality = %s, want good", q)
	}
}

func TestManager_SilenceDegradesQualityOnly(t *testing.T) {
	h := newHarness(t)
	h.cache.UpsertMarket(domain.Market{ID: 7, Question: "Q"})

	key := marketKey(7)
	stream, _ := h.deriver.ForKey(key)
	handle, _ := h.mgr.Acquire(key)
	defer handle.Release()
	waitFor(t, "active", func() bool { return h.mgr.State(key) == StateActive })

	h.fake.Deliver(stream, domain.Record{"currentPrice": 55})
	if !h.conn.IsConnected() {
		t.Fatal("expected connected after delivery")
	}

	h.clock.Advance(20 * time.Second)
	if q := h.conn.Quality(); q != domain.QualityPoor {
		t.Errorf("quality after 20s = %s, want poor", q)
	}
	if !h.conn.IsConnected() {
		t.Error("poor quality must not clear isConnected")
	}
}

func TestManager_ReleaseBeforeAttachDiscardsRecords(t *testing.T) {
	h := newHarness(t)
	h.fake.HoldAttaches(true)
	h.fake.IgnoreCancellation(true)
	h.cache.UpsertMarket(domain.Market{ID: 7, Question: "Q", CurrentPrice: 50})

	key := marketKey(7)
	stream, _ := h.deriver.ForKey(key)
	handle, err := h.mgr.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	waitFor(t, "pending attach", func() bool { return h.fake.Pending(stream) == 1 })
	if h.mgr.State(key) != StateAttaching {
		t.Fatalf("state = %s, want attaching", h.mgr.State(key))
	}

	handle.Release()
	if !h.fake.Resolve(stream) {
		t.Fatal("no pending attach to resolve")
	}
	h.fake.Deliver(stream, domain.Record{"currentPrice": 99})

	waitFor(t, "late detach", func() bool { return h.fake.Detached(stream) == 1 })
	h.fake.Deliver(stream, domain.Record{"currentPrice": 98})

	if m, _ := h.cache.GetMarket(7); m.CurrentPrice != 50 {
		t.Errorf("record from a released subscription was applied: price %v", m.CurrentPrice)
	}
	if h.fake.Live(stream) != 0 {
		t.Error("handler still attached after late detach")
	}
	if h.conn.IsConnected() {
		t.Error("discarded records must not mark the connection live")
	}
}

func TestManager_ReleaseCancelsPendingAttach(t *testing.T) {
	h := newHarness(t)
	h.fake.HoldAttaches(true)

	key := marketKey(3)
	stream, _ := h.deriver.ForKey(key)
	handle, _ := h.mgr.Acquire(key)
	waitFor(t, "pending attach", func() bool { return h.fake.Pending(stream) == 1 })

	handle.Release()
	waitFor(t, "cancelled attach", func() bool { return h.fake.Pending(stream) == 0 })

	if st := h.mgr.Stats(); st.Failures != 0 {
		t.Errorf("cancelled attach counted as failure: %d", st.Failures)
	}
	if len(h.alerter.events()) != 0 {
		t.Errorf("unexpected alerts: %v", h.alerter.events())
	}
}

func TestManager_AttachFailure(t *testing.T) {
	h := newHarness(t)
	h.conn.Touch()
	h.fake.FailSubscribes(errors.New("transport down"))

	key := marketKey(9)
	stream, _ := h.deriver.ForKey(key)
	handle, err := h.mgr.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire should not fail synchronously: %v", err)
	}
	defer handle.Release()

	waitFor(t, "failure", func() bool { return !h.conn.IsConnected() })
	if h.mgr.State(key) != StateIdle {
		t.Errorf("state = %s, want idle", h.mgr.State(key))
	}
	if st := h.mgr.Stats(); st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}
	waitFor(t, "alert", func() bool { return len(h.alerter.events()) == 1 })
	if ev := h.alerter.events()[0]; ev != EventSubscribeFailed {
		t.Errorf("alert = %s, want %s", ev, EventSubscribeFailed)
	}
	if got := h.fake.Subscribed(stream); got != 1 {
		t.Errorf("manager retried: %d subscribes", got)
	}

	// A fresh request re-subscribes from scratch.
	h.fake.FailSubscribes(nil)
	again, err := h.mgr.Acquire(key)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer again.Release()
	waitFor(t, "active", func() bool { return h.mgr.State(key) == StateActive })
	if got := h.fake.Subscribed(stream); got != 2 {
		t.Errorf("expected 2 subscribes, got %d", got)
	}
}

func TestManager_NoApplyAfterRelease(t *testing.T) {
	h := newHarness(t)
	h.cache.UpsertMarket(domain.Market{ID: 7, Question: "Q", CurrentPrice: 10})

	key := marketKey(7)
	stream, _ := h.deriver.ForKey(key)
	handle, _ := h.mgr.Acquire(key)
	waitFor(t, "active", func() bool { return h.mgr.State(key) == StateActive })

	h.fake.Deliver(stream, domain.Record{"currentPrice": 20})
	handle.Release()
	if n := h.fake.Deliver(stream, domain.Record{"currentPrice": 30}); n != 0 {
		t.Errorf("delivered to %d handlers after release", n)
	}
	if m, _ := h.cache.GetMarket(7); m.CurrentPrice != 20 {
		t.Errorf("price = %v, want last applied 20", m.CurrentPrice)
	}
}

func TestManager_PositionKeyNormalizesAddress(t *testing.T) {
	h := newHarness(t)
	lower := domain.SubscriptionKey{Kind: domain.KindPosition, ID: 7, Address: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"}
	upper := domain.SubscriptionKey{Kind: domain.KindPosition, ID: 7, Address: "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"}

	a, _ := h.mgr.Acquire(lower)
	b, _ := h.mgr.Acquire(upper)
	defer a.Release()
	defer b.Release()

	if got := len(h.mgr.Keys()); got != 1 {
		t.Fatalf("expected 1 shared key, got %d", got)
	}
	stream, _ := h.deriver.ForKey(a.Key())
	waitFor(t, "active", func() bool { return h.mgr.State(a.Key()) == StateActive })

	h.fake.Deliver(stream, domain.Record{"yesShares": "12.5", "pnl": -3})
	p, ok := h.cache.GetPosition(7, lower.Address)
	if !ok {
		t.Fatal("position not created by first delta")
	}
	if p.YesShares != 12.5 || p.PnL != -3 {
		t.Errorf("position = %+v", p)
	}
}

func TestManager_InvalidKey(t *testing.T) {
	h := newHarness(t)
	if _, err := h.mgr.Acquire(domain.SubscriptionKey{Kind: domain.KindPosition, ID: 1}); !errors.Is(err, domain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	stream, _ := h.deriver.Market(1)
	h1, _ := h.mgr.Acquire(marketKey(1))
	waitFor(t, "active", func() bool { return h.mgr.State(marketKey(1)) == StateActive })

	h.mgr.Close()
	if got := h.fake.Detached(stream); got != 1 {
		t.Errorf("detaches after Close = %d, want 1", got)
	}
	h1.Release()
	if got := h.fake.Detached(stream); got != 1 {
		t.Errorf("Release after Close detached again: %d", got)
	}
	if _, err := h.mgr.Acquire(marketKey(2)); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
}
