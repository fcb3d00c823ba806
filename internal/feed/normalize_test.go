package feed

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestNormalizeMarket_Coercion(t *testing.T) {
	rec := domain.Record{
		"marketId":       json.Number("7"),
		"totalYesShares": "120",
		"totalNoShares":  json.Number("80.5"),
		"totalVolume":    5000.0,
		"resolved":       "false",
		"status":         "resolved",
		"currentPrice":   60,
	}
	u, err := NormalizeMarket(domain.SubscriptionKey{Kind: domain.KindMarket, ID: 1}, rec)
	if err != nil {
		t.Fatalf("NormalizeMarket failed: %v", err)
	}
	if u.ID != 7 {
		t.Errorf("id = %d, want 7 from record", u.ID)
	}
	p := u.Patch
	if *p.TotalYesShares != 120 || *p.TotalNoShares != 80.5 || *p.TotalVolume != 5000 || *p.CurrentPrice != 60 {
		t.Errorf("numeric fields wrong: %+v", p)
	}
	if *p.Resolved || *p.Status != domain.MarketStatusResolved {
		t.Errorf("resolved/status wrong: %v %v", *p.Resolved, *p.Status)
	}
	if p.Question != nil || p.Creator != nil {
		t.Error("absent fields should stay nil")
	}
}

func TestNormalizeMarket_DropsMalformedFields(t *testing.T) {
	rec := domain.Record{
		"totalVolume":   "lots",
		"currentPrice":  140,
		"status":        "Paused",
		"totalNoShares": 3,
	}
	u, err := NormalizeMarket(domain.SubscriptionKey{Kind: domain.KindMarket, ID: 4}, rec)
	if !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	for _, f := range []string{"totalVolume", "currentPrice", "status"} {
		if !strings.Contains(err.Error(), f) {
			t.Errorf("error does not mention %s: %v", f, err)
		}
	}
	if u.ID != 4 {
		t.Errorf("id = %d, want key fallback 4", u.ID)
	}
	if u.Patch.TotalVolume != nil || u.Patch.CurrentPrice != nil || u.Patch.Status != nil {
		t.Error("malformed fields should be dropped")
	}
	if u.Patch.TotalNoShares == nil || *u.Patch.TotalNoShares != 3 {
		t.Error("valid field should survive")
	}
}

func TestNormalizePosition_RenamesUser(t *testing.T) {
	rec := domain.Record{"marketId": 3, "user": "0xabc", "invested": "10", "currentValue": 12, "pnl": 2}
	u, err := NormalizePosition(domain.SubscriptionKey{Kind: domain.KindPosition}, rec)
	if err != nil {
		t.Fatalf("NormalizePosition failed: %v", err)
	}
	if u.MarketID != 3 || u.Address != "0xabc" {
		t.Errorf("identity = (%d, %s)", u.MarketID, u.Address)
	}
	if *u.Patch.PnL != 2 {
		t.Errorf("pnl = %v, want delivered 2", *u.Patch.PnL)
	}

	_, err = NormalizePosition(domain.SubscriptionKey{Kind: domain.KindPosition}, domain.Record{"pnl": 1})
	if !errors.Is(err, domain.ErrMalformedRecord) {
		t.Errorf("missing user should be malformed, got %v", err)
	}
}

func TestNormalizeOrder_RenamesOrderID(t *testing.T) {
	rec := domain.Record{"orderId": "12", "marketId": 3, "isYes": true, "shares": 4, "price": 55, "status": "open"}
	u, err := NormalizeOrder(domain.SubscriptionKey{Kind: domain.KindOrder}, rec)
	if err != nil {
		t.Fatalf("NormalizeOrder failed: %v", err)
	}
	if u.ID != 12 || *u.Patch.MarketID != 3 || !*u.Patch.IsYes || *u.Patch.Status != "open" {
		t.Errorf("order = %+v", u)
	}
}

func TestNormalizeTrade(t *testing.T) {
	rec := domain.Record{"trader": "0xdef", "isYes": "true", "shares": "1.5", "price": 61, "timestamp": json.Number("1700000000"), "txHash": "0x01"}
	tr, err := NormalizeTrade(domain.SubscriptionKey{Kind: domain.KindTrade, ID: 9}, rec)
	if err != nil {
		t.Fatalf("NormalizeTrade failed: %v", err)
	}
	want := domain.Trade{MarketID: 9, Trader: "0xdef", IsYes: true, Shares: 1.5, Price: 61, Timestamp: 1700000000, TxHash: "0x01"}
	if tr != want {
		t.Errorf("trade = %+v, want %+v", tr, want)
	}
}

func TestApplier_PartialRecordStillApplies(t *testing.T) {
	h := newHarness(t)
	h.cache.UpsertMarket(domain.Market{ID: 7, Question: "Q", TotalVolume: 1})

	err := h.applier.Apply(marketKey(7), domain.Record{"totalVolume": "bad", "currentPrice": 70}, SourcePush)
	if !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	m, _ := h.cache.GetMarket(7)
	if m.CurrentPrice != 70 || m.TotalVolume != 1 {
		t.Errorf("market = %+v", m)
	}
	if !h.conn.IsConnected() {
		t.Error("partially applied push record should mark connected")
	}
}

func TestApplier_UnknownMarketPatchIsNoop(t *testing.T) {
	h := newHarness(t)
	if err := h.applier.Apply(marketKey(8), domain.Record{"currentPrice": 10}, SourcePush); err != nil {
		t.Fatalf("unknown market patch should not be an error: %v", err)
	}
	if _, ok := h.cache.GetMarket(8); ok {
		t.Error("patch created a market")
	}
}

func TestApplier_OrdersAndTrades(t *testing.T) {
	h := newHarness(t)
	orderKey := domain.SubscriptionKey{Kind: domain.KindOrder, ID: 5}
	if err := h.applier.Apply(orderKey, domain.Record{"marketId": 1, "price": 40, "status": "open"}, SourcePoll); err != nil {
		t.Fatalf("Apply order: %v", err)
	}
	if err := h.applier.Apply(orderKey, domain.Record{"status": "filled"}, SourcePoll); err != nil {
		t.Fatalf("Apply order patch: %v", err)
	}
	o, ok := h.cache.GetOrder(5)
	if !ok || o.Status != "filled" || o.Price != 40 || o.MarketID != 1 {
		t.Errorf("order = %+v", o)
	}

	tradeKey := domain.SubscriptionKey{Kind: domain.KindTrade, ID: 1, PublishedAt: 1}
	if err := h.applier.Apply(tradeKey, domain.Record{"shares": 2, "price": 40}, SourcePoll); err != nil {
		t.Fatalf("Apply trade: %v", err)
	}
	if got := len(h.cache.ListTrades(1)); got != 1 {
		t.Errorf("trades = %d, want 1", got)
	}
}

func TestApplier_PatchForUnknownMarketCountsAsActivity(t *testing.T) {
	h := newHarness(t)
	if err := h.applier.Apply(marketKey(404), domain.Record{"currentPrice": 10}, SourcePush); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := h.cache.GetMarket(404); ok {
		t.Error("a partial patch must not create a market")
	}
	if !h.conn.IsConnected() {
		t.Error("push apply for an unknown market should still mark the connection live")
	}
}
