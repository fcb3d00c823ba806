package domain

import "testing"

func ptr[T any](v T) *T { return &v }

func TestMarketPatch_FoldIsLastWriteWins(t *testing.T) {
	m := Market{ID: 7, Question: "Will it rain?", Creator: "0xabc", TotalVolume: 10, Status: MarketStatusActive}

	patches := []MarketPatch{
		{TotalYesShares: ptr(10.0), CurrentPrice: ptr(40.0)},
		{TotalYesShares: ptr(20.0), TotalNoShares: ptr(5.0)},
		{CurrentPrice: ptr(55.0)},
	}
	for _, p := range patches {
		m = p.Apply(m)
	}

	if m.TotalYesShares != 20 || m.TotalNoShares != 5 || m.CurrentPrice != 55 {
		t.Errorf("unexpected merged fields: %+v", m)
	}
	if m.Question != "Will it rain?" || m.Creator != "0xabc" || m.TotalVolume != 10 || m.Status != MarketStatusActive {
		t.Errorf("untouched fields changed: %+v", m)
	}
}

func TestMarketPatch_PriceNotRecomputed(t *testing.T) {
	m := MarketPatch{TotalYesShares: ptr(120.0), TotalNoShares: ptr(80.0), CurrentPrice: ptr(33.0)}.Apply(Market{})
	if m.CurrentPrice != 33 {
		t.Errorf("CurrentPrice = %v, want delivered 33", m.CurrentPrice)
	}
}

func TestMarketPatch_Empty(t *testing.T) {
	if !(MarketPatch{}).Empty() {
		t.Error("zero patch should be empty")
	}
	if (MarketPatch{Status: ptr(MarketStatusClosed)}).Empty() {
		t.Error("patch with status should not be empty")
	}
}

func TestParseMarketStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    MarketStatus
		wantErr bool
	}{
		{"Active", MarketStatusActive, false},
		{"active", MarketStatusActive, false},
		{"RESOLVED", MarketStatusResolved, false},
		{"Closed", MarketStatusClosed, false},
		{"Cancelled", MarketStatusCancelled, false},
		{"pending", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMarketStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMarketStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMarketStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStreamID_RoundTrip(t *testing.T) {
	var id StreamID
	copy(id[:], "market-7")
	parsed, err := ParseStreamID(id.String())
	if err != nil {
		t.Fatalf("ParseStreamID failed: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseStreamID(%s) = %s", id, parsed)
	}
	if _, err := ParseStreamID("0x1234"); err == nil {
		t.Error("expected error for short id")
	}
}
