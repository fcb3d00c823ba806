package streamid

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestEncode_PadsRight(t *testing.T) {
	id, err := Encode("market-7")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// "market-7" = 6d61726b65742d37
	want := "0x6d61726b65742d37" + strings.Repeat("0", 48)
	if got := id.String(); got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncode_TooLong(t *testing.T) {
	_, err := Encode(strings.Repeat("x", 33))
	if !errors.Is(err, domain.ErrKeyTooLong) {
		t.Errorf("expected ErrKeyTooLong, got %v", err)
	}
	if _, err := Encode(strings.Repeat("x", 32)); err != nil {
		t.Errorf("32-byte key should encode, got %v", err)
	}
}

func TestDeriver_KeyConventions(t *testing.T) {
	d := New()
	addr := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

	tests := []struct {
		name string
		key  domain.SubscriptionKey
		text string
	}{
		{"market", domain.SubscriptionKey{Kind: domain.KindMarket, ID: 7}, "market-7"},
		{"order", domain.SubscriptionKey{Kind: domain.KindOrder, ID: 42}, "order-42"},
		{"trade", domain.SubscriptionKey{Kind: domain.KindTrade, ID: 7, PublishedAt: 1700000000123}, "trade-7-1700000000123"},
		{"position", domain.SubscriptionKey{Kind: domain.KindPosition, ID: 7, Address: addr}, "position-7-0x5aAeb6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ForKey(tt.key)
			if err != nil {
				t.Fatalf("ForKey failed: %v", err)
			}
			want, err := Encode(tt.text)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if got != want {
				t.Errorf("ForKey(%v) = %s, want encoding of %q", tt.key, got, tt.text)
			}
		})
	}
}

func TestDeriver_Deterministic(t *testing.T) {
	d := New()
	a, _ := d.Market(7)
	b, _ := d.Market(7)
	c, _ := d.Market(8)
	if a != b {
		t.Error("same key should derive the same stream id")
	}
	if a == c {
		t.Error("distinct keys should derive distinct stream ids")
	}
}

func TestDeriver_AddressCaseInsensitive(t *testing.T) {
	d := New()
	lower, _ := d.Position(1, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	upper, _ := d.Position(1, "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	if lower != upper {
		t.Error("address case should not change the derived stream id")
	}
}

func TestDeriver_PrefixCollision(t *testing.T) {
	d := New()
	a, _ := d.Position(1, "0x1234560000000000000000000000000000000001")
	b, _ := d.Position(1, "0x1234569999999999999999999999999999999999")
	if a != b {
		t.Error("prefix keys should collide for addresses sharing 8 characters")
	}

	full := New(WithFullAddressKeys())
	fa, _ := full.Position(1, "0x1234560000000000000000000000000000000001")
	fb, _ := full.Position(1, "0x1234569999999999999999999999999999999999")
	if fa == fb {
		t.Error("full address keys should not collide")
	}
}

func TestDeriver_FullAddressHashesOnlyPositions(t *testing.T) {
	const addr = "0x52908400098527886E0F7030069857D2E4169EE7"
	full, plain := New(WithFullAddressKeys()), New()

	got, err := full.Position(7, addr)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	want := domain.StreamID(crypto.Keccak256Hash([]byte("position-7-" + addr)))
	if got != want {
		t.Errorf("Position = %s, want %s", got, want)
	}

	tests := []struct {
		name string
		id   func(d *Deriver) (domain.StreamID, error)
	}{
		{"market", func(d *Deriver) (domain.StreamID, error) { return d.Market(7) }},
		{"order", func(d *Deriver) (domain.StreamID, error) { return d.Order(12) }},
		{"trade", func(d *Deriver) (domain.StreamID, error) { return d.Trade(7, 1700000000123) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.id(full)
			if err != nil {
				t.Fatalf("full: %v", err)
			}
			p, err := tt.id(plain)
			if err != nil {
				t.Fatalf("plain: %v", err)
			}
			if f != p {
				t.Errorf("%s id changed with full address keys: %s != %s", tt.name, f, p)
			}
		})
	}
}

func TestDeriver_InvalidKey(t *testing.T) {
	d := New()
	_, err := d.ForKey(domain.SubscriptionKey{Kind: domain.KindPosition, ID: 1})
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	_, err = d.ForKey(domain.SubscriptionKey{Kind: "orderbook", ID: 1})
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSchemaID(t *testing.T) {
	if SchemaID(MarketSchema) != SchemaID(MarketSchema) {
		t.Error("identical schema text should give identical ids")
	}
	if SchemaID(MarketSchema) == SchemaID(MarketSchema+" ") {
		t.Error("different schema text should give different ids")
	}

	ids := Schemas()
	if len(ids) != 4 {
		t.Fatalf("expected 4 schemas, got %d", len(ids))
	}
	seen := make(map[domain.SchemaID]bool)
	for kind, id := range ids {
		if seen[id] {
			t.Errorf("duplicate schema id for %s", kind)
		}
		seen[id] = true
	}
}
