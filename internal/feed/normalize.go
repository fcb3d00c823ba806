package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// fieldErrors collects per-field coercion failures. A failing field is
// dropped; the rest of the record still applies.
type fieldErrors map[string]error

func (fe fieldErrors) add(field string, err error) {
	if err != nil {
		fe[field] = err
	}
}

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	names := make([]string, 0, len(fe))
	for k := range fe {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + fe[n].Error()
	}
	return fmt.Errorf("%w: %s", domain.ErrMalformedRecord, strings.Join(parts, "; "))
}

// MarketUpdate is a market record after renaming and coercion.
type MarketUpdate struct {
	ID    int64
	Patch domain.MarketPatch
}

// PositionUpdate is a position record after renaming and coercion.
type PositionUpdate struct {
	MarketID int64
	Address  string
	Patch    domain.PositionPatch
}

// OrderUpdate is an order record after renaming and coercion.
type OrderUpdate struct {
	ID    int64
	Patch domain.OrderPatch
}

// NormalizeMarket converts a market record. The id is taken from marketId
// or id, falling back to the subscription key.
func NormalizeMarket(key domain.SubscriptionKey, r domain.Record) (MarketUpdate, error) {
	fe := fieldErrors{}
	out := MarketUpdate{ID: key.ID}
	if id, ok, err := intField(r, "marketId", "id"); ok {
		fe.add("marketId", err)
		if err == nil {
			out.ID = id
		}
	}

	p := &out.Patch
	p.Question = stringPtr(r, fe, "question")
	p.Description = stringPtr(r, fe, "description")
	p.Creator = stringPtr(r, fe, "creator")
	p.EndTime = intPtr(r, fe, "endTime")
	p.CreatedAt = intPtr(r, fe, "createdAt")
	p.TotalYesShares = floatPtr(r, fe, "totalYesShares")
	p.TotalNoShares = floatPtr(r, fe, "totalNoShares")
	p.TotalVolume = floatPtr(r, fe, "totalVolume")
	p.Resolved = boolPtr(r, fe, "resolved")
	p.Outcome = boolPtr(r, fe, "outcome")
	p.CurrentPrice = floatPtr(r, fe, "currentPrice")
	if s := stringPtr(r, fe, "status"); s != nil {
		st, err := domain.ParseMarketStatus(*s)
		fe.add("status", err)
		if err == nil {
			p.Status = &st
		}
	}
	if p.CurrentPrice != nil && (*p.CurrentPrice < 0 || *p.CurrentPrice > 100) {
		fe.add("currentPrice", fmt.Errorf("%v outside [0,100]", *p.CurrentPrice))
		p.CurrentPrice = nil
	}
	return out, fe.err()
}

// NormalizePosition converts a position record. user is renamed to address.
func NormalizePosition(key domain.SubscriptionKey, r domain.Record) (PositionUpdate, error) {
	fe := fieldErrors{}
	out := PositionUpdate{MarketID: key.ID, Address: key.Address}
	if id, ok, err := intField(r, "marketId"); ok {
		fe.add("marketId", err)
		if err == nil {
			out.MarketID = id
		}
	}
	if out.Address == "" {
		if a := stringPtr(r, fe, "user"); a != nil {
			out.Address = *a
		} else if a := stringPtr(r, fe, "address"); a != nil {
			out.Address = *a
		}
	}

	p := &out.Patch
	p.YesShares = floatPtr(r, fe, "yesShares")
	p.NoShares = floatPtr(r, fe, "noShares")
	p.Invested = floatPtr(r, fe, "invested")
	p.CurrentValue = floatPtr(r, fe, "currentValue")
	p.PnL = floatPtr(r, fe, "pnl")

	if out.Address == "" {
		fe.add("user", errors.New("missing"))
	}
	return out, fe.err()
}

// NormalizeTrade converts a trade record. Missing fields keep their zero
// value.
func NormalizeTrade(key domain.SubscriptionKey, r domain.Record) (domain.Trade, error) {
	fe := fieldErrors{}
	t := domain.Trade{MarketID: key.ID}
	if id, ok, err := intField(r, "marketId"); ok {
		fe.add("marketId", err)
		if err == nil {
			t.MarketID = id
		}
	}
	if v := stringPtr(r, fe, "trader"); v != nil {
		t.Trader = *v
	}
	if v := boolPtr(r, fe, "isYes"); v != nil {
		t.IsYes = *v
	}
	if v := floatPtr(r, fe, "shares"); v != nil {
		t.Shares = *v
	}
	if v := floatPtr(r, fe, "price"); v != nil {
		t.Price = *v
	}
	if v := intPtr(r, fe, "timestamp"); v != nil {
		t.Timestamp = *v
	}
	if v := stringPtr(r, fe, "txHash"); v != nil {
		t.TxHash = *v
	}
	return t, fe.err()
}

// NormalizeOrder converts an order record. orderId is renamed to the order id.
func NormalizeOrder(key domain.SubscriptionKey, r domain.Record) (OrderUpdate, error) {
	fe := fieldErrors{}
	out := OrderUpdate{ID: key.ID}
	if id, ok, err := intField(r, "orderId", "id"); ok {
		fe.add("orderId", err)
		if err == nil {
			out.ID = id
		}
	}

	p := &out.Patch
	p.MarketID = intPtr(r, fe, "marketId")
	p.Trader = stringPtr(r, fe, "trader")
	p.IsYes = boolPtr(r, fe, "isYes")
	p.Shares = floatPtr(r, fe, "shares")
	p.Price = floatPtr(r, fe, "price")
	p.Timestamp = intPtr(r, fe, "timestamp")
	p.Status = stringPtr(r, fe, "status")
	return out, fe.err()
}

func lookup(r domain.Record, names ...string) (any, string, bool) {
	for _, n := range names {
		if v, ok := r[n]; ok && v != nil {
			return v, n, true
		}
	}
	return nil, "", false
}

func intField(r domain.Record, names ...string) (int64, bool, error) {
	v, _, ok := lookup(r, names...)
	if !ok {
		return 0, false, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return 0, true, err
	}
	if !d.IsInteger() {
		return 0, true, fmt.Errorf("%s is not an integer", d)
	}
	return d.IntPart(), true, nil
}

func intPtr(r domain.Record, fe fieldErrors, name string) *int64 {
	v, ok, err := intField(r, name)
	if !ok {
		return nil
	}
	fe.add(name, err)
	if err != nil {
		return nil
	}
	return &v
}

func floatPtr(r domain.Record, fe fieldErrors, name string) *float64 {
	v, _, ok := lookup(r, name)
	if !ok {
		return nil
	}
	d, err := toDecimal(v)
	fe.add(name, err)
	if err != nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func stringPtr(r domain.Record, fe fieldErrors, name string) *string {
	v, _, ok := lookup(r, name)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		return &x
	case json.Number:
		s := x.String()
		return &s
	}
	fe.add(name, fmt.Errorf("want string, got %T", v))
	return nil
}

func boolPtr(r domain.Record, fe fieldErrors, name string) *bool {
	v, _, ok := lookup(r, name)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case bool:
		return &x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		fe.add(name, err)
		if err != nil {
			return nil
		}
		return &b
	}
	fe.add(name, fmt.Errorf("want bool, got %T", v))
	return nil
}

// toDecimal accepts JSON numbers, Go numeric types, and numeric strings.
func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	}
	return decimal.Decimal{}, fmt.Errorf("want number, got %T", v)
}
