package streamid

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Record schema definitions. The literal text is the input to SchemaID, so
// any whitespace change yields a different fingerprint.
const (
	MarketSchema = `{
  "type": "object",
  "properties": {
    "marketId": { "type": "number" },
    "question": { "type": "string" },
    "creator": { "type": "string" },
    "endTime": { "type": "number" },
    "totalYesShares": { "type": "number" },
    "totalNoShares": { "type": "number" },
    "totalVolume": { "type": "number" },
    "status": { "type": "string" },
    "currentPrice": { "type": "number" },
    "timestamp": { "type": "number" }
  }
}`

	OrderSchema = `{
  "type": "object",
  "properties": {
    "orderId": { "type": "number" },
    "marketId": { "type": "number" },
    "trader": { "type": "string" },
    "isYes": { "type": "boolean" },
    "shares": { "type": "number" },
    "price": { "type": "number" },
    "timestamp": { "type": "number" },
    "status": { "type": "string" }
  }
}`

	TradeSchema = `{
  "type": "object",
  "properties": {
    "marketId": { "type": "number" },
    "trader": { "type": "string" },
    "isYes": { "type": "boolean" },
    "shares": { "type": "number" },
    "price": { "type": "number" },
    "timestamp": { "type": "number" },
    "txHash": { "type": "string" }
  }
}`

	PositionSchema = `{
  "type": "object",
  "properties": {
    "marketId": { "type": "number" },
    "user": { "type": "string" },
    "yesShares": { "type": "number" },
    "noShares": { "type": "number" },
    "invested": { "type": "number" },
    "currentValue": { "type": "number" },
    "pnl": { "type": "number" },
    "timestamp": { "type": "number" }
  }
}`
)

// SchemaID fingerprints a schema definition with Keccak-256 of its text.
func SchemaID(schema string) domain.SchemaID {
	return domain.SchemaID(crypto.Keccak256Hash([]byte(schema)))
}

var schemaIDs = map[domain.EntityKind]domain.SchemaID{
	domain.KindMarket:   SchemaID(MarketSchema),
	domain.KindOrder:    SchemaID(OrderSchema),
	domain.KindTrade:    SchemaID(TradeSchema),
	domain.KindPosition: SchemaID(PositionSchema),
}

// Schemas returns the schema id of every record kind.
func Schemas() map[domain.EntityKind]domain.SchemaID {
	out := make(map[domain.EntityKind]domain.SchemaID, len(schemaIDs))
	for k, v := range schemaIDs {
		out[k] = v
	}
	return out
}

// SchemaFor returns the schema id carried by streams of the given kind.
func SchemaFor(kind domain.EntityKind) (domain.SchemaID, bool) {
	id, ok := schemaIDs[kind]
	return id, ok
}
