package domain

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
)

// EntityKind names the logical record type carried by a stream.
type EntityKind string

const (
	KindMarket   EntityKind = "market"
	KindOrder    EntityKind = "order"
	KindTrade    EntityKind = "trade"
	KindPosition EntityKind = "position"
)

// ParseEntityKind validates a kind string.
func ParseEntityKind(s string) (EntityKind, error) {
	switch k := EntityKind(s); k {
	case KindMarket, KindOrder, KindTrade, KindPosition:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, s)
}

// SubscriptionKey identifies one consumer interest. It is comparable and is
// used directly as a map key by the subscription manager.
//
// ID is the market id for market, trade and position keys and the order id
// for order keys. Address is only meaningful for positions; PublishedAt (epoch
// milliseconds) only for trades.
type SubscriptionKey struct {
	Kind        EntityKind `json:"kind"`
	ID          int64      `json:"id"`
	Address     string     `json:"address,omitempty"`
	PublishedAt int64      `json:"publishedAt,omitempty"`
}

// Validate checks that the key carries the parts its kind requires.
func (k SubscriptionKey) Validate() error {
	if _, err := ParseEntityKind(string(k.Kind)); err != nil {
		return err
	}
	if k.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidKey, k.ID)
	}
	if k.Kind == KindPosition && k.Address == "" {
		return fmt.Errorf("%w: position key requires an address", ErrInvalidKey)
	}
	return nil
}

func (k SubscriptionKey) String() string {
	s := string(k.Kind) + ":" + strconv.FormatInt(k.ID, 10)
	if k.Address != "" {
		s += ":" + k.Address
	}
	if k.PublishedAt != 0 {
		s += "@" + strconv.FormatInt(k.PublishedAt, 10)
	}
	return s
}

// StreamID addresses one push channel.
type StreamID [32]byte

// String renders the id as 0x followed by 64 lowercase hex digits.
func (id StreamID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseStreamID parses the 0x-prefixed hex form produced by String.
func ParseStreamID(s string) (StreamID, error) {
	var id StreamID
	if len(s) != 66 || s[:2] != "0x" {
		return id, fmt.Errorf("parse stream id %q: want 0x + 64 hex digits", s)
	}
	if _, err := hex.Decode(id[:], []byte(s[2:])); err != nil {
		return id, fmt.Errorf("parse stream id %q: %w", s, err)
	}
	return id, nil
}

// SchemaID is the fingerprint of a record schema definition.
type SchemaID [32]byte

func (id SchemaID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Record is one JSON-shaped object delivered on a stream.
type Record map[string]any

// RecordHandler receives records from a push channel. It may be invoked
// concurrently for different streams.
type RecordHandler func(Record)

// StreamSubscriber is the push channel contract. Detach is idempotent and
// safe to call when no record was ever delivered. A failure to establish
// delivery is returned as an error, never delivered as a record.
type StreamSubscriber interface {
	Subscribe(ctx context.Context, id StreamID, onRecord RecordHandler) (detach func(), err error)
}

// SnapshotReader returns the last known record of a stream. Absence is
// reported as ErrNotFound.
type SnapshotReader interface {
	GetByKey(ctx context.Context, schema SchemaID, id StreamID) (Record, error)
}

// MarketLister loads full markets for the initial cache fill.
type MarketLister interface {
	ListAll(ctx context.Context) ([]Market, error)
}
