// Package streamid maps logical entity keys to push channel addresses.
package streamid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// AddressPrefixLen is the number of address characters, including the 0x
// prefix, that position keys carry.
const AddressPrefixLen = 8

// Option configures a Deriver.
type Option func(*Deriver)

// WithFullAddressKeys makes position keys carry the whole address. Such keys
// exceed 32 bytes, so position stream ids become the Keccak-256 hash of the
// key text. Market, order and trade ids keep their padded form.
func WithFullAddressKeys() Option {
	return func(d *Deriver) { d.fullAddress = true }
}

// Deriver turns subscription keys into stream ids. It holds no mutable state
// and is safe for concurrent use.
type Deriver struct {
	fullAddress bool
}

// New creates a Deriver.
func New(opts ...Option) *Deriver {
	d := &Deriver{}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FullAddressKeys reports whether the deriver keys positions by full address.
func (d *Deriver) FullAddressKeys() bool { return d.fullAddress }

// Market derives the stream of a market.
func (d *Deriver) Market(id int64) (domain.StreamID, error) {
	return d.Derive(domain.KindMarket, strconv.FormatInt(id, 10))
}

// Order derives the stream of an order.
func (d *Deriver) Order(id int64) (domain.StreamID, error) {
	return d.Derive(domain.KindOrder, strconv.FormatInt(id, 10))
}

// Trade derives the stream a trade was published on. publishedAt is epoch
// milliseconds at publish time.
func (d *Deriver) Trade(marketID, publishedAt int64) (domain.StreamID, error) {
	return d.Derive(domain.KindTrade, strconv.FormatInt(marketID, 10), strconv.FormatInt(publishedAt, 10))
}

// Position derives the stream of a user's position in a market.
func (d *Deriver) Position(marketID int64, address string) (domain.StreamID, error) {
	return d.Derive(domain.KindPosition, strconv.FormatInt(marketID, 10), d.addressPart(address))
}

// ForKey derives the stream addressed by a subscription key.
func (d *Deriver) ForKey(k domain.SubscriptionKey) (domain.StreamID, error) {
	if err := k.Validate(); err != nil {
		return domain.StreamID{}, err
	}
	switch k.Kind {
	case domain.KindMarket:
		return d.Market(k.ID)
	case domain.KindOrder:
		return d.Order(k.ID)
	case domain.KindTrade:
		return d.Trade(k.ID, k.PublishedAt)
	default:
		return d.Position(k.ID, k.Address)
	}
}

// KeyText returns the textual key for kind and parts, e.g. "market-7".
func KeyText(kind domain.EntityKind, parts ...string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	for _, p := range parts {
		b.WriteByte('-')
		b.WriteString(p)
	}
	return b.String()
}

// Derive builds the stream id for kind and already-formatted key parts.
func (d *Deriver) Derive(kind domain.EntityKind, parts ...string) (domain.StreamID, error) {
	key := KeyText(kind, parts...)
	if d.fullAddress && kind == domain.KindPosition {
		return domain.StreamID(crypto.Keccak256Hash([]byte(key))), nil
	}
	return Encode(key)
}

// Encode right-pads the UTF-8 key text with zero bytes to 32 bytes.
func Encode(key string) (domain.StreamID, error) {
	if len(key) > common.HashLength {
		return domain.StreamID{}, fmt.Errorf("streamid: encode %q: %w", key, domain.ErrKeyTooLong)
	}
	return domain.StreamID(common.BytesToHash(common.RightPadBytes([]byte(key), common.HashLength))), nil
}

// NormalizeAddress returns the EIP-55 checksum form of a hex address. Other
// strings are returned unchanged.
func NormalizeAddress(address string) string {
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

func (d *Deriver) addressPart(address string) string {
	a := NormalizeAddress(address)
	if d.fullAddress || len(a) <= AddressPrefixLen {
		return a
	}
	return a[:AddressPrefixLen]
}
