package feed

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Source tells the applier which path delivered a record.
type Source int

const (
	SourcePush Source = iota
	SourcePoll
)

func (s Source) String() string {
	if s == SourcePoll {
		return "poll"
	}
	return "push"
}

// Applier is the single write path into the entity cache. Push delivery and
// the poller both go through Apply, so consumers cannot tell them apart.
type Applier struct {
	cache  domain.EntityCache
	conn   *ConnectionState
	logger *slog.Logger
}

// NewApplier creates an Applier.
func NewApplier(cache domain.EntityCache, conn *ConnectionState, logger *slog.Logger) *Applier {
	return &Applier{
		cache:  cache,
		conn:   conn,
		logger: logger.With(slog.String("component", "applier")),
	}
}

// Apply normalizes rec and writes it into the cache according to key.Kind.
// A returned ErrMalformedRecord means some fields were dropped; whatever
// remained valid has still been applied. Push applies refresh the
// connection state; poll applies do not.
func (a *Applier) Apply(key domain.SubscriptionKey, rec domain.Record, src Source) error {
	if len(rec) == 0 {
		return fmt.Errorf("feed: apply %s: %w: empty record", key, domain.ErrMalformedRecord)
	}

	var (
		applied bool
		err     error
	)
	switch key.Kind {
	case domain.KindMarket:
		applied, err = a.applyMarket(key, rec)
	case domain.KindPosition:
		applied, err = a.applyPosition(key, rec)
	case domain.KindTrade:
		applied, err = a.applyTrade(key, rec)
	case domain.KindOrder:
		applied, err = a.applyOrder(key, rec)
	default:
		return fmt.Errorf("feed: apply: %w: kind %q", domain.ErrInvalidKey, key.Kind)
	}

	if err != nil {
		a.logger.Warn("record partially applied",
			slog.String("key", key.String()),
			slog.String("source", src.String()),
			slog.Bool("applied", applied),
			slog.String("error", err.Error()),
		)
	} else {
		a.logger.Debug("record applied",
			slog.String("key", key.String()),
			slog.String("source", src.String()),
		)
	}

	if applied && src == SourcePush && a.conn != nil {
		a.conn.Touch()
	}
	if err != nil {
		return fmt.Errorf("feed: apply %s: %w", key, err)
	}
	return nil
}

// applyMarket patches the provided fields. An unknown id becomes a new
// market only when the record is a full observation carrying a question.
func (a *Applier) applyMarket(key domain.SubscriptionKey, rec domain.Record) (bool, error) {
	u, err := NormalizeMarket(key, rec)
	if u.Patch.Empty() {
		return false, nonNil(err)
	}
	if !a.cache.PatchMarket(u.ID, u.Patch) && u.Patch.Question != nil {
		a.cache.UpsertMarket(u.Patch.Apply(domain.Market{ID: u.ID}))
	}
	// A dropped patch for an unknown market still counts as stream activity.
	return true, err
}

func (a *Applier) applyPosition(key domain.SubscriptionKey, rec domain.Record) (bool, error) {
	u, err := NormalizePosition(key, rec)
	if u.Address == "" || u.Patch.Empty() {
		return false, nonNil(err)
	}
	a.cache.PatchPosition(u.MarketID, u.Address, u.Patch)
	return true, err
}

func (a *Applier) applyTrade(key domain.SubscriptionKey, rec domain.Record) (bool, error) {
	t, err := NormalizeTrade(key, rec)
	if t == (domain.Trade{MarketID: t.MarketID}) {
		return false, nonNil(err)
	}
	a.cache.AppendTrade(t)
	return true, err
}

func (a *Applier) applyOrder(key domain.SubscriptionKey, rec domain.Record) (bool, error) {
	u, err := NormalizeOrder(key, rec)
	if u.Patch.Empty() {
		return false, nonNil(err)
	}
	if !a.cache.PatchOrder(u.ID, u.Patch) && u.Patch.MarketID != nil {
		a.cache.UpsertOrder(u.Patch.Apply(domain.Order{ID: u.ID}))
	}
	return true, err
}

var errNothingToApply = errors.New("no usable fields")

func nonNil(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrMalformedRecord, errNothingToApply)
}
