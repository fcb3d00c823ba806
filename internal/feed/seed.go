package feed

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// LoadMarkets fills the cache with every market the lister returns. It is
// used once at start-up, before push delivery begins.
func LoadMarkets(ctx context.Context, lister domain.MarketLister, cache domain.EntityCache) (int, error) {
	markets, err := lister.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("feed: load markets: %w", err)
	}
	for _, m := range markets {
		cache.UpsertMarket(m)
	}
	return len(markets), nil
}

// MarketSaver persists full markets.
type MarketSaver interface {
	UpsertBatch(ctx context.Context, markets []domain.Market) error
}

// SaveMarkets writes every cached market to saver.
func SaveMarkets(ctx context.Context, cache domain.EntityCache, saver MarketSaver) (int, error) {
	markets := cache.ListMarkets()
	if err := saver.UpsertBatch(ctx, markets); err != nil {
		return 0, fmt.Errorf("feed: save markets: %w", err)
	}
	return len(markets), nil
}
