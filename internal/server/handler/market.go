package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// MarketReader is the part of the entity cache the market endpoints read.
type MarketReader interface {
	GetMarket(id int64) (domain.Market, bool)
	ListMarkets() []domain.Market
	ListActiveMarkets() []domain.Market
	ListTrades(marketID int64) []domain.Trade
	ListOrders(marketID int64) []domain.Order
}

// MarketHandler serves market, trade and order reads straight from the cache.
type MarketHandler struct {
	cache  MarketReader
	logger *slog.Logger
}

func NewMarketHandler(cache MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{cache: cache, logger: logger.With(slog.String("handler", "markets"))}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns every cached market, newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	h.writeMarkets(w, r, h.cache.ListMarkets())
}

// ListActiveMarkets returns active markets by descending volume.
// GET /api/markets/active
func (h *MarketHandler) ListActiveMarkets(w http.ResponseWriter, r *http.Request) {
	h.writeMarkets(w, r, h.cache.ListActiveMarkets())
}

func (h *MarketHandler) writeMarkets(w http.ResponseWriter, r *http.Request, all []domain.Market) {
	opts := parseListOpts(r)
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: page(all, opts),
		Total:   len(all),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	m, found := h.cache.GetMarket(id)
	if !found {
		h.logger.DebugContext(r.Context(), "market not cached", slog.Int64("market_id", id))
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListTrades returns the retained trades of a market, newest first.
// GET /api/markets/{id}/trades
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId": id,
		"trades":   nonNil(h.cache.ListTrades(id)),
	})
}

// ListOrders returns the cached orders of a market, newest first.
// GET /api/markets/{id}/orders
func (h *MarketHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId": id,
		"orders":   nonNil(h.cache.ListOrders(id)),
	})
}
