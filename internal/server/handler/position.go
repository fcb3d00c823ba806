package handler

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// PositionReader is the part of the entity cache the position endpoints read.
type PositionReader interface {
	GetPosition(marketID int64, address string) (domain.Position, bool)
	ListPositions(address string) []domain.Position
}

// PositionHandler serves position reads. A read never creates a position.
type PositionHandler struct {
	cache PositionReader
}

func NewPositionHandler(cache PositionReader) *PositionHandler {
	return &PositionHandler{cache: cache}
}

// GetPosition returns one user's position in one market.
// GET /api/positions/{marketId}/{address}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	marketID, ok := int64Param(r, "marketId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	addr := strings.TrimSpace(r.PathValue("address"))
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}
	pos, found := h.cache.GetPosition(marketID, addr)
	if !found {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListPositions returns every cached position of an address.
// GET /api/positions/{address}
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.PathValue("address"))
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr,
		"positions": nonNil(h.cache.ListPositions(addr)),
	})
}
