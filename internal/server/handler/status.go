package handler

import (
	"net/http"

	"github.com/alanyoungcy/marketsync/internal/feed"
)

// ConnectionSource exposes the process-wide connection state.
type ConnectionSource interface {
	Snapshot() feed.ConnectionSnapshot
}

// SubscriptionSource exposes subscription manager counters.
type SubscriptionSource interface {
	Stats() feed.ManagerStats
}

// PollSource exposes polling fallback counters.
type PollSource interface {
	Stats() feed.PollStats
}

// StatusHandler serves connection and subscription observability.
type StatusHandler struct {
	conn   ConnectionSource
	subs   SubscriptionSource
	poller PollSource
}

// NewStatusHandler creates a StatusHandler. poller may be nil.
func NewStatusHandler(conn ConnectionSource, subs SubscriptionSource, poller PollSource) *StatusHandler {
	return &StatusHandler{conn: conn, subs: subs, poller: poller}
}

// GetConnection reports isConnected, lastUpdate and the derived quality.
// GET /api/connection
func (h *StatusHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.conn.Snapshot())
}

// GetSubscriptions reports live subscriptions and polling counters.
// GET /api/subscriptions
func (h *StatusHandler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"manager": h.subs.Stats()}
	if h.poller != nil {
		resp["poller"] = h.poller.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
