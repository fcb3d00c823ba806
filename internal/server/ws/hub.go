// Package ws pushes cache updates to browser clients over WebSocket. Each
// client subscription holds a subscription-manager handle for its key.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/feed"
	"github.com/alanyoungcy/marketsync/internal/streamid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// maxSubscriptionsPerClient bounds the manager handles one socket may hold.
	maxSubscriptionsPerClient = 256
)

// Outbound message types.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypeConnection   = "connection"
	TypeReset        = "reset"
)

// Acquirer hands out shared subscriptions. *feed.Manager satisfies it.
type Acquirer interface {
	Acquire(key domain.SubscriptionKey) (*feed.Handle, error)
}

// Config wires the hub to the sync layer. Quality may be nil.
type Config struct {
	Cache      domain.EntityCache
	Manager    Acquirer
	Connection *feed.ConnectionState
	Quality    *feed.QualityMonitor
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS/auth middleware in front of /ws.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMsg is what a client sends:
//
//	{"action":"subscribe","kind":"market","id":7}
//	{"action":"subscribe","kind":"position","id":7,"address":"0x..."}
//	{"action":"unsubscribe","kind":"market","id":7}
type clientMsg struct {
	Action      string `json:"action"`
	Kind        string `json:"kind"`
	ID          int64  `json:"id"`
	Address     string `json:"address,omitempty"`
	PublishedAt int64  `json:"publishedAt,omitempty"`
}

// Message is what the hub sends.
type Message struct {
	Type    string                  `json:"type"`
	Key     *domain.SubscriptionKey `json:"key,omitempty"`
	Handle  string                  `json:"handle,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Payload any                     `json:"payload,omitempty"`
}

type client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[domain.SubscriptionKey]*feed.Handle
}

// Hub tracks connected clients and fans cache changes out to the clients
// whose subscriptions cover them.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. Run must be started for pushes to flow.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
	}
}

// Run forwards cache changes and quality transitions until ctx is cancelled,
// then disconnects every client and releases its subscriptions.
func (h *Hub) Run(ctx context.Context) error {
	changes, stopChanges := h.cfg.Cache.Subscribe(1024)
	defer stopChanges()

	var quality <-chan feed.QualityEvent
	if h.cfg.Quality != nil {
		q, stopQuality := h.cfg.Quality.Subscribe(16)
		defer stopQuality()
		quality = q
	}

	h.logger.Info("ws hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			h.dispatch(c)
		case ev, ok := <-quality:
			if !ok {
				quality = nil
				continue
			}
			h.broadcast(Message{Type: TypeConnection, Payload: ev.Snapshot})
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and starts the client pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[domain.SubscriptionKey]*feed.Handle),
	}
	if !h.add(c) {
		conn.Close()
		return
	}

	if h.cfg.Connection != nil {
		c.push(Message{Type: TypeConnection, Payload: h.cfg.Connection.Snapshot()})
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws client connected",
		slog.String("client", c.id.String()),
		slog.Int("total_clients", len(h.clients)),
	)
	return true
}

// remove closes the client's send channel exactly once. Handles are released
// on every call so a subscribe racing with shutdown cannot leak.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.releaseAll()
	if ok {
		h.logger.Info("ws client disconnected",
			slog.String("client", c.id.String()),
			slog.Int("total_clients", total),
		)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
	h.logger.Info("ws hub stopped", slog.Int("disconnected", len(clients)))
}

// dispatch pushes the refreshed entity to every interested client. The
// payload is read from the cache once per change.
func (h *Hub) dispatch(c domain.CacheChange) {
	if c.Kind == domain.ChangeReset {
		h.broadcast(Message{Type: TypeReset})
		return
	}

	var data []byte
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if !cl.interested(c) {
			continue
		}
		if data == nil {
			payload, ok := h.entityFor(c)
			if !ok {
				return
			}
			var err error
			if data, err = json.Marshal(Message{Type: string(c.Kind), Payload: payload}); err != nil {
				h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
				return
			}
		}
		cl.enqueue(data)
	}
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		cl.enqueue(data)
	}
}

// entityFor loads the entity a change refers to.
func (h *Hub) entityFor(c domain.CacheChange) (any, bool) {
	cache := h.cfg.Cache
	switch c.Kind {
	case domain.ChangeMarket:
		return cache.GetMarket(c.MarketID)
	case domain.ChangePosition:
		return cache.GetPosition(c.MarketID, c.Address)
	case domain.ChangeOrder:
		return cache.GetOrder(c.OrderID)
	case domain.ChangeTrade:
		trades := cache.ListTrades(c.MarketID)
		if len(trades) == 0 {
			return nil, false
		}
		return trades[0], true
	}
	return nil, false
}

// current returns the cached entity for a freshly subscribed key, if any.
func (h *Hub) current(k domain.SubscriptionKey) (Message, bool) {
	cache := h.cfg.Cache
	var (
		payload any
		ok      bool
	)
	switch k.Kind {
	case domain.KindMarket:
		payload, ok = cache.GetMarket(k.ID)
	case domain.KindPosition:
		payload, ok = cache.GetPosition(k.ID, k.Address)
	case domain.KindOrder:
		payload, ok = cache.GetOrder(k.ID)
	case domain.KindTrade:
		if trades := cache.ListTrades(k.ID); len(trades) > 0 {
			payload, ok = trades[0], true
		}
	}
	return Message{Type: string(k.Kind), Payload: payload}, ok
}

// matches reports whether a change is covered by subscription key k.
func matches(k domain.SubscriptionKey, c domain.CacheChange) bool {
	switch c.Kind {
	case domain.ChangeMarket:
		return k.Kind == domain.KindMarket && k.ID == c.MarketID
	case domain.ChangePosition:
		return k.Kind == domain.KindPosition && k.ID == c.MarketID && strings.EqualFold(k.Address, c.Address)
	case domain.ChangeTrade:
		return k.Kind == domain.KindTrade && k.ID == c.MarketID
	case domain.ChangeOrder:
		return k.Kind == domain.KindOrder && k.ID == c.OrderID
	}
	return false
}

func (c *client) interested(ch domain.CacheChange) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k := range c.subs {
		if matches(k, ch) {
			return true
		}
	}
	return false
}

// enqueue must be called with hub.mu held so send cannot be closed under it.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("ws dropping message for slow client", slog.String("client", c.id.String()))
	}
}

// push marshals and enqueues m unless the client is already gone.
func (c *client) push(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(data)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.push(Message{Type: TypeError, Error: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMsg) {
	kind, err := domain.ParseEntityKind(msg.Kind)
	if err != nil {
		c.push(Message{Type: TypeError, Error: err.Error()})
		return
	}
	key := domain.SubscriptionKey{Kind: kind, ID: msg.ID, Address: msg.Address, PublishedAt: msg.PublishedAt}
	if kind == domain.KindPosition {
		key.Address = streamid.NormalizeAddress(key.Address)
	}

	switch msg.Action {
	case "subscribe":
		c.subscribe(key)
	case "unsubscribe":
		c.unsubscribe(key)
	default:
		c.push(Message{Type: TypeError, Error: "unknown action " + msg.Action})
	}
}

func (c *client) subscribe(key domain.SubscriptionKey) {
	c.mu.Lock()
	if h, ok := c.subs[key]; ok {
		c.mu.Unlock()
		c.push(Message{Type: TypeSubscribed, Key: &key, Handle: h.ID().String()})
		return
	}
	if len(c.subs) >= maxSubscriptionsPerClient {
		c.mu.Unlock()
		c.push(Message{Type: TypeError, Key: &key, Error: "too many subscriptions"})
		return
	}
	h, err := c.hub.cfg.Manager.Acquire(key)
	if err != nil {
		c.mu.Unlock()
		msg := err.Error()
		if errors.Is(err, feed.ErrManagerClosed) {
			msg = "server shutting down"
		}
		c.push(Message{Type: TypeError, Key: &key, Error: msg})
		return
	}
	c.subs[key] = h
	c.mu.Unlock()

	c.hub.logger.Debug("ws client subscribed",
		slog.String("client", c.id.String()),
		slog.String("key", key.String()),
		slog.String("handle", h.ID().String()),
	)
	c.push(Message{Type: TypeSubscribed, Key: &key, Handle: h.ID().String()})
	if m, ok := c.hub.current(key); ok {
		c.push(m)
	}
}

func (c *client) unsubscribe(key domain.SubscriptionKey) {
	c.mu.Lock()
	h, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if ok {
		h.Release()
	}
	c.push(Message{Type: TypeUnsubscribed, Key: &key})
}

func (c *client) releaseAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[domain.SubscriptionKey]*feed.Handle)
	c.mu.Unlock()
	for _, h := range subs {
		h.Release()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
