// Package somnia talks to the data-streams gateway: a WebSocket push channel
// and an HTTP snapshot endpoint.
package somnia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	defaultResponseTimeout = 10 * time.Second
)

// streamSub tracks the local handlers of one remote stream. ready is closed
// once the server has answered the subscribe command; err holds its outcome.
type streamSub struct {
	handlers map[int]domain.RecordHandler
	ready    chan struct{}
	err      error
}

// WSClient is a push channel adapter over a JSON WebSocket protocol. It
// connects lazily on the first Subscribe, multiplexes every stream over one
// connection and re-subscribes all live streams after a reconnect.
type WSClient struct {
	wsURL           string
	responseTimeout time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	nextID  uint64
	pending map[uint64]chan wsMessage

	writeMu sync.Mutex

	subMu   sync.RWMutex
	streams map[domain.StreamID]*streamSub
	nextHID int

	done chan struct{}
}

var _ domain.StreamSubscriber = (*WSClient)(nil)

// NewWSClient creates a client for the gateway WebSocket endpoint, e.g.
// "wss://dream-rpc.somnia.network/ws/streams".
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:           wsURL,
		responseTimeout: defaultResponseTimeout,
		logger:          logger.With(slog.String("component", "somnia_ws")),
		pending:         make(map[uint64]chan wsMessage),
		streams:         make(map[domain.StreamID]*streamSub),
		done:            make(chan struct{}),
	}
}

// SetResponseTimeout bounds the wait for a command response.
func (w *WSClient) SetResponseTimeout(d time.Duration) {
	if d > 0 {
		w.responseTimeout = d
	}
}

// Connect establishes the WebSocket connection if it is not already up.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connectLocked(ctx)
}

func (w *WSClient) connectLocked(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("somnia/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("somnia/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	w.conn = conn

	go w.readLoop(conn)
	go w.pingLoop(conn)

	w.logger.Info("connected", slog.String("url", w.wsURL))
	return nil
}

// Subscribe attaches onRecord to the stream. The first local subscriber for
// a stream sends a subscribe command and waits for the server's answer.
func (w *WSClient) Subscribe(ctx context.Context, id domain.StreamID, onRecord domain.RecordHandler) (func(), error) {
	if err := w.Connect(ctx); err != nil {
		return nil, err
	}

	w.subMu.Lock()
	sub, exists := w.streams[id]
	if !exists {
		sub = &streamSub{
			handlers: make(map[int]domain.RecordHandler),
			ready:    make(chan struct{}),
		}
		w.streams[id] = sub
	}
	hid := w.nextHID
	w.nextHID++
	sub.handlers[hid] = onRecord
	w.subMu.Unlock()

	if !exists {
		_, err := w.request(ctx, methodSubscribe, id)
		w.subMu.Lock()
		sub.err = err
		close(sub.ready)
		if err != nil && w.streams[id] == sub {
			delete(w.streams, id)
		}
		w.subMu.Unlock()
	}

	select {
	case <-sub.ready:
	case <-ctx.Done():
		w.removeHandler(id, sub, hid)
		return nil, fmt.Errorf("somnia/ws: subscribe %s: %w", id, ctx.Err())
	}
	if sub.err != nil {
		return nil, fmt.Errorf("somnia/ws: subscribe %s: %w", id, sub.err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { w.removeHandler(id, sub, hid) })
	}, nil
}

// removeHandler drops one local handler and unsubscribes remotely when it
// was the last one.
func (w *WSClient) removeHandler(id domain.StreamID, sub *streamSub, hid int) {
	w.subMu.Lock()
	delete(sub.handlers, hid)
	last := len(sub.handlers) == 0 && w.streams[id] == sub
	if last {
		delete(w.streams, id)
	}
	w.subMu.Unlock()

	if !last {
		return
	}
	if err := w.send(methodUnsubscribe, id); err != nil {
		w.logger.Debug("unsubscribe not sent",
			slog.String("stream", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// request sends a command and waits for the matching response.
func (w *WSClient) request(ctx context.Context, method string, id domain.StreamID) (wsMessage, error) {
	w.mu.Lock()
	if w.conn == nil {
		w.mu.Unlock()
		return wsMessage{}, fmt.Errorf("somnia/ws: %w", domain.ErrWSDisconnect)
	}
	w.nextID++
	cmd := wsCommand{ID: w.nextID, Method: method, Stream: id.String()}
	respCh := make(chan wsMessage, 1)
	w.pending[cmd.ID] = respCh
	conn := w.conn
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, cmd.ID)
		w.mu.Unlock()
	}()

	if err := w.write(conn, cmd); err != nil {
		return wsMessage{}, fmt.Errorf("%s: %w", method, err)
	}

	timer := time.NewTimer(w.responseTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return wsMessage{}, domain.ErrWSDisconnect
		}
		if resp.Error != "" {
			return resp, errors.New(resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return wsMessage{}, fmt.Errorf("%s: response timeout after %s", method, w.responseTimeout)
	case <-ctx.Done():
		return wsMessage{}, ctx.Err()
	case <-w.done:
		return wsMessage{}, domain.ErrWSDisconnect
	}
}

// send writes a command without waiting for a response.
func (w *WSClient) send(method string, id domain.StreamID) error {
	w.mu.Lock()
	if w.conn == nil {
		w.mu.Unlock()
		return domain.ErrWSDisconnect
	}
	w.nextID++
	cmd := wsCommand{ID: w.nextID, Method: method, Stream: id.String()}
	conn := w.conn
	w.mu.Unlock()
	return w.write(conn, cmd)
}

func (w *WSClient) write(conn *websocket.Conn, cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts down the connection and stops reconnecting.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		w.writeMu.Lock()
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		w.writeMu.Unlock()
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// Streams returns the number of remote streams with live handlers.
func (w *WSClient) Streams() int {
	w.subMu.RLock()
	defer w.subMu.RUnlock()
	return len(w.streams)
}

// readLoop reads frames from conn until it fails, then reconnects unless
// the client was closed.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.dropConn(conn)
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

// dropConn forgets conn and fails every in-flight request on it.
func (w *WSClient) dropConn(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != conn {
		return
	}
	_ = conn.Close()
	w.conn = nil
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a frame to a waiting request or to stream handlers.
func (w *WSClient) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Debug("dropping unparseable frame", slog.Int("len", len(raw)))
		return
	}

	if msg.ID != nil {
		w.mu.Lock()
		ch, ok := w.pending[*msg.ID]
		if ok {
			delete(w.pending, *msg.ID)
		}
		w.mu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}

	if msg.Type != msgTypeData {
		return
	}
	id, err := domain.ParseStreamID(msg.Stream)
	if err != nil {
		w.logger.Debug("dropping frame with bad stream id", slog.String("stream", msg.Stream))
		return
	}
	rec, err := domain.DecodeRecord(msg.Data)
	if err != nil {
		w.logger.Debug("dropping undecodable record",
			slog.String("stream", msg.Stream),
			slog.String("error", err.Error()),
		)
		return
	}

	w.subMu.RLock()
	sub, ok := w.streams[id]
	var handlers []domain.RecordHandler
	if ok {
		handlers = make([]domain.RecordHandler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
	}
	w.subMu.RUnlock()

	for _, h := range handlers {
		h(rec)
	}
}

// reconnect re-establishes the connection with exponential backoff and
// re-subscribes every live stream. It blocks until successful or closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.resubscribe()
			return
		}
		w.logger.Warn("reconnect failed",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (w *WSClient) resubscribe() {
	w.subMu.RLock()
	ids := make([]domain.StreamID, 0, len(w.streams))
	for id := range w.streams {
		ids = append(ids, id)
	}
	w.subMu.RUnlock()

	for _, id := range ids {
		if err := w.send(methodSubscribe, id); err != nil {
			w.logger.Warn("resubscribe failed",
				slog.String("stream", id.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	w.logger.Info("resubscribed", slog.Int("streams", len(ids)))
}
