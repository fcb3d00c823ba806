package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/streamid"
)

// SubState is the lifecycle state of one subscription entry.
type SubState int

const (
	StateIdle SubState = iota
	StateAttaching
	StateActive
	StateDetaching
)

func (s SubState) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateActive:
		return "active"
	case StateDetaching:
		return "detaching"
	default:
		return "idle"
	}
}

// MarshalText renders the state name in JSON.
func (s SubState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultAttachTimeout bounds a single Subscribe call.
const DefaultAttachTimeout = 10 * time.Second

// entry is one shared attachment. refs, state and detach are guarded by
// Manager.mu; closed is guarded by gate so that no record is applied once
// the releasing call has returned.
type entry struct {
	key    domain.SubscriptionKey
	stream domain.StreamID
	refs   int
	state  SubState
	since  time.Time

	cancel     context.CancelFunc
	detach     func()
	detachOnce sync.Once

	gate   sync.RWMutex
	closed bool
}

func (e *entry) close() {
	e.gate.Lock()
	e.closed = true
	e.gate.Unlock()
}

func (e *entry) runDetach() {
	e.detachOnce.Do(func() {
		if e.detach != nil {
			e.detach()
		}
	})
}

// Handle is a consumer's interest in one subscription key. Release it when
// the consumer goes away.
type Handle struct {
	id   uuid.UUID
	m    *Manager
	e    *entry
	once sync.Once
}

func (h *Handle) ID() uuid.UUID               { return h.id }
func (h *Handle) Key() domain.SubscriptionKey { return h.e.key }

// Release drops this handle's reference. It is idempotent. Record handlers
// must not call Release for their own subscription.
func (h *Handle) Release() {
	h.once.Do(func() { h.m.release(h) })
}

// EntryStats describes one live subscription.
type EntryStats struct {
	Key    domain.SubscriptionKey `json:"key"`
	Stream string                 `json:"stream"`
	State  SubState               `json:"state"`
	Refs   int                    `json:"refs"`
	Since  time.Time              `json:"since"`
}

// ManagerStats summarizes the manager for observability.
type ManagerStats struct {
	Entries    []EntryStats `json:"entries"`
	Subscribes int64        `json:"subscribes"`
	Detaches   int64        `json:"detaches"`
	Failures   int64        `json:"failures"`
}

// ManagerConfig holds Manager tunables.
type ManagerConfig struct {
	AttachTimeout time.Duration
}

// Manager owns one push subscription per subscription key, shared by every
// consumer holding a handle for that key.
type Manager struct {
	sub     domain.StreamSubscriber
	deriver *streamid.Deriver
	applier *Applier
	conn    *ConnectionState
	alerter Alerter
	cfg     ManagerConfig
	logger  *slog.Logger

	mu         sync.Mutex
	entries    map[domain.SubscriptionKey]*entry
	closed     bool
	subscribes int64
	detaches   int64
	failures   int64

	wg sync.WaitGroup
}

// NewManager creates a Manager. alerter may be nil.
func NewManager(
	sub domain.StreamSubscriber,
	deriver *streamid.Deriver,
	applier *Applier,
	conn *ConnectionState,
	alerter Alerter,
	cfg ManagerConfig,
	logger *slog.Logger,
) *Manager {
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = DefaultAttachTimeout
	}
	return &Manager{
		sub:     sub,
		deriver: deriver,
		applier: applier,
		conn:    conn,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "subscription_manager")),
		entries: make(map[domain.SubscriptionKey]*entry),
	}
}

// ErrManagerClosed is returned by Acquire after Close.
var ErrManagerClosed = errors.New("subscription manager closed")

// Acquire registers interest in key and returns immediately. The first
// handle for a key starts an attach in the background; later handles share
// it. Only key validation errors are returned here; attach failures are
// reported through the connection state.
func (m *Manager) Acquire(key domain.SubscriptionKey) (*Handle, error) {
	if key.Kind == domain.KindPosition {
		key.Address = streamid.NormalizeAddress(key.Address)
	}
	stream, err := m.deriver.ForKey(key)
	if err != nil {
		return nil, fmt.Errorf("feed: acquire %s: %w", key, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	e, ok := m.entries[key]
	if ok {
		e.refs++
		refs := e.refs
		m.mu.Unlock()
		h := &Handle{id: uuid.New(), m: m, e: e}
		m.logger.Debug("subscription shared",
			slog.String("key", key.String()),
			slog.String("handle", h.id.String()),
			slog.Int("refs", refs),
		)
		return h, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e = &entry{
		key:    key,
		stream: stream,
		refs:   1,
		state:  StateAttaching,
		since:  time.Now(),
		cancel: cancel,
	}
	m.entries[key] = e
	m.subscribes++
	m.wg.Add(1)
	m.mu.Unlock()

	h := &Handle{id: uuid.New(), m: m, e: e}
	m.logger.Info("subscription attaching",
		slog.String("key", key.String()),
		slog.String("stream", stream.String()),
		slog.String("handle", h.id.String()),
	)
	go m.attach(ctx, e)
	return h, nil
}

func (m *Manager) attach(ctx context.Context, e *entry) {
	defer m.wg.Done()

	actx, cancel := context.WithTimeout(ctx, m.cfg.AttachTimeout)
	defer cancel()

	detach, err := m.sub.Subscribe(actx, e.stream, func(r domain.Record) { m.deliver(e, r) })

	m.mu.Lock()
	if err != nil {
		released := e.refs == 0
		if m.entries[e.key] == e {
			delete(m.entries, e.key)
		}
		e.state = StateIdle
		if !released {
			m.failures++
		}
		m.mu.Unlock()
		e.close()

		if released {
			m.logger.Debug("attach abandoned after release", slog.String("key", e.key.String()))
			return
		}
		m.conn.SetConnected(false)
		m.logger.Warn("subscription failed",
			slog.String("key", e.key.String()),
			slog.String("error", err.Error()),
		)
		m.alert(e.key, err)
		return
	}

	e.detach = detach
	if e.refs == 0 {
		e.state = StateIdle
		m.detaches++
		m.mu.Unlock()
		e.runDetach()
		m.logger.Debug("late attach detached", slog.String("key", e.key.String()))
		return
	}
	e.state = StateActive
	e.since = time.Now()
	m.mu.Unlock()

	m.logger.Info("subscription active", slog.String("key", e.key.String()))
}

func (m *Manager) deliver(e *entry, r domain.Record) {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return
	}
	if err := m.applier.Apply(e.key, r, SourcePush); err != nil {
		m.logger.Debug("push record rejected",
			slog.String("key", e.key.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) release(h *Handle) {
	e := h.e

	m.mu.Lock()
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		m.logger.Debug("subscription reference released",
			slog.String("key", e.key.String()),
			slog.String("handle", h.id.String()),
			slog.Int("refs", e.refs),
		)
		return
	}
	if m.entries[e.key] == e {
		delete(m.entries, e.key)
	}
	wasActive := e.state == StateActive
	if wasActive {
		e.state = StateDetaching
		m.detaches++
	}
	m.mu.Unlock()

	e.close()
	e.cancel()
	if wasActive {
		e.runDetach()
		m.mu.Lock()
		e.state = StateIdle
		m.mu.Unlock()
	}
	m.logger.Info("subscription released",
		slog.String("key", e.key.String()),
		slog.Bool("was_active", wasActive),
	)
}

// Keys returns every key that is attaching or active.
func (m *Manager) Keys() []domain.SubscriptionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]domain.SubscriptionKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// State returns the state of key, StateIdle when nothing holds it.
func (m *Manager) State(key domain.SubscriptionKey) SubState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.state
	}
	return StateIdle
}

// Stats returns a snapshot of all live entries and counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	st := ManagerStats{
		Entries:    make([]EntryStats, 0, len(m.entries)),
		Subscribes: m.subscribes,
		Detaches:   m.detaches,
		Failures:   m.failures,
	}
	for _, e := range m.entries {
		st.Entries = append(st.Entries, EntryStats{
			Key:    e.key,
			Stream: e.stream.String(),
			State:  e.state,
			Refs:   e.refs,
			Since:  e.since,
		})
	}
	m.mu.Unlock()

	sort.Slice(st.Entries, func(i, j int) bool {
		return st.Entries[i].Key.String() < st.Entries[j].Key.String()
	})
	return st
}

// Close releases every subscription and waits for pending attaches to
// settle. Further Acquire calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for k, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, k)
	}
	var active []*entry
	for _, e := range entries {
		e.refs = 0
		if e.state == StateActive {
			e.state = StateDetaching
			m.detaches++
			active = append(active, e)
		}
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.close()
		e.cancel()
	}
	for _, e := range active {
		e.runDetach()
	}
	m.wg.Wait()
	m.logger.Info("subscription manager closed", slog.Int("released", len(entries)))
}

func (m *Manager) alert(key domain.SubscriptionKey, err error) {
	if m.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("%s: %v", key, err)
	if aerr := m.alerter.Notify(ctx, EventSubscribeFailed, "Subscription failed", msg); aerr != nil {
		m.logger.Warn("subscribe alert failed", slog.String("error", aerr.Error()))
	}
}
