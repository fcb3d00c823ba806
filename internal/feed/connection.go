package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Alert event types raised by the sync layer.
const (
	EventQualityDegraded  = "quality_degraded"
	EventQualityRecovered = "quality_recovered"
	EventSubscribeFailed  = "subscribe_failed"
)

// Alerter forwards operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ConnectionSnapshot is a point-in-time view of the connection state.
type ConnectionSnapshot struct {
	IsConnected bool           `json:"isConnected"`
	LastUpdate  time.Time      `json:"lastUpdate"`
	Elapsed     time.Duration  `json:"-"`
	ElapsedMs   int64          `json:"elapsedMs"`
	Quality     domain.Quality `json:"quality"`
}

// ConnectionState tracks process-wide freshness. lastUpdate starts at
// construction time and isConnected starts false.
type ConnectionState struct {
	mu         sync.RWMutex
	lastUpdate time.Time
	connected  bool

	thresholds domain.QualityThresholds
	now        func() time.Time
}

// ConnectionOption configures a ConnectionState.
type ConnectionOption func(*ConnectionState)

// WithNow injects the clock.
func WithNow(now func() time.Time) ConnectionOption {
	return func(c *ConnectionState) { c.now = now }
}

// WithThresholds overrides the quality thresholds.
func WithThresholds(t domain.QualityThresholds) ConnectionOption {
	return func(c *ConnectionState) { c.thresholds = t }
}

// NewConnectionState creates a ConnectionState.
func NewConnectionState(opts ...ConnectionOption) *ConnectionState {
	c := &ConnectionState{
		thresholds: domain.DefaultQualityThresholds,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.lastUpdate = c.now()
	return c
}

// Touch records a successfully applied push record.
func (c *ConnectionState) Touch() {
	now := c.now()
	c.mu.Lock()
	c.lastUpdate = now
	c.connected = true
	c.mu.Unlock()
}

// SetConnected overrides the connected flag without moving lastUpdate.
func (c *ConnectionState) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *ConnectionState) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *ConnectionState) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Quality classifies the time elapsed since the last update. It is computed
// on every call and has no side effects.
func (c *ConnectionState) Quality() domain.Quality {
	return c.Snapshot().Quality
}

// Snapshot returns the current state with quality computed from the clock.
func (c *ConnectionState) Snapshot() ConnectionSnapshot {
	c.mu.RLock()
	last, connected := c.lastUpdate, c.connected
	c.mu.RUnlock()

	elapsed := c.now().Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	return ConnectionSnapshot{
		IsConnected: connected,
		LastUpdate:  last,
		Elapsed:     elapsed,
		ElapsedMs:   elapsed.Milliseconds(),
		Quality:     c.thresholds.Classify(elapsed),
	}
}

// QualityEvent is emitted when the observed quality level changes.
type QualityEvent struct {
	From     domain.Quality     `json:"from"`
	To       domain.Quality     `json:"to"`
	Snapshot ConnectionSnapshot `json:"snapshot"`
}

// QualityMonitor samples a ConnectionState on a fixed tick and reports
// level transitions.
type QualityMonitor struct {
	state   *ConnectionState
	tick    time.Duration
	alerter Alerter
	logger  *slog.Logger

	mu        sync.Mutex
	last      domain.Quality
	listeners map[int]chan QualityEvent
	nextID    int
}

// NewQualityMonitor creates a monitor. alerter may be nil.
func NewQualityMonitor(state *ConnectionState, tick time.Duration, alerter Alerter, logger *slog.Logger) *QualityMonitor {
	if tick <= 0 {
		tick = time.Second
	}
	return &QualityMonitor{
		state:     state,
		tick:      tick,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "quality_monitor")),
		last:      state.Quality(),
		listeners: make(map[int]chan QualityEvent),
	}
}

// Run samples until ctx is cancelled.
func (m *QualityMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	m.logger.Info("quality monitor started", slog.Duration("tick", m.tick))
	defer m.logger.Info("quality monitor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check samples once and reports a transition if the level changed.
func (m *QualityMonitor) Check(ctx context.Context) domain.Quality {
	snap := m.state.Snapshot()

	m.mu.Lock()
	prev := m.last
	m.last = snap.Quality
	if prev == snap.Quality {
		m.mu.Unlock()
		return snap.Quality
	}
	ev := QualityEvent{From: prev, To: snap.Quality, Snapshot: snap}
	for _, ch := range m.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "connection quality changed",
		slog.String("from", string(prev)),
		slog.String("to", string(snap.Quality)),
		slog.Duration("since_update", snap.Elapsed),
		slog.Bool("connected", snap.IsConnected),
	)
	m.alert(ctx, ev)
	return snap.Quality
}

// Current returns the last sampled level.
func (m *QualityMonitor) Current() domain.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Subscribe registers a transition listener. Events are dropped for a full
// buffer. The returned func unregisters and closes the channel.
func (m *QualityMonitor) Subscribe(buffer int) (<-chan QualityEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan QualityEvent, buffer)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *QualityMonitor) alert(ctx context.Context, ev QualityEvent) {
	if m.alerter == nil {
		return
	}
	event, title := EventQualityDegraded, "Connection quality degraded"
	if rank(ev.To) < rank(ev.From) {
		event, title = EventQualityRecovered, "Connection quality recovered"
	}
	msg := string(ev.From) + " -> " + string(ev.To) + ", last update " + ev.Snapshot.Elapsed.Truncate(time.Millisecond).String() + " ago"
	if err := m.alerter.Notify(ctx, event, title, msg); err != nil {
		m.logger.WarnContext(ctx, "quality alert failed", slog.String("error", err.Error()))
	}
}

func rank(q domain.Quality) int {
	switch q {
	case domain.QualityGood:
		return 0
	case domain.QualityFair:
		return 1
	default:
		return 2
	}
}
