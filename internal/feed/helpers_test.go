package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marketsync/internal/cache/memory"
	"github.com/alanyoungcy/marketsync/internal/platform/streamtest"
	"github.com/alanyoungcy/marketsync/internal/streamid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type alert struct {
	event, title, message string
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (a *recordingAlerter) Notify(_ context.Context, event, title, message string) error {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert{event, title, message})
	a.mu.Unlock()
	return nil
}

func (a *recordingAlerter) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.alerts))
	for i, al := range a.alerts {
		out[i] = al.event
	}
	return out
}

// harness wires a manager against the in-memory fake transport.
type harness struct {
	clock   *fakeClock
	cache   *memory.Store
	conn    *ConnectionState
	fake    *streamtest.Fake
	deriver *streamid.Deriver
	applier *Applier
	alerter *recordingAlerter
	mgr     *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(),
		cache:   memory.New(0),
		fake:    streamtest.New(),
		deriver: streamid.New(),
		alerter: &recordingAlerter{},
	}
	h.conn = NewConnectionState(WithNow(h.clock.Now))
	h.applier = NewApplier(h.cache, h.conn, testLogger())
	h.mgr = NewManager(h.fake, h.deriver, h.applier, h.conn, h.alerter, ManagerConfig{AttachTimeout: 2 * time.Second}, testLogger())
	t.Cleanup(h.mgr.Close)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
