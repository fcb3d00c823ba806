// Package streamtest provides a deterministic in-memory push channel and
// snapshot source for tests.
package streamtest

import (
	"context"
	"sync"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Fake implements domain.StreamSubscriber and domain.SnapshotReader in
// memory. Records are only delivered when the test calls Deliver.
type Fake struct {
	mu         sync.Mutex
	handlers   map[domain.StreamID]map[int]domain.RecordHandler
	nextID     int
	subscribes map[domain.StreamID]int
	detaches   map[domain.StreamID]int

	hold      bool
	ignoreCtx bool
	pending   map[domain.StreamID][]chan error
	failErr   error

	snapshots map[domain.StreamID]domain.Record
	snapErr   map[domain.StreamID]error
	reads     int
}

var (
	_ domain.StreamSubscriber = (*Fake)(nil)
	_ domain.SnapshotReader   = (*Fake)(nil)
)

// New creates an empty Fake whose subscriptions succeed immediately.
func New() *Fake {
	return &Fake{
		handlers:   make(map[domain.StreamID]map[int]domain.RecordHandler),
		subscribes: make(map[domain.StreamID]int),
		detaches:   make(map[domain.StreamID]int),
		pending:    make(map[domain.StreamID][]chan error),
		snapshots:  make(map[domain.StreamID]domain.Record),
		snapErr:    make(map[domain.StreamID]error),
	}
}

// HoldAttaches makes later Subscribe calls block until Resolve or Fail.
func (f *Fake) HoldAttaches(hold bool) {
	f.mu.Lock()
	f.hold = hold
	f.mu.Unlock()
}

// IgnoreCancellation makes held attaches wait for Resolve or Fail even after
// their context is cancelled, like a transport that cannot abort in flight.
func (f *Fake) IgnoreCancellation(ignore bool) {
	f.mu.Lock()
	f.ignoreCtx = ignore
	f.mu.Unlock()
}

// FailSubscribes makes later Subscribe calls fail with err. nil restores
// success.
func (f *Fake) FailSubscribes(err error) {
	f.mu.Lock()
	f.failErr = err
	f.mu.Unlock()
}

// Subscribe registers onRecord for id.
func (f *Fake) Subscribe(ctx context.Context, id domain.StreamID, onRecord domain.RecordHandler) (func(), error) {
	f.mu.Lock()
	f.subscribes[id]++
	failErr := f.failErr
	done := ctx.Done()
	if f.ignoreCtx {
		done = nil
	}
	var wait chan error
	if f.hold && failErr == nil {
		wait = make(chan error, 1)
		f.pending[id] = append(f.pending[id], wait)
	}
	f.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if wait != nil {
		select {
		case err := <-wait:
			if err != nil {
				return nil, err
			}
		case <-done:
			f.dropPending(id, wait)
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	hid := f.nextID
	f.nextID++
	if f.handlers[id] == nil {
		f.handlers[id] = make(map[int]domain.RecordHandler)
	}
	f.handlers[id][hid] = onRecord
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers[id], hid)
			f.detaches[id]++
			f.mu.Unlock()
		})
	}, nil
}

// Resolve completes the oldest pending attach on id successfully. It
// reports whether an attach was pending.
func (f *Fake) Resolve(id domain.StreamID) bool {
	return f.settle(id, nil)
}

// Fail completes the oldest pending attach on id with err.
func (f *Fake) Fail(id domain.StreamID, err error) bool {
	return f.settle(id, err)
}

func (f *Fake) settle(id domain.StreamID, err error) bool {
	f.mu.Lock()
	q := f.pending[id]
	if len(q) == 0 {
		f.mu.Unlock()
		return false
	}
	wait := q[0]
	f.pending[id] = q[1:]
	f.mu.Unlock()
	wait <- err
	return true
}

func (f *Fake) dropPending(id domain.StreamID, wait chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.pending[id]
	for i, w := range q {
		if w == wait {
			f.pending[id] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// Pending returns the number of attaches waiting on id.
func (f *Fake) Pending(id domain.StreamID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[id])
}

// Deliver invokes every live handler for id with rec and returns how many
// were called.
func (f *Fake) Deliver(id domain.StreamID, rec domain.Record) int {
	f.mu.Lock()
	hs := make([]domain.RecordHandler, 0, len(f.handlers[id]))
	for _, h := range f.handlers[id] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(rec)
	}
	return len(hs)
}

// Subscribed returns the number of Subscribe calls for id.
func (f *Fake) Subscribed(id domain.StreamID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[id]
}

// Detached returns the number of detach calls that took effect for id.
func (f *Fake) Detached(id domain.StreamID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detaches[id]
}

// Live returns the number of attached handlers for id.
func (f *Fake) Live(id domain.StreamID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[id])
}

// SetSnapshot stores the record GetByKey returns for id. A nil record
// removes it.
func (f *Fake) SetSnapshot(id domain.StreamID, rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec == nil {
		delete(f.snapshots, id)
		return
	}
	f.snapshots[id] = rec
}

// SetSnapshotError makes GetByKey fail for id. nil clears it.
func (f *Fake) SetSnapshotError(id domain.StreamID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.snapErr, id)
		return
	}
	f.snapErr[id] = err
}

// GetByKey returns the stored snapshot, ErrNotFound when absent.
func (f *Fake) GetByKey(_ context.Context, _ domain.SchemaID, id domain.StreamID) (domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if err := f.snapErr[id]; err != nil {
		return nil, err
	}
	rec, ok := f.snapshots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make(domain.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

// Reads returns the number of GetByKey calls.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
