// SPDX-License-Identifier: Unlicense OR MIT

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nyorain/ny/internal/subscriber"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/router"
)

// Threaded queues events dispatched from any goroutine and delivers
// them in arrival order from the goroutine running Loop or
// DispatchEvents. Overridable events coalesce while queued.
type Threaded struct {
	*Dispatcher

	mu       sync.Mutex
	cond     sync.Cond
	queue    event.Queue
	watchers []watcher
	running  bool
	// inflight is the event being delivered with mu released.
	inflight *event.Event

	onDispatch subscriber.List[func(wasEmpty bool)]
}

// watcher is a pending Sync or WaitIdle future. A nil last event means
// the watcher waits for the queue to become empty.
type watcher struct {
	last   *event.Event
	future *Future
}

// NewThreaded returns a threaded dispatcher routing through r.
func NewThreaded(r *router.Router, options ...Option) (*Threaded, error) {
	d, err := NewDispatcher(r, options...)
	if err != nil {
		return nil, err
	}
	t := &Threaded{Dispatcher: d}
	t.cond.L = &t.mu
	return t, nil
}

// OnDispatch registers fn to be called after every successful
// Dispatch, outside the queue lock. wasEmpty reports whether the queue
// was empty before the event was added. Loops blocked on something
// other than the queue use it to wake up.
func (t *Threaded) OnDispatch(fn func(wasEmpty bool)) (cancel func()) {
	return t.onDispatch.Add(fn)
}

// Dispatch queues e for delivery and wakes the dispatch loop. It may be
// called from any goroutine, including from a handler.
//
// Events without a target are reported as unrouted and not queued.
func (t *Threaded) Dispatch(e *event.Event) error {
	if e == nil {
		t.log.Warn("dispatch: invalid event")
		return ErrNilEvent
	}
	if !e.Routed() {
		t.unrouted(e)
		return nil
	}
	t.mu.Lock()
	wasEmpty := t.queue.Len() == 0
	if replaced := t.queue.Push(e); replaced != nil {
		// e took the queue slot of replaced; everything ahead of it
		// is unchanged.
		for i := range t.watchers {
			if t.watchers[i].last == replaced {
				t.watchers[i].last = e
			}
		}
	}
	t.cond.Signal()
	t.mu.Unlock()
	for _, fn := range t.onDispatch.Snapshot() {
		(*fn)(wasEmpty)
	}
	return nil
}

// DispatchSync queues e and blocks until the queue has been drained up
// to and including e, or ctx is done.
//
// Events dispatched by other goroutines between queueing e and
// creating the synchronization point may be drained first; the only
// guarantee is that everything up to e has been delivered.
//
// DispatchSync must not be called from the dispatch goroutine.
func (t *Threaded) DispatchSync(ctx context.Context, e *event.Event) error {
	if err := t.Dispatch(e); err != nil {
		return err
	}
	// TODO: capture the sync point under the same lock as the push to
	// drop the window where later events are included.
	return t.Sync().WaitContext(ctx)
}

// Sync returns a future that resolves once every event queued at the
// time of the call has been delivered.
func (t *Threaded) Sync() *Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.queue.Back()
	if !ok {
		last = t.inflight
	}
	if last == nil {
		return resolvedFuture()
	}
	f := newFuture()
	t.watchers = append(t.watchers, watcher{last: last, future: f})
	return f
}

// WaitIdle returns a future that resolves the next time the queue is
// completely empty.
func (t *Threaded) WaitIdle() *Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue.Len() == 0 && t.inflight == nil {
		return resolvedFuture()
	}
	f := newFuture()
	t.watchers = append(t.watchers, watcher{future: f})
	return f
}

// Len returns the number of queued events.
func (t *Threaded) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

// DispatchEvents delivers queued events until the queue is empty,
// without blocking for new ones. Events dispatched by handlers during
// delivery are delivered by the same call.
func (t *Threaded) DispatchEvents() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		e, ok := t.queue.PopFront()
		if !ok {
			break
		}
		t.deliver(e)
	}
	t.resolveAll()
}

// Loop delivers events as they arrive until ctl is stopped. Only one
// loop may run on t at a time.
func (t *Threaded) Loop(ctl *Control) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrLoopRunning
	}
	t.running = true
	t.mu.Unlock()

	var stop atomic.Bool
	release, err := ctl.Bind(func() {
		stop.Store(true)
		t.mu.Lock()
		t.cond.Signal()
		t.mu.Unlock()
	})
	if err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return err
	}
	t.log.Debug("dispatch: loop started")

	t.mu.Lock()
	for {
		if t.queue.Len() == 0 {
			// No queued event can be the target of a watcher.
			t.resolveAll()
			for t.queue.Len() == 0 && !stop.Load() {
				t.cond.Wait()
			}
		}
		if stop.Load() {
			break
		}
		e, _ := t.queue.PopFront()
		t.deliver(e)
	}
	t.running = false
	pending := t.queue.Len()
	t.mu.Unlock()

	release()
	t.log.Debug("dispatch: loop stopped", slog.Int("pending", pending))
	return nil
}

// deliver sends e with t.mu released and resolves the watchers waiting
// for it. t.mu must be held.
func (t *Threaded) deliver(e *event.Event) {
	t.inflight = e
	t.mu.Unlock()
	t.Send(e)
	t.mu.Lock()
	t.inflight = nil
	w := t.watchers[:0]
	for _, wt := range t.watchers {
		if wt.last == e {
			wt.future.resolve()
			continue
		}
		w = append(w, wt)
	}
	clear(t.watchers[len(w):])
	t.watchers = w
	if t.queue.Len() == 0 {
		t.resolveAll()
	}
}

// resolveAll resolves every pending watcher. t.mu must be held.
func (t *Threaded) resolveAll() {
	for _, w := range t.watchers {
		w.future.resolve()
	}
	clear(t.watchers)
	t.watchers = t.watchers[:0]
}
