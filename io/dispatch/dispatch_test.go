// SPDX-License-Identifier: Unlicense OR MIT

package dispatch

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a handler that records delivered events.
type recorder struct {
	mu     sync.Mutex
	events []*event.Event
	hook   func(e *event.Event)
}

func (r *recorder) Event(e *event.Event) bool {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return true
}

func (r *recorder) delivered() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func newThreaded(t *testing.T) (*Threaded, *recorder, event.Tag) {
	t.Helper()
	d, err := NewThreaded(router.New(), WithLogger(logx.Discard()))
	require.NoError(t, err)
	rec := new(recorder)
	return d, rec, d.Router().Attach(rec)
}

// runLoop runs d.Loop on a new goroutine and returns a channel
// receiving its result.
func runLoop(d *Threaded, ctl *Control) <-chan error {
	done := make(chan error, 1)
	go func() { done <- d.Loop(ctl) }()
	return done
}

func waitFor(t *testing.T, f *Future) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future did not resolve")
	}
}

func TestSendRoutesToHandler(t *testing.T) {
	d, err := NewDispatcher(router.New(), WithLogger(logx.Discard()))
	require.NoError(t, err)
	rec := new(recorder)
	tag := d.Router().Attach(rec)
	e := event.New(tag, event.KeyEvent{Rune: 'x', Pressed: true})
	assert.True(t, d.Send(e))
	assert.Equal(t, []*event.Event{e}, rec.delivered())
}

func TestSendUnrouted(t *testing.T) {
	var buf bytes.Buffer
	d, err := NewDispatcher(router.New(), WithLogger(logx.New(&buf, slog.LevelWarn)))
	require.NoError(t, err)
	rec := new(recorder)
	tag := d.Router().Attach(rec)
	d.Router().Detach(tag)

	assert.False(t, d.Send(event.New(0, event.CloseEvent{})))
	assert.False(t, d.Send(event.New(tag, event.CloseEvent{})))
	assert.False(t, d.Send(nil))
	assert.Empty(t, rec.delivered())
	assert.Contains(t, buf.String(), "no handler")
}

func TestOnKindHooks(t *testing.T) {
	d, err := NewDispatcher(router.New(), WithLogger(logx.Discard()))
	require.NoError(t, err)
	tag := d.Router().Attach(new(recorder))

	var seen int
	var cancel func()
	cancel = d.OnKind(event.Resize, func(*event.Event) {
		seen++
		cancel()
	})
	other := d.OnKind(event.Resize, func(*event.Event) { seen += 10 })
	defer other()

	d.Send(event.New(tag, event.ResizeEvent{Width: 1, Height: 1}))
	d.Send(event.New(tag, event.ResizeEvent{Width: 2, Height: 2}))
	d.Send(event.New(tag, event.KeyEvent{}))
	assert.Equal(t, 21, seen)
}

func TestDispatchEventsDrains(t *testing.T) {
	d, rec, tag := newThreaded(t)
	reentrant := event.New(tag, event.KeyEvent{Rune: 'b', Pressed: true})
	rec.hook = func(e *event.Event) {
		if e.Payload == (event.KeyEvent{Rune: 'a', Pressed: true}) {
			require.NoError(t, d.Dispatch(reentrant))
		}
	}
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{Rune: 'a', Pressed: true})))
	d.DispatchEvents()

	evts := rec.delivered()
	require.Len(t, evts, 2)
	assert.Same(t, reentrant, evts[1])
	assert.Zero(t, d.Len())
}

func TestDispatchCoalescesInOrder(t *testing.T) {
	d, rec, tag := newThreaded(t)
	for _, p := range []event.Payload{
		event.ResizeEvent{Width: 100, Height: 100},
		event.ResizeEvent{Width: 200, Height: 200},
		event.KeyEvent{Rune: 'a', Pressed: true},
		event.ResizeEvent{Width: 300, Height: 300},
	} {
		require.NoError(t, d.Dispatch(event.New(tag, p)))
	}
	d.DispatchEvents()

	evts := rec.delivered()
	require.Len(t, evts, 2)
	assert.Equal(t, event.ResizeEvent{Width: 300, Height: 300}, evts[0].Payload)
	assert.Equal(t, event.KeyEvent{Rune: 'a', Pressed: true}, evts[1].Payload)
}

func TestDispatchRejectsInvalid(t *testing.T) {
	d, _, _ := newThreaded(t)
	assert.ErrorIs(t, d.Dispatch(nil), ErrNilEvent)
	assert.NoError(t, d.Dispatch(event.New(0, event.DrawEvent{})))
	assert.Zero(t, d.Len())
}

func TestWaitIdleEmptyResolvesImmediately(t *testing.T) {
	d, _, _ := newThreaded(t)
	assert.True(t, d.WaitIdle().Resolved())
	assert.True(t, d.Sync().Resolved())
}

func TestWaitIdleResolvesAfterDrain(t *testing.T) {
	d, rec, tag := newThreaded(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{Code: uint32(i)})))
	}
	idle := d.WaitIdle()
	assert.False(t, idle.Resolved())

	var ctl Control
	done := runLoop(d, &ctl)
	waitFor(t, idle)
	assert.Len(t, rec.delivered(), 3)
	ctl.Stop()
	require.NoError(t, <-done)
}

func TestSyncSurvivesCoalescing(t *testing.T) {
	d, rec, tag := newThreaded(t)
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{Code: 1})))
	require.NoError(t, d.Dispatch(event.New(tag, event.ResizeEvent{Width: 1})))
	point := d.Sync()
	// Replaces the event sync is waiting for.
	require.NoError(t, d.Dispatch(event.New(tag, event.ResizeEvent{Width: 2})))
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{Code: 2})))

	rec.hook = func(e *event.Event) {
		if e.Kind == event.Resize {
			return
		}
		if e.Payload == (event.KeyEvent{Code: 2}) {
			assert.True(t, point.Resolved(), "sync point must resolve once the replacing event is delivered")
		}
	}
	d.DispatchEvents()
	assert.True(t, point.Resolved())
}

func TestDispatchSync(t *testing.T) {
	d, rec, tag := newThreaded(t)
	var ctl Control
	done := runLoop(d, &ctl)

	e := event.New(tag, event.KeyEvent{Code: 7})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.DispatchSync(ctx, e))
	assert.Contains(t, rec.delivered(), e)

	ctl.Stop()
	require.NoError(t, <-done)
}

func TestConcurrentProducersPreserveOrder(t *testing.T) {
	d, rec, tag := newThreaded(t)
	var ctl Control
	done := runLoop(d, &ctl)

	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				e := event.New(tag, event.KeyEvent{Code: uint32(p), Rune: rune(i)})
				assert.NoError(t, d.Dispatch(e))
			}
		}(p)
	}
	wg.Wait()
	waitFor(t, d.WaitIdle())
	ctl.Stop()
	require.NoError(t, <-done)

	last := make(map[uint32]rune)
	evts := rec.delivered()
	require.Len(t, evts, producers*perProducer)
	for _, e := range evts {
		k := e.Payload.(event.KeyEvent)
		if prev, ok := last[k.Code]; ok {
			assert.Greater(t, k.Rune, prev)
		}
		last[k.Code] = k.Rune
	}
}

func TestStopIdempotentConcurrent(t *testing.T) {
	d, _, _ := newThreaded(t)
	var ctl Control
	done := runLoop(d, &ctl)
	require.Eventually(t, ctl.Bound, 5*time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctl.Stop()
		}()
	}
	wg.Wait()
	require.NoError(t, <-done)
	assert.False(t, ctl.Bound())
	// Stopping an unbound control is a no-op.
	ctl.Stop()
}

func TestStopFromHandler(t *testing.T) {
	d, rec, tag := newThreaded(t)
	var ctl Control
	rec.hook = func(*event.Event) { ctl.Stop() }
	require.NoError(t, d.Dispatch(event.New(tag, event.CloseEvent{})))
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{})))
	require.NoError(t, d.Loop(&ctl))
	assert.Len(t, rec.delivered(), 1)
	assert.Equal(t, 1, d.Len())
}

func TestLoopMisuse(t *testing.T) {
	d, _, _ := newThreaded(t)
	var ctl Control
	done := runLoop(d, &ctl)
	require.Eventually(t, ctl.Bound, 5*time.Second, time.Millisecond)

	var other Control
	assert.ErrorIs(t, d.Loop(&other), ErrLoopRunning)

	d2, _, _ := newThreaded(t)
	assert.ErrorIs(t, d2.Loop(&ctl), ErrControlBound)

	ctl.Stop()
	require.NoError(t, <-done)
}

func TestOnDispatchReportsTransition(t *testing.T) {
	d, _, tag := newThreaded(t)
	var transitions []bool
	cancel := d.OnDispatch(func(wasEmpty bool) { transitions = append(transitions, wasEmpty) })
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{})))
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{})))
	cancel()
	require.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{})))
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestFutureWaitContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.WaitContext(ctx), context.Canceled)
	f.resolve()
	f.resolve()
	assert.NoError(t, f.WaitContext(context.Background()))
}
