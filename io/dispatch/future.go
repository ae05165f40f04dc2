// SPDX-License-Identifier: Unlicense OR MIT

package dispatch

import (
	"context"
	"sync"
)

// Future is resolved once a synchronization point of a Threaded
// dispatcher has been reached.
type Future struct {
	once sync.Once
	done chan struct{}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture() *Future {
	f := newFuture()
	f.resolve()
	return f
}

func (f *Future) resolve() {
	f.once.Do(func() { close(f.done) })
}

// Done returns a channel that is closed when f resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until f resolves.
func (f *Future) Wait() {
	<-f.done
}

// WaitContext blocks until f resolves or ctx is done.
func (f *Future) WaitContext(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolved reports whether f has resolved.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
