// SPDX-License-Identifier: Unlicense OR MIT

// Package subscriber implements callback lists that tolerate being
// modified from inside a callback.
package subscriber

import (
	"sync"

	"golang.org/x/exp/slices"
)

// List is a list of callbacks. The backing slice is never modified in
// place, so a snapshot stays valid while its callbacks run, and Add or
// the returned cancel functions may be called from inside a callback.
//
// The zero List is empty and ready for use.
type List[F any] struct {
	mu   sync.Mutex
	list []*F
}

// Add appends fn and returns a function removing it again. Cancel is
// idempotent.
func (l *List[F]) Add(fn F) (cancel func()) {
	p := &fn
	l.mu.Lock()
	n := len(l.list)
	l.list = append(l.list[:n:n], p)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if i := slices.Index(l.list, p); i >= 0 {
			l.list = slices.Delete(slices.Clone(l.list), i, i+1)
		}
	}
}

// Snapshot returns the current callbacks. Callbacks added or removed
// afterwards do not affect the returned slice.
func (l *List[F]) Snapshot() []*F {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list
}

// Len returns the number of callbacks.
func (l *List[F]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}
