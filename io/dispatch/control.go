// SPDX-License-Identifier: Unlicense OR MIT

package dispatch

import "sync"

// Control stops a running dispatch loop. A loop binds the control on
// entry and releases it on exit; Stop on an unbound control does
// nothing.
//
// Stop may be called any number of times, from any goroutine,
// including from a handler running inside the loop it stops. It never
// waits for the loop to exit.
//
// The zero Control is ready for use.
type Control struct {
	mu   sync.Mutex
	stop func()
}

// Bind attaches the stop function of a loop to c. The returned release
// function must be called when the loop exits. Binding an already bound
// control returns ErrControlBound.
//
// Bind is meant for loop implementations; applications only call Stop.
func (c *Control) Bind(stop func()) (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil, ErrControlBound
	}
	c.stop = stop
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.stop = nil
			c.mu.Unlock()
		})
	}, nil
}

// Stop requests the bound loop to exit.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Calling stop under the lock guarantees no stop is in flight
	// once release returns.
	if c.stop != nil {
		c.stop()
	}
}

// Bound reports whether a loop currently owns c.
func (c *Control) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}
