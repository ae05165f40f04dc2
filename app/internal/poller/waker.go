// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package poller

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Waker is a cross-goroutine wake signal that can be polled. Wake may
// be called from any goroutine; pending wakes collapse into one.
type Waker struct {
	rfd, wfd int
	pending  atomic.Bool
	closed   atomic.Bool
}

// Fd returns the descriptor that becomes readable after Wake.
func (w *Waker) Fd() int {
	return w.rfd
}

// Wake makes the waker readable.
func (w *Waker) Wake() error {
	if w.closed.Load() || w.pending.Swap(true) {
		return nil
	}
	if err := w.signal(); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("poller: wake: %w", err)
	}
	return nil
}

// Drain consumes pending wakes. State changed before a Wake is visible
// to the caller once Drain returns.
//
// The descriptor is emptied before the pending flag is cleared. A Wake
// racing with Drain is then either left readable or absorbed by a flag
// that is still set, and the caller observes its state change anyway.
func (w *Waker) Drain() error {
	// Plenty of room for a backlog of notifications.
	var buf [64]byte
	for {
		_, err := unix.Read(w.rfd, buf[:])
		switch err {
		case nil:
			continue
		case unix.EAGAIN:
			w.pending.Store(false)
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("poller: drain: %w", err)
		}
	}
}

// Close releases the descriptors of w. Wake after Close does nothing.
func (w *Waker) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	err := unix.Close(w.rfd)
	if w.wfd != w.rfd {
		if err2 := unix.Close(w.wfd); err == nil {
			err = err2
		}
	}
	return err
}
