// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

// Package poller implements the blocking wait of a dispatch loop: a
// poll over a backend connection, a cross-goroutine waker and user
// registered descriptors.
package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Conn.Flush when the connection's output
// buffer cannot be written without blocking.
var ErrWouldBlock = errors.New("poller: flush would block")

// Poll event bits for registered descriptors.
const (
	In  = unix.POLLIN
	Out = unix.POLLOUT
	Err = unix.POLLERR
	Hup = unix.POLLHUP
)

// Conn is the primary descriptor a Poller waits on.
type Conn interface {
	// Fd returns the connection descriptor.
	Fd() int
	// Flush writes buffered output. It returns ErrWouldBlock if the
	// descriptor is not writable.
	Flush() error
}

// Result describes why Wait returned.
type Result struct {
	// Readable reports that the connection has input.
	Readable bool
	// Woken reports that the waker fired.
	Woken bool
	// Hangup reports an error or hangup on the connection.
	Hangup bool
}

// Poller waits on a connection, its waker and registered descriptors.
// It is owned by a single goroutine except for Waker().Wake.
type Poller struct {
	waker *Waker
	reg   Registry
	pfds  []unix.PollFd
}

// New returns a poller with a fresh waker.
func New() (*Poller, error) {
	w, err := NewWaker()
	if err != nil {
		return nil, err
	}
	return &Poller{waker: w}, nil
}

// Waker returns the waker of p.
func (p *Poller) Waker() *Waker {
	return p.waker
}

// Registry returns the descriptor registry of p.
func (p *Poller) Registry() *Registry {
	return &p.reg
}

// Close releases the waker.
func (p *Poller) Close() error {
	return p.waker.Close()
}

// Wait flushes c and blocks until c is readable, reports a hangup, or
// the waker fires. While the output of c cannot be flushed, Wait polls
// for writability instead of spinning, and returns early if input
// arrives so that the peer is never starved while our output is
// blocked. Callbacks of ready registered descriptors run before Wait
// returns.
func (p *Poller) Wait(c Conn) (Result, error) {
	for {
		err := c.Flush()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrWouldBlock) {
			return Result{Hangup: true}, fmt.Errorf("poller: flush: %w", err)
		}
		// The output buffer is full. Poll for POLLOUT to know when
		// we can write again, but keep reading: the peer may be
		// blocked writing to us.
		r, err := p.poll(c.Fd(), unix.POLLIN|unix.POLLOUT)
		if err != nil || r.Hangup || r.Woken || r.Readable {
			return r, err
		}
	}
	return p.poll(c.Fd(), unix.POLLIN)
}

func (p *Poller) poll(fd int, events int16) (Result, error) {
	pfds := append(p.pfds[:0],
		unix.PollFd{Fd: int32(fd), Events: events},
		unix.PollFd{Fd: int32(p.waker.Fd()), Events: unix.POLLIN},
	)
	pfds, entries := p.reg.appendFds(pfds)
	p.pfds = pfds
	for {
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("poller: poll: %w", err)
		}
		break
	}
	var r Result
	if pfds[1].Revents != 0 {
		r.Woken = true
		if err := p.waker.Drain(); err != nil {
			return r, err
		}
	}
	rev := pfds[0].Revents
	r.Readable = rev&unix.POLLIN != 0
	r.Hangup = rev&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
	p.reg.dispatch(entries, pfds[2:])
	return r, nil
}
