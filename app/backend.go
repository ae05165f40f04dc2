// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nyorain/ny/app/internal/poller"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/transfer"
	"golang.org/x/exp/slices"
)

var (
	// ErrConnectionLost is wrapped by the error a loop returns when the
	// backend connection fails. The connection cannot be recovered.
	ErrConnectionLost = errors.New("app: connection lost")
	// ErrDuplicateBackend is returned when registering a backend name
	// twice.
	ErrDuplicateBackend = errors.New("app: duplicate backend")
	// ErrNoBackend is returned by Registry.Select when no registered
	// backend matches.
	ErrNoBackend = errors.New("app: no backend available")
	// ErrClosed is returned by operations on a closed Context.
	ErrClosed = errors.New("app: context closed")
	// ErrWouldBlock is returned by Conn.Flush when the output buffer
	// cannot be written without blocking.
	ErrWouldBlock = poller.ErrWouldBlock
)

// Conn is a connection to a native display server, implemented by
// backends. All methods except Close are called from the dispatch
// goroutine only.
type Conn interface {
	// Fd returns the descriptor the connection reads from.
	Fd() int
	// Flush writes buffered output. It returns ErrWouldBlock when the
	// descriptor is not writable.
	Flush() error
	// ReadEvents reads and translates the input available on the
	// descriptor without blocking. An error, including end of file,
	// means the connection is lost.
	ReadEvents() error
	// Next returns the next translated event, or false if none is
	// pending.
	Next() (*event.Event, bool)
	// Clipboard returns the session of the current clipboard owner, or
	// nil if the clipboard is empty or owned by this connection.
	Clipboard() *transfer.Session
	// SetClipboard takes ownership of the clipboard and offers the
	// data of src to other clients.
	SetClipboard(src transfer.Source) error
	Close() error
}

// Backend opens connections of one native windowing system.
type Backend struct {
	// Name identifies the backend, for example in the NY_BACKEND
	// environment variable.
	Name string
	// Open connects to the display server.
	Open func(log *slog.Logger) (Conn, error)
}

// Registry is the set of backends available to a program. Programs
// usually fill one registry at startup and pass it to Open.
type Registry struct {
	mu       sync.Mutex
	backends []Backend
}

// Register adds b. Backends are tried in registration order.
func (r *Registry) Register(b Backend) error {
	if b.Name == "" || b.Open == nil {
		return fmt.Errorf("app: invalid backend %q", b.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.ContainsFunc(r.backends, func(o Backend) bool { return o.Name == b.Name }) {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, b.Name)
	}
	r.backends = append(r.backends, b)
	return nil
}

// Backends returns the registered backends in registration order.
func (r *Registry) Backends() []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.backends)
}

// Select returns the backend with the given name, or the first
// registered backend if name is empty.
func (r *Registry) Select(name string) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		if len(r.backends) == 0 {
			return Backend{}, ErrNoBackend
		}
		return r.backends[0], nil
	}
	i := slices.IndexFunc(r.backends, func(b Backend) bool { return b.Name == name })
	if i < 0 {
		return Backend{}, fmt.Errorf("%w: %s", ErrNoBackend, name)
	}
	return r.backends[i], nil
}
