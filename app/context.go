// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fogfish/opts"
	"github.com/nyorain/ny/app/internal/poller"
	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/io/dispatch"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/router"
	"github.com/nyorain/ny/io/transfer"
)

// BackendEnv names the environment variable Open reads the backend
// name from when no WithBackend option is given.
const BackendEnv = "NY_BACKEND"

// Config holds the options of a Context.
type Config struct {
	logger  *slog.Logger
	backend string
	router  *router.Router
}

// Option configures a Context.
type Option = opts.Option[Config]

var (
	// WithLogger sets the logger of the context and its dispatcher.
	WithLogger = opts.ForName[Config, *slog.Logger]("logger")
	// WithBackend selects the backend Open connects with.
	WithBackend = opts.ForName[Config, string]("backend")
	// WithRouter makes the context deliver through an existing handler
	// arena, for example one shared with a threaded dispatcher.
	WithRouter = opts.ForName[Config, *router.Router]("router")
)

// FdID identifies a descriptor registered with RegisterFd.
type FdID = poller.ID

// FdCallback receives the ready events of a registered descriptor.
type FdCallback = poller.Callback

// Poll event bits for RegisterFd.
const (
	PollIn  = poller.In
	PollOut = poller.Out
	PollErr = poller.Err
	PollHup = poller.Hup
)

// Context owns a backend connection and runs the dispatch loop that
// delivers its events.
//
// A Context is driven by a single dispatch goroutine, the one calling
// Loop, ThreadedLoop or DispatchEvents. Dispatch may be called from
// any goroutine. Close must not race with a running loop.
type Context struct {
	conn   Conn
	log    *slog.Logger
	disp   *dispatch.Dispatcher
	poller *poller.Poller

	running atomic.Bool

	mu      sync.Mutex
	pending []*event.Event
	closed  bool
}

// Open connects to the backend selected by WithBackend, the NY_BACKEND
// environment variable, or the first backend of reg, in that order.
func Open(reg *Registry, options ...Option) (*Context, error) {
	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	name := cfg.backend
	if name == "" {
		name = os.Getenv(BackendEnv)
	}
	b, err := reg.Select(name)
	if err != nil {
		return nil, err
	}
	conn, err := b.Open(cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("app: open %s: %w", b.Name, err)
	}
	cfg.logger.Debug("app: backend connected", slog.String("backend", b.Name))
	c, err := newContext(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New returns a context for an open backend connection. The context
// takes ownership of conn.
func New(conn Conn, options ...Option) (*Context, error) {
	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	return newContext(conn, cfg)
}

func newConfig(options []Option) (Config, error) {
	var cfg Config
	if err := opts.Apply(&cfg, options); err != nil {
		return cfg, err
	}
	if cfg.logger == nil {
		cfg.logger = logx.Default()
	}
	if cfg.router == nil {
		cfg.router = router.New()
	}
	return cfg, nil
}

func newContext(conn Conn, cfg Config) (*Context, error) {
	disp, err := dispatch.NewDispatcher(cfg.router, dispatch.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	return &Context{
		conn:   conn,
		log:    cfg.logger,
		disp:   disp,
		poller: p,
	}, nil
}

// Router returns the handler arena events are routed through. Attach
// window handlers to it and tag backend resources with the result.
func (c *Context) Router() *router.Router {
	return c.disp.Router()
}

// Conn returns the backend connection of c.
func (c *Context) Conn() Conn {
	return c.conn
}

// Dispatcher returns the immediate dispatcher of c.
func (c *Context) Dispatcher() *dispatch.Dispatcher {
	return c.disp
}

// Dispatch queues e for delivery by the dispatch goroutine and wakes
// it. Events without a target are reported as unrouted and dropped.
func (c *Context) Dispatch(e *event.Event) error {
	if e == nil {
		return dispatch.ErrNilEvent
	}
	if !e.Routed() {
		c.log.Warn("app: event with no handler", logx.Stringer("kind", e.Kind))
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending = append(c.pending, e)
	c.mu.Unlock()
	c.wake()
	return nil
}

func (c *Context) wake() {
	if err := c.poller.Waker().Wake(); err != nil {
		c.log.Warn("app: wake failed", logx.Err(err))
	}
}

// DispatchEvents reads the input available on the connection and
// delivers it together with the events queued by Dispatch, without
// blocking. Events dispatched by handlers are delivered by the same
// call. The returned error wraps ErrConnectionLost.
func (c *Context) DispatchEvents() error {
	if err := c.conn.Flush(); err != nil && !errors.Is(err, ErrWouldBlock) {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	readErr := c.conn.ReadEvents()
	for c.deliver() {
	}
	if readErr != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, readErr)
	}
	return nil
}

// deliver sends the queued and translated events once and reports
// whether there were any.
func (c *Context) deliver() bool {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, e := range pending {
		c.disp.Send(e)
	}
	n := len(pending)
	for {
		e, ok := c.conn.Next()
		if !ok {
			break
		}
		c.disp.Send(e)
		n++
	}
	return n > 0
}

// Loop delivers events until ctl is stopped or the connection is lost.
// It returns nil when stopped and an error wrapping ErrConnectionLost
// otherwise.
func (c *Context) Loop(ctl *dispatch.Control) error {
	return c.run(ctl, nil)
}

// ThreadedLoop is like Loop, but also delivers the events queued in d.
// Dispatching to an empty d wakes the loop.
func (c *Context) ThreadedLoop(d *dispatch.Threaded, ctl *dispatch.Control) error {
	cancel := d.OnDispatch(func(wasEmpty bool) {
		if wasEmpty {
			c.wake()
		}
	})
	defer cancel()
	return c.run(ctl, d)
}

func (c *Context) run(ctl *dispatch.Control, d *dispatch.Threaded) error {
	if !c.running.CompareAndSwap(false, true) {
		return dispatch.ErrLoopRunning
	}
	defer c.running.Store(false)

	var stop atomic.Bool
	release, err := ctl.Bind(func() {
		stop.Store(true)
		c.wake()
	})
	if err != nil {
		return err
	}
	defer release()
	c.log.Debug("app: loop started", slog.Bool("threaded", d != nil))

	for {
		if err := c.DispatchEvents(); err != nil {
			c.log.Error("app: loop exited", logx.Err(err))
			return err
		}
		if d != nil {
			d.DispatchEvents()
		}
		if stop.Load() {
			c.log.Debug("app: loop stopped")
			return nil
		}
		r, err := c.poller.Wait(c.conn)
		if err != nil {
			c.log.Error("app: loop exited", logx.Err(err))
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		if r.Hangup && !r.Readable {
			c.log.Error("app: connection hangup")
			return fmt.Errorf("%w: hangup", ErrConnectionLost)
		}
		// Readable input and wakeups are both handled at the top of
		// the loop.
	}
}

// RegisterFd makes the dispatch loop call cb with the ready events
// whenever fd is ready for the events in mask. It must be called from
// the dispatch goroutine; cb runs there too and may unregister itself.
func (c *Context) RegisterFd(fd int, mask int16, cb FdCallback) FdID {
	return c.poller.Registry().Add(fd, mask, cb)
}

// UnregisterFd removes a descriptor registered with RegisterFd and
// reports whether it was registered.
func (c *Context) UnregisterFd(id FdID) bool {
	return c.poller.Registry().Remove(id)
}

// Clipboard returns the data exchange session of the current clipboard
// owner, or nil.
func (c *Context) Clipboard() *transfer.Session {
	return c.conn.Clipboard()
}

// SetClipboard offers the data of src as the clipboard contents.
func (c *Context) SetClipboard(src transfer.Source) error {
	return c.conn.SetClipboard(src)
}

// Close releases the connection. Events still queued are dropped.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dropped := len(c.pending)
	c.pending = nil
	c.mu.Unlock()
	if dropped > 0 {
		c.log.Debug("app: dropped queued events", slog.Int("count", dropped))
	}
	return errors.Join(c.conn.Close(), c.poller.Close())
}
