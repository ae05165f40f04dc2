// SPDX-License-Identifier: Unlicense OR MIT

// Package dispatch delivers events to the handlers they are addressed
// to.
//
// Dispatcher delivers immediately on the calling goroutine. Threaded
// queues events from any goroutine and delivers them from a single
// dispatch goroutine, with synchronization points to wait for the queue
// to drain. Control stops a running loop.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/fogfish/opts"
	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/internal/subscriber"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/router"
)

// Config holds the options shared by the dispatcher variants.
type Config struct {
	logger *slog.Logger
}

// Option configures a dispatcher.
type Option = opts.Option[Config]

// WithLogger sets the logger receiving diagnostics such as unrouted
// events.
var WithLogger = opts.ForName[Config, *slog.Logger]("logger")

// Dispatcher delivers events synchronously to their target handler.
type Dispatcher struct {
	router *router.Router
	log    *slog.Logger

	hookMu sync.Mutex
	hooks  map[event.Kind]*subscriber.List[func(*event.Event)]
}

// NewDispatcher returns a dispatcher routing through r.
func NewDispatcher(r *router.Router, options ...Option) (*Dispatcher, error) {
	var cfg Config
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if cfg.logger == nil {
		cfg.logger = logx.Default()
	}
	return &Dispatcher{
		router: r,
		log:    cfg.logger,
		hooks:  make(map[event.Kind]*subscriber.List[func(*event.Event)]),
	}, nil
}

// Router returns the handler arena of d.
func (d *Dispatcher) Router() *router.Router {
	return d.router
}

// OnKind registers fn to observe every event of kind k sent through d,
// before it reaches its handler. Call cancel to remove fn; cancel may be
// called from within fn.
func (d *Dispatcher) OnKind(k event.Kind, fn func(e *event.Event)) (cancel func()) {
	d.hookMu.Lock()
	s, ok := d.hooks[k]
	if !ok {
		s = new(subscriber.List[func(*event.Event)])
		d.hooks[k] = s
	}
	d.hookMu.Unlock()
	return s.Add(fn)
}

// Send delivers e to its target handler on the calling goroutine and
// returns whether the handler consumed it. Events without a live
// target are reported as unrouted and dropped.
func (d *Dispatcher) Send(e *event.Event) bool {
	if e == nil {
		d.log.Warn("dispatch: send of nil event")
		return false
	}
	d.hookMu.Lock()
	s := d.hooks[e.Kind]
	d.hookMu.Unlock()
	if s != nil {
		for _, fn := range s.Snapshot() {
			(*fn)(e)
		}
	}
	h, ok := d.router.Lookup(e.Target)
	if !ok {
		d.unrouted(e)
		return false
	}
	return h.Event(e)
}

func (d *Dispatcher) unrouted(e *event.Event) {
	d.log.Warn("dispatch: event with no handler",
		logx.Stringer("kind", e.Kind),
		slog.Uint64("target", uint64(e.Target)))
}
