// SPDX-License-Identifier: Unlicense OR MIT

// Package router implements the handler arena events are routed
// through.
//
// Windows and other event consumers attach their handler and receive a
// stable event.Tag. Events carry the tag instead of a reference to the
// handler, so a handler owner never forms a cycle with the events
// addressed to it. An owner must Detach its handler before it is
// destroyed; events addressed to a detached tag are unrouted.
package router

import (
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/nyorain/ny/io/event"
)

// Router maps tags to handlers. Attach and Detach may be called from
// any goroutine.
type Router struct {
	next     atomic.Uint64
	handlers *haxmap.Map[event.Tag, event.Handler]
}

// New returns an empty router.
func New() *Router {
	return &Router{handlers: haxmap.New[event.Tag, event.Handler]()}
}

// Attach registers h and returns its tag. Tags are never reused.
func (r *Router) Attach(h event.Handler) event.Tag {
	tag := event.Tag(r.next.Add(1))
	r.handlers.Set(tag, h)
	return tag
}

// Detach removes the handler registered for tag. Detaching an unknown
// tag is a no-op.
func (r *Router) Detach(tag event.Tag) {
	r.handlers.Del(tag)
}

// Lookup returns the handler for tag.
func (r *Router) Lookup(tag event.Tag) (event.Handler, bool) {
	if tag == 0 {
		return nil, false
	}
	return r.handlers.Get(tag)
}

// Len returns the number of attached handlers.
func (r *Router) Len() int {
	return int(r.handlers.Len())
}
