// SPDX-License-Identifier: Unlicense OR MIT

// Package event contains the event type delivered by dispatchers and
// the queue that buffers pending events.
//
// Every event carries a Kind that determines its dispatch semantics, a
// Tag naming the handler it is addressed to, a typed Payload and an
// opaque Data slot owned by the backend that produced it.
package event

import (
	"errors"
	"fmt"
	"sync"
)

// Tag is the stable identifier of an event handler. Handlers are
// looked up by tag at delivery time; the zero Tag denotes an
// unrouted event.
type Tag uint64

// Kind identifies the type of an event.
//
// Kind ranges:
//   - 1 - 19 abstract
//   - 20 - 99 app, input and data exchange
//   - 100 - 199 window
//   - 1000 and up backend specific
type Kind uint32

const (
	Custom Kind = 1
	Wakeup Kind = 2

	Key           Kind = 20
	PointerMove   Kind = 21
	PointerButton Kind = 22
	Focus         Kind = 23
	DataOffer     Kind = 31

	Close   Kind = 100
	Destroy Kind = 101
	Resize  Kind = 102
	Draw    Kind = 103
)

// ErrKindConflict is returned by Register when a kind is already
// registered with a different name or override semantics.
var ErrKindConflict = errors.New("event: kind already registered")

type kindInfo struct {
	name        string
	overridable bool
}

var kinds = struct {
	mu    sync.RWMutex
	table map[Kind]kindInfo
}{
	table: map[Kind]kindInfo{
		Custom:        {"custom", false},
		Wakeup:        {"wakeup", true},
		Key:           {"key", false},
		PointerMove:   {"pointer-move", true},
		PointerButton: {"pointer-button", false},
		Focus:         {"focus", false},
		DataOffer:     {"data-offer", false},
		Close:         {"close", false},
		Destroy:       {"destroy", false},
		Resize:        {"resize", true},
		Draw:          {"draw", true},
	},
}

// Register adds a kind to the kind table. Overridable kinds are
// coalesced by queues: only the most recent queued instance of the kind
// is delivered. Registering the same kind twice with identical
// semantics is allowed.
func Register(k Kind, name string, overridable bool) error {
	kinds.mu.Lock()
	defer kinds.mu.Unlock()
	info := kindInfo{name: name, overridable: overridable}
	if old, ok := kinds.table[k]; ok {
		if old != info {
			return fmt.Errorf("%w: %d (%s)", ErrKindConflict, k, old.name)
		}
		return nil
	}
	kinds.table[k] = info
	return nil
}

func lookup(k Kind) (kindInfo, bool) {
	kinds.mu.RLock()
	defer kinds.mu.RUnlock()
	info, ok := kinds.table[k]
	return info, ok
}

// Overridable reports whether newer events of kind k replace older
// queued ones. Unknown kinds are never overridable.
func (k Kind) Overridable() bool {
	info, _ := lookup(k)
	return info.overridable
}

func (k Kind) String() string {
	if info, ok := lookup(k); ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Event is a single unit of work for a handler. Events are passed by
// pointer; queues and synchronization points use pointer identity.
type Event struct {
	Kind Kind
	// Target is the handler the event is addressed to. The zero
	// value means unrouted.
	Target Tag
	// Payload is the typed content of the event.
	Payload Payload
	// Data is backend specific information attached by the producer.
	// Handlers must not modify it.
	Data any
}

// New returns an event whose kind is derived from its payload.
func New(target Tag, p Payload) *Event {
	return &Event{Kind: p.kind(), Target: target, Payload: p}
}

// Overridable reports whether e may be replaced by a newer event of
// the same kind while queued.
func (e *Event) Overridable() bool {
	return e.Kind.Overridable()
}

// Routed reports whether e has a target.
func (e *Event) Routed() bool {
	return e.Target != 0
}

func (e *Event) String() string {
	return fmt.Sprintf("%s(%d)->%d", e.Kind, uint32(e.Kind), uint64(e.Target))
}

// Handler consumes delivered events. Event reports whether the event
// was consumed. Handlers are only invoked from the dispatch thread and
// never concurrently for the same handler.
type Handler interface {
	Event(e *Event) bool
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e *Event) bool

func (f HandlerFunc) Event(e *Event) bool {
	return f(e)
}
