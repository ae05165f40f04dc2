// SPDX-License-Identifier: Unlicense OR MIT

package event

import (
	"golang.org/x/exp/slices"
)

// Queue is an ordered buffer of pending events. Overridable events
// coalesce: pushing an overridable event replaces a queued event of the
// same kind in place, keeping its queue position.
//
// Queue is not safe for concurrent use.
type Queue struct {
	events []*Event
}

// Push adds e to the back of the queue, or replaces the queued event of
// the same kind if e is overridable. It reports the replaced event, if
// any.
func (q *Queue) Push(e *Event) (replaced *Event) {
	if e.Overridable() {
		i := slices.IndexFunc(q.events, func(s *Event) bool {
			return s.Kind == e.Kind
		})
		if i >= 0 {
			replaced = q.events[i]
			q.events[i] = e
			return replaced
		}
	}
	q.events = append(q.events, e)
	return nil
}

// PopFront removes and returns the oldest event.
func (q *Queue) PopFront() (*Event, bool) {
	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	if len(q.events) == 0 {
		q.events = nil
	}
	return e, true
}

// Back returns the most recently queued event.
func (q *Queue) Back() (*Event, bool) {
	if len(q.events) == 0 {
		return nil, false
	}
	return q.events[len(q.events)-1], true
}

// Contains reports whether the exact event e is queued.
func (q *Queue) Contains(e *Event) bool {
	return slices.Contains(q.events, e)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}
