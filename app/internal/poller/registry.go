// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package poller

import (
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// ID identifies a registered descriptor callback.
type ID uint64

// Callback is invoked with the descriptor and the events it reported.
type Callback func(fd int, revents int16)

type entry struct {
	id      ID
	fd      int
	events  int16
	cb      Callback
	removed bool
}

// Registry holds user registered descriptors and their callbacks.
// Entries removed while callbacks run are only marked and compacted
// afterwards, so Remove is safe from inside any callback, including the
// one being removed.
//
// Registry is owned by the goroutine running the poller.
type Registry struct {
	next    ID
	entries []*entry
	busy    bool
}

// Add registers cb for the events of fd and returns its id.
func (r *Registry) Add(fd int, events int16, cb Callback) ID {
	r.next++
	r.entries = append(r.entries, &entry{id: r.next, fd: fd, events: events, cb: cb})
	return r.next
}

// Remove unregisters id. It reports whether id was registered.
func (r *Registry) Remove(id ID) bool {
	i := slices.IndexFunc(r.entries, func(e *entry) bool {
		return e.id == id && !e.removed
	})
	if i < 0 {
		return false
	}
	if r.busy {
		r.entries[i].removed = true
		return true
	}
	r.entries = slices.Delete(r.entries, i, i+1)
	return true
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	n := 0
	for _, e := range r.entries {
		if !e.removed {
			n++
		}
	}
	return n
}

// appendFds appends a poll entry per registration to pfds and returns
// the entries in the same order.
func (r *Registry) appendFds(pfds []unix.PollFd) ([]unix.PollFd, []*entry) {
	snapshot := slices.Clone(r.entries)
	for _, e := range snapshot {
		pfds = append(pfds, unix.PollFd{Fd: int32(e.fd), Events: e.events})
	}
	return pfds, snapshot
}

// dispatch invokes the callbacks of entries whose descriptors reported
// events. pfds corresponds to entries index by index.
func (r *Registry) dispatch(entries []*entry, pfds []unix.PollFd) {
	r.busy = true
	for i, e := range entries {
		if e.removed || pfds[i].Revents == 0 {
			continue
		}
		e.cb(e.fd, pfds[i].Revents)
	}
	r.busy = false
	r.entries = slices.DeleteFunc(r.entries, func(e *entry) bool { return e.removed })
}
