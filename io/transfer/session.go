// SPDX-License-Identifier: Unlicense OR MIT

package transfer

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/internal/subscriber"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the negotiation state of a Session.
type State uint8

const (
	// Querying means the format list of the peer is still being
	// retrieved; Formats may grow.
	Querying State = iota
	// Ready means the format list is complete.
	Ready
	// Closed means the session ended. Requests complete with no data.
	Closed
)

func (s State) String() string {
	switch s {
	case Querying:
		return "querying"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callback receives the result of a data request. ok is false when no
// data could be retrieved; this is the only failure signal, and the
// request may be retried with a new call to RequestData.
type Callback func(data []byte, ok bool)

// Requester issues native requests to the peer owning a selection. It
// is implemented by backends.
type Requester interface {
	// RequestFormats asks the peer for its format list. Answers arrive
	// through Session.Announce and Session.Complete.
	RequestFormats(s *Session) error
	// RequestData asks the peer for data in the native format. The
	// answer arrives through Session.Resolve or Session.Fail.
	RequestData(s *Session, native string) error
}

// offer is a format advertised by the peer with the name the peer used.
type offer struct {
	format Format
	native string
}

// request is a pending data request.
type request struct {
	seq    uint64
	native string
	cb     Callback
}

// Session is the state of one data exchange transaction with the peer
// owning a selection. Application code lists formats and requests
// data; the backend feeds the peer's answers back in.
//
// Callbacks run without internal locks held and may call back into
// the session.
type Session struct {
	id    uuid.UUID
	owner string
	req   Requester
	log   *slog.Logger

	mu      sync.Mutex
	state   State
	formats *orderedmap.OrderedMap[string, offer]
	pending []request
	seq     uint64

	onFormat subscriber.List[func(Format)]
}

// NewSession returns a session for the selection owned by owner. If
// formats is nil, the session starts in the Querying state and asks
// req for the format list; otherwise the list is taken as complete.
func NewSession(owner string, req Requester, formats []string, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = logx.Default()
	}
	s := &Session{
		id:      uuid.New(),
		owner:   owner,
		req:     req,
		log:     log,
		formats: orderedmap.New[string, offer](),
	}
	if formats != nil {
		for _, native := range formats {
			s.add(native)
		}
		s.state = Ready
		return s, nil
	}
	s.state = Querying
	if err := req.RequestFormats(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the unique id of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Owner returns the identity of the peer owning the selection.
func (s *Session) Owner() string {
	return s.owner
}

// State returns the negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Formats returns the formats known to be offered, in the order the
// peer advertised them. While Querying the list may be incomplete; use
// OnFormat to learn about later announcements.
func (s *Session) Formats() []Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmts := make([]Format, 0, s.formats.Len())
	for p := s.formats.Oldest(); p != nil; p = p.Next() {
		fmts = append(fmts, p.Value.format)
	}
	return fmts
}

// Offers reports whether f is known to be offered.
func (s *Session) Offers(f Format) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.formats.Get(key(f))
	return ok
}

// OnFormat registers fn to be called for every newly announced format.
func (s *Session) OnFormat(fn func(f Format)) (cancel func()) {
	return s.onFormat.Add(fn)
}

// Pending returns the number of unresolved data requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RequestData requests the selection data in format f. If f is not
// known to be offered, or the session is closed, cb is called before
// RequestData returns with ok == false and nothing is registered.
// Otherwise cb is called exactly once when the peer answers, fails or
// the session ends. Requests for the same format resolve in the order
// they were made.
func (s *Session) RequestData(f Format, cb Callback) {
	s.mu.Lock()
	o, ok := s.formats.Get(key(f))
	if !ok || s.state == Closed {
		s.mu.Unlock()
		cb(nil, false)
		return
	}
	s.seq++
	seq := s.seq
	s.pending = append(s.pending, request{seq: seq, native: o.native, cb: cb})
	s.mu.Unlock()

	if err := s.req.RequestData(s, o.native); err != nil {
		s.log.Warn("transfer: data request failed",
			slog.String("format", o.native), slog.String("session", s.id.String()), logx.Err(err))
		if r, ok := s.take(func(r request) bool { return r.seq == seq }); ok {
			r.cb(nil, false)
		}
	}
}

// Announce records a format advertised by the peer and returns its
// normalized form. Repeated announcements are ignored.
func (s *Session) Announce(native string) Format {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return Normalize(native)
	}
	f, added := s.add(native)
	s.mu.Unlock()
	if added {
		for _, fn := range s.onFormat.Snapshot() {
			(*fn)(f)
		}
	}
	return f
}

// key returns the name f is stored under. Aliases and MIME parameters
// of standard formats are accepted.
func key(f Format) string {
	return Normalize(f.Name).Name
}

func (s *Session) add(native string) (Format, bool) {
	f := Normalize(native)
	if _, ok := s.formats.Get(f.Name); ok {
		return f, false
	}
	s.formats.Set(f.Name, offer{format: f, native: native})
	return f, true
}

// Complete marks the format list as complete.
func (s *Session) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Querying {
		s.state = Ready
	}
}

// Resolve completes the oldest pending request for the native format
// with data. It reports whether a request was waiting.
func (s *Session) Resolve(native string, data []byte) bool {
	r, ok := s.take(func(r request) bool { return r.native == native })
	if !ok {
		s.log.Debug("transfer: unsolicited data", slog.String("format", native))
		return false
	}
	r.cb(data, true)
	return true
}

// Fail completes the oldest pending request for the native format with
// no data. It reports whether a request was waiting.
func (s *Session) Fail(native string) bool {
	r, ok := s.take(func(r request) bool { return r.native == native })
	if !ok {
		return false
	}
	r.cb(nil, false)
	return true
}

// take removes and returns the oldest pending request matching.
func (s *Session) take(match func(r request) bool) (request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.pending {
		if match(r) {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return r, true
		}
	}
	return request{}, false
}

// End closes the session, for example because the selection changed
// owner or the peer disconnected. Pending requests complete with no
// data, in the order they were made.
func (s *Session) End() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) > 0 {
		s.log.Debug("transfer: session ended with pending requests",
			slog.String("session", s.id.String()), slog.Int("pending", len(pending)))
	}
	for _, r := range pending {
		r.cb(nil, false)
	}
}
