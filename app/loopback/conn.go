// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

// Package loopback implements an in-process display server and the
// backend connection talking to it. The two ends exchange length
// prefixed JSON messages over a socketpair.
//
// The server plays the role of the windowing system and of other
// applications: it produces input events, owns selections and asks for
// the data of selections owned by the client. Tests and demos use it
// to drive a dispatch loop without a real display.
package loopback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/nyorain/ny/app"
	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/transfer"
	"golang.org/x/sys/unix"
)

// Name is the backend name of the loopback backend.
const Name = "loopback"

var _ app.Conn = (*Conn)(nil)

// Conn is the client end of a loopback connection.
//
// Except for Bind, Unbind and Close, methods must be called from the
// dispatch goroutine. That includes the data requests of the sessions
// returned by Selection and Clipboard.
type Conn struct {
	fd  int
	log *slog.Logger

	mu     sync.Mutex
	out    []byte
	closed bool

	in     []byte
	events []*event.Event

	winMu   sync.Mutex
	windows map[uint32]event.Tag

	transfers *transfer.Manager
	serials   map[transfer.Selection]uint64
}

// Pair returns the two ends of a new loopback connection. The server
// serves requests until either end is closed.
func Pair(log *slog.Logger) (*Conn, *Server, error) {
	if log == nil {
		log = logx.Default()
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("loopback: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("loopback: %w", err)
	}
	f := os.NewFile(uintptr(fds[1]), "loopback-server")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		unix.Close(fds[0])
		return nil, nil, fmt.Errorf("loopback: %w", err)
	}
	c := &Conn{
		fd:        fds[0],
		log:       log,
		windows:   make(map[uint32]event.Tag),
		transfers: transfer.NewManager(log),
		serials:   make(map[transfer.Selection]uint64),
	}
	s := newServer(nc, log)
	go s.serve()
	return c, s, nil
}

// Backend returns the loopback backend. Every connection it opens is
// handed to serve, which must not block; a nil serve leaves the server
// idle.
func Backend(serve func(s *Server)) app.Backend {
	return app.Backend{
		Name: Name,
		Open: func(log *slog.Logger) (app.Conn, error) {
			c, s, err := Pair(log)
			if err != nil {
				return nil, err
			}
			if serve != nil {
				serve(s)
			}
			return c, nil
		},
	}
}

// Bind routes the events of the server window id to the handler tag.
func (c *Conn) Bind(window uint32, tag event.Tag) {
	c.winMu.Lock()
	defer c.winMu.Unlock()
	c.windows[window] = tag
}

// Unbind stops routing the events of window. Its events become
// unrouted.
func (c *Conn) Unbind(window uint32) {
	c.winMu.Lock()
	defer c.winMu.Unlock()
	delete(c.windows, window)
}

func (c *Conn) target(window uint32) event.Tag {
	c.winMu.Lock()
	defer c.winMu.Unlock()
	return c.windows[window]
}

func (c *Conn) Fd() int {
	return c.fd
}

// send queues m for the next Flush.
func (c *Conn) send(m *message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	out, err := appendFrame(c.out, m)
	if err != nil {
		return err
	}
	c.out = out
	return nil
}

// Flush writes queued messages.
func (c *Conn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.out) > 0 {
		n, err := unix.Write(c.fd, c.out)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return app.ErrWouldBlock
		case err != nil:
			return fmt.Errorf("loopback: write: %w", err)
		}
		c.out = c.out[:copy(c.out, c.out[n:])]
	}
	return nil
}

// ReadEvents reads and handles the available messages. End of file
// ends all data exchange sessions and is returned as io.EOF.
func (c *Conn) ReadEvents() error {
	var buf [4096]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return c.parse()
		case err != nil:
			c.transfers.Close()
			return fmt.Errorf("loopback: read: %w", err)
		case n == 0:
			// Handle what arrived before the hangup.
			err := c.parse()
			c.transfers.Close()
			return errors.Join(io.EOF, err)
		}
		c.in = append(c.in, buf[:n]...)
	}
}

func (c *Conn) parse() error {
	for {
		body, rest, ok, err := cutFrame(c.in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		m, known, err := decode(body, clientBound)
		c.in = rest
		if err != nil {
			return err
		}
		if !known {
			c.log.Debug("loopback: skipping message", slog.String("type", m.Type))
			continue
		}
		c.handle(&m)
	}
	if len(c.in) == 0 {
		c.in = nil
	}
	return nil
}

func (c *Conn) push(window uint32, p event.Payload) {
	c.events = append(c.events, event.New(c.target(window), p))
}

func (c *Conn) handle(m *message) {
	switch m.Type {
	case msgResize:
		c.push(m.Window, event.ResizeEvent{Width: m.Width, Height: m.Height})
	case msgKey:
		c.push(m.Window, event.KeyEvent{Code: m.Code, Rune: m.Rune, Pressed: m.Pressed})
	case msgPointer:
		c.push(m.Window, event.PointerMoveEvent{X: m.X, Y: m.Y})
	case msgButton:
		c.push(m.Window, event.PointerButtonEvent{Button: m.Button, Pressed: m.Pressed, X: m.X, Y: m.Y})
	case msgFocus:
		c.push(m.Window, event.FocusEvent{Gained: m.Pressed})
	case msgClose:
		c.push(m.Window, event.CloseEvent{})
	case msgOffer:
		c.offer(m)
	case msgFormat:
		if s := c.session(m); s != nil {
			s.Announce(m.Format)
		}
	case msgFormatsDone:
		if s := c.session(m); s != nil {
			s.Complete()
		}
	case msgData:
		if s := c.session(m); s != nil {
			s.Resolve(m.Format, m.Data)
		}
	case msgDataFail:
		if s := c.session(m); s != nil {
			s.Fail(m.Format)
		}
	case msgRequest:
		data, ok := c.transfers.Answer(m.Selection, m.Format)
		reply := &message{Type: msgProvide, Serial: m.Serial, Data: data, OK: ok}
		if err := c.send(reply); err != nil {
			c.log.Warn("loopback: provide failed", logx.Err(err))
		}
	}
}

// offer starts a session for a selection taken over by another client.
func (c *Conn) offer(m *message) {
	sel := m.Selection
	if m.Owner == "" {
		delete(c.serials, sel)
		c.transfers.End(sel)
		return
	}
	var formats []string
	if !m.Query {
		formats = append([]string{}, m.Formats...)
	}
	// The server drops our selection when it announces a new owner.
	c.transfers.SetSource(sel, nil)
	c.serials[sel] = m.Serial
	s, err := c.transfers.Begin(sel, m.Owner, requester{c: c, sel: sel, serial: m.Serial}, formats)
	if err != nil {
		delete(c.serials, sel)
		c.log.Warn("loopback: offer dropped", logx.Stringer("selection", sel), logx.Err(err))
		return
	}
	c.push(m.Window, event.DataOfferEvent{Offer: s})
}

// session returns the session m refers to, or nil if m is stale.
func (c *Conn) session(m *message) *transfer.Session {
	if serial, ok := c.serials[m.Selection]; !ok || serial != m.Serial {
		c.log.Debug("loopback: stale transfer message",
			slog.String("type", m.Type), slog.Uint64("serial", m.Serial))
		return nil
	}
	return c.transfers.Current(m.Selection)
}

func (c *Conn) Next() (*event.Event, bool) {
	if len(c.events) == 0 {
		return nil, false
	}
	e := c.events[0]
	c.events[0] = nil
	c.events = c.events[1:]
	if len(c.events) == 0 {
		c.events = nil
	}
	return e, true
}

// Selection returns the session of the other client owning sel, or nil.
func (c *Conn) Selection(sel transfer.Selection) *transfer.Session {
	return c.transfers.Current(sel)
}

// SetSelection takes ownership of sel and offers the data of src. A nil
// src releases the selection.
func (c *Conn) SetSelection(sel transfer.Selection, src transfer.Source) error {
	delete(c.serials, sel)
	c.transfers.End(sel)
	c.transfers.SetSource(sel, src)
	m := &message{Type: msgSetSelection, Selection: sel}
	if src != nil {
		m.Formats = transfer.NativeNames(src)
	}
	return c.send(m)
}

func (c *Conn) Clipboard() *transfer.Session {
	return c.Selection(transfer.Clipboard)
}

func (c *Conn) SetClipboard(src transfer.Source) error {
	return c.SetSelection(transfer.Clipboard, src)
}

// Close closes the connection and ends all sessions.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.out = nil
	c.mu.Unlock()
	c.transfers.Close()
	return unix.Close(c.fd)
}

// requester issues the native requests of a session.
type requester struct {
	c      *Conn
	sel    transfer.Selection
	serial uint64
}

func (r requester) RequestFormats(s *transfer.Session) error {
	return r.c.send(&message{Type: msgGetFormats, Selection: r.sel, Serial: r.serial})
}

func (r requester) RequestData(s *transfer.Session, native string) error {
	return r.c.send(&message{Type: msgGetData, Selection: r.sel, Serial: r.serial, Format: native})
}
