// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package loopback

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/io/transfer"
)

// ErrServerClosed is returned by Server methods after the connection
// closed.
var ErrServerClosed = errors.New("loopback: server closed")

// Server is the display server end of a loopback connection. Its
// methods may be called from any goroutine.
type Server struct {
	conn net.Conn
	log  *slog.Logger

	wmu sync.Mutex
	buf []byte

	mu       sync.Mutex
	serial   uint64
	offers   map[transfer.Selection]serverOffer
	owned    map[transfer.Selection][]string
	requests map[uint64]chan message
	stall    bool
	stalled  []message

	done chan struct{}
	err  error
}

// serverOffer is a selection owned by the server.
type serverOffer struct {
	serial uint64
	src    transfer.Source
}

func newServer(conn net.Conn, log *slog.Logger) *Server {
	return &Server{
		conn:     conn,
		log:      log,
		offers:   make(map[transfer.Selection]serverOffer),
		owned:    make(map[transfer.Selection][]string),
		requests: make(map[uint64]chan message),
		done:     make(chan struct{}),
	}
}

// Done is closed when the connection has closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the connection, or nil if the
// client disconnected or Close was called.
func (s *Server) Err() error {
	<-s.done
	return s.err
}

// Close disconnects the client.
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) serve() {
	r := bufio.NewReader(s.conn)
	var err error
	for {
		var body []byte
		body, err = readFrame(r)
		if err != nil {
			break
		}
		m, known, derr := decode(body, serverBound)
		if derr != nil {
			err = derr
			break
		}
		if !known {
			s.log.Debug("loopback: server skipping message", slog.String("type", m.Type))
			continue
		}
		s.handle(&m)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if err != nil {
		s.log.Warn("loopback: server stopped", logx.Err(err))
	}
	s.err = err
	s.conn.Close()
	close(s.done)
}

func (s *Server) handle(m *message) {
	switch m.Type {
	case msgGetFormats:
		s.mu.Lock()
		o, ok := s.offers[m.Selection]
		s.mu.Unlock()
		if ok && o.serial == m.Serial {
			for _, name := range transfer.NativeNames(o.src) {
				s.send(&message{Type: msgFormat, Selection: m.Selection, Serial: m.Serial, Format: name})
			}
		}
		s.send(&message{Type: msgFormatsDone, Selection: m.Selection, Serial: m.Serial})
	case msgGetData:
		s.mu.Lock()
		if s.stall {
			s.stalled = append(s.stalled, *m)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.answer(m)
	case msgSetSelection:
		s.mu.Lock()
		delete(s.offers, m.Selection)
		if len(m.Formats) == 0 {
			delete(s.owned, m.Selection)
		} else {
			s.owned[m.Selection] = m.Formats
		}
		s.mu.Unlock()
	case msgProvide:
		s.mu.Lock()
		ch, ok := s.requests[m.Serial]
		delete(s.requests, m.Serial)
		s.mu.Unlock()
		if ok {
			ch <- *m
		}
	}
}

func (s *Server) answer(m *message) {
	s.mu.Lock()
	o, ok := s.offers[m.Selection]
	s.mu.Unlock()
	if ok && o.serial == m.Serial {
		if data, _, ok := transfer.Provide(o.src, m.Format); ok {
			s.send(&message{Type: msgData, Selection: m.Selection, Serial: m.Serial, Format: m.Format, Data: data})
			return
		}
	}
	s.send(&message{Type: msgDataFail, Selection: m.Selection, Serial: m.Serial, Format: m.Format})
}

func (s *Server) send(m *message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	buf, err := appendFrame(s.buf[:0], m)
	if err != nil {
		return err
	}
	s.buf = buf
	if _, err := s.conn.Write(buf); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrServerClosed
		}
		return err
	}
	return nil
}

// Resize reports a new size of window.
func (s *Server) Resize(window uint32, width, height int) error {
	return s.send(&message{Type: msgResize, Window: window, Width: width, Height: height})
}

// Key reports a key press or release on window.
func (s *Server) Key(window uint32, code uint32, r rune, pressed bool) error {
	return s.send(&message{Type: msgKey, Window: window, Code: code, Rune: r, Pressed: pressed})
}

// Pointer reports a pointer motion over window.
func (s *Server) Pointer(window uint32, x, y float32) error {
	return s.send(&message{Type: msgPointer, Window: window, X: x, Y: y})
}

// Button reports a pointer button press or release over window.
func (s *Server) Button(window uint32, button uint32, pressed bool, x, y float32) error {
	return s.send(&message{Type: msgButton, Window: window, Button: button, Pressed: pressed, X: x, Y: y})
}

// Focus reports a change of the keyboard focus of window.
func (s *Server) Focus(window uint32, gained bool) error {
	return s.send(&message{Type: msgFocus, Window: window, Pressed: gained})
}

// CloseWindow asks the client to close window.
func (s *Server) CloseWindow(window uint32) error {
	return s.send(&message{Type: msgClose, Window: window})
}

// Offer makes owner the owner of sel with the data of src and notifies
// the client, addressing window. If query is set the client has to ask
// for the format list instead of receiving it with the offer.
func (s *Server) Offer(sel transfer.Selection, window uint32, owner string, src transfer.Source, query bool) error {
	s.mu.Lock()
	s.serial++
	serial := s.serial
	s.offers[sel] = serverOffer{serial: serial, src: src}
	delete(s.owned, sel)
	s.mu.Unlock()
	m := &message{Type: msgOffer, Window: window, Selection: sel, Serial: serial, Owner: owner, Query: query}
	if !query {
		m.Formats = transfer.NativeNames(src)
	}
	return s.send(m)
}

// Clear empties sel.
func (s *Server) Clear(sel transfer.Selection) error {
	s.mu.Lock()
	delete(s.offers, sel)
	delete(s.owned, sel)
	s.serial++
	serial := s.serial
	s.mu.Unlock()
	return s.send(&message{Type: msgOffer, Selection: sel, Serial: serial})
}

// Owned returns the formats of sel if the client owns it.
func (s *Server) Owned(sel transfer.Selection) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.owned[sel]
	return f, ok
}

// Stall makes the server hold back answers to data requests while on
// is set. Held requests are answered when stalling ends.
func (s *Server) Stall(on bool) {
	s.mu.Lock()
	s.stall = on
	var held []message
	if !on {
		held, s.stalled = s.stalled, nil
	}
	s.mu.Unlock()
	for i := range held {
		s.answer(&held[i])
	}
}

// Request asks the client for the data of a selection it owns, as a
// pasting application would. It reports false if the client could not
// provide the format.
func (s *Server) Request(ctx context.Context, sel transfer.Selection, format string) ([]byte, bool, error) {
	ch := make(chan message, 1)
	s.mu.Lock()
	s.serial++
	id := s.serial
	s.requests[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.requests, id)
		s.mu.Unlock()
	}()

	if err := s.send(&message{Type: msgRequest, Selection: sel, Serial: id, Format: format}); err != nil {
		return nil, false, err
	}
	select {
	case m := <-ch:
		return m.Data, m.OK, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-s.done:
		return nil, false, ErrServerClosed
	}
}
