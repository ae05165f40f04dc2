// SPDX-License-Identifier: Unlicense OR MIT

package transfer

import (
	"log/slog"
	"sync"

	"github.com/nyorain/ny/internal/logx"
)

// Manager tracks the active session and the local source of each
// selection. Backends use it to switch sessions when selection
// ownership changes.
type Manager struct {
	log *slog.Logger

	mu       sync.Mutex
	sessions map[Selection]*Session
	sources  map[Selection]Source
}

// NewManager returns an empty manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = logx.Default()
	}
	return &Manager{
		log:      log,
		sessions: make(map[Selection]*Session),
		sources:  make(map[Selection]Source),
	}
}

// Begin starts a session for sel owned by owner, ending the previous
// session of sel first. See NewSession for the meaning of formats.
func (m *Manager) Begin(sel Selection, owner string, req Requester, formats []string) (*Session, error) {
	m.End(sel)
	s, err := NewSession(owner, req, formats, m.log)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	prev := m.sessions[sel]
	m.sessions[sel] = s
	m.mu.Unlock()
	if prev != nil {
		// A concurrent Begin won the race; its session is stale now.
		prev.End()
	}
	m.log.Debug("transfer: session started",
		logx.Stringer("selection", sel), slog.String("owner", owner), slog.String("session", s.ID().String()))
	return s, nil
}

// End ends the session of sel, completing its pending requests with no
// data.
func (m *Manager) End(sel Selection) {
	m.mu.Lock()
	s := m.sessions[sel]
	delete(m.sessions, sel)
	m.mu.Unlock()
	if s != nil {
		s.End()
	}
}

// Current returns the session of sel, or nil.
func (m *Manager) Current(sel Selection) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sel]
}

// SetSource makes src the local data of sel. A nil src clears it.
func (m *Manager) SetSource(sel Selection, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src == nil {
		delete(m.sources, sel)
		return
	}
	m.sources[sel] = src
}

// Source returns the local data of sel, or nil.
func (m *Manager) Source(sel Selection) Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[sel]
}

// Answer provides the local data of sel in the native format.
func (m *Manager) Answer(sel Selection, native string) ([]byte, bool) {
	src := m.Source(sel)
	if src == nil {
		return nil, false
	}
	data, _, ok := Provide(src, native)
	return data, ok
}

// Close ends all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[Selection]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.End()
	}
}
