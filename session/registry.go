package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/internal/stterr"
)

// Registry is the node-wide lookup table of spec §4.7: map
// SessionId → Session, with get-and-close mutually exclusive at the
// granularity of one session (spec §5).
type Registry struct {
	mu       sync.RWMutex
	sessions map[[8]byte]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[[8]byte]*Session)}
}

// Add registers a newly promoted Session. Invoked only from handshake
// completion (spec §4.5 "Construction is internal to the handshake").
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Get looks up a session by id.
func (r *Registry) Get(id [8]byte) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ListActive returns every session currently in the Active state.
func (r *Registry) ListActive() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.State() == StateActive {
			out = append(out, s)
		}
	}
	return out
}

// All returns every registered session regardless of state.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Remove drops a session from the registry without closing it; callers
// close first, then remove, unless the session is already terminal.
func (r *Registry) Remove(id [8]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Close closes the identified session (idempotently) and removes it
// from the registry. Returns stterr.ErrSessionNotFound if id is unknown.
func (r *Registry) Close(id [8]byte, onCloseStreams func()) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %x", stterr.ErrSessionNotFound, id)
	}
	s.Close(onCloseStreams)
	return nil
}

// CloseAll closes and removes every registered session, used by node
// shutdown (spec §4.9 stop()). onCloseStreams is invoked once per
// session with that session's id.
func (r *Registry) CloseAll(onCloseStreams func(id [8]byte)) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[[8]byte]*Session)
	r.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{"package": "session", "function": "CloseAll"})
	for _, s := range sessions {
		id := s.ID()
		var cb func()
		if onCloseStreams != nil {
			cb = func() { onCloseStreams(id) }
		}
		s.Close(cb)
	}
	logger.WithField("count", len(sessions)).Info("closed all sessions")
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
