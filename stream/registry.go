package stream

import (
	"sync"
)

// Registry is the per-session map of stream_id → Stream (spec §4.7).
// Implicit creation on inbound DATA for an unknown stream id is the
// caller's responsibility (via GetOrCreate); stream id 0 is reserved
// for session-level control and is never allocated here.
type Registry struct {
	mu      sync.Mutex
	streams map[uint64]*Stream
}

// NewRegistry constructs an empty per-session stream registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[uint64]*Stream)}
}

// Create registers a new stream, replacing any previous entry with the
// same id (stream ids are not reused after close per spec §3, so
// callers are expected not to collide in practice).
func (r *Registry) Create(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.ID()] = s
}

// Get looks up a stream by id.
func (r *Registry) Get(id uint64) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// GetOrCreate returns the existing stream for id, or registers the
// stream factory builds if none exists (spec §4.7 "Implicit creation on
// inbound DATA"); the new stream's mode and configuration are the
// factory's.
func (r *Registry) GetOrCreate(id uint64, factory func() *Stream) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	s := factory()
	r.streams[id] = s
	return s
}

// List returns every stream in the registry.
func (r *Registry) List() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// Close closes and removes the identified stream; a no-op if unknown.
func (r *Registry) Close(id uint64) {
	r.mu.Lock()
	s, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll closes and removes every stream in the registry, used when
// the owning session closes (spec §4.5 close()).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[uint64]*Stream)
	r.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
}

// Count returns the number of registered streams.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
