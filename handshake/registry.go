package handshake

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
	"github.com/seigr-lab/stt/internal/stterr"
)

// Registry multiplexes concurrent handshakes keyed by peer address
// (spec §4.4 "Concurrency"). Lookups and mutations are serialized with a
// single mutex; the expected load (a handful of in-flight handshakes per
// node) does not justify finer-grained locking.
type Registry struct {
	mu      sync.Mutex
	crypto  crypto.Crypto
	cfg     Config
	clock   TimeProvider
	nodeID  [32]byte
	entries map[string]*Entry
}

// NewRegistry constructs an empty registry bound to a node's crypto
// adapter, node id, and handshake configuration.
func NewRegistry(nodeID [32]byte, c crypto.Crypto, cfg Config, clock TimeProvider) *Registry {
	if clock == nil {
		clock = realTimeProvider{}
	}
	return &Registry{crypto: c, cfg: cfg, clock: clock, nodeID: nodeID, entries: make(map[string]*Entry)}
}

// StartInitiator begins an initiator-role handshake toward peerAddr,
// registers the in-flight entry, and returns the HELLO frame to send.
// It replaces any prior in-flight entry for the same peer address.
func (r *Registry) StartInitiator(peerAddr string) (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := NewInitiator(r.nodeID, r.crypto, r.cfg, r.clock)
	hello, err := m.Start()
	if err != nil {
		return nil, err
	}
	r.entries[peerAddr] = &Entry{
		Role:     RoleInitiator,
		PeerAddr: peerAddr,
		Machine:  m,
		Deadline: r.clock.Now().Add(r.cfg.Timeout),
	}
	return hello, nil
}

// Dispatch routes an inbound handshake frame (type 0x01-0x04) to the
// entry for peerAddr, creating a fresh responder entry on an inbound
// HELLO. It returns the next outbound frame to send (nil if none), the
// completed Outcome once the exchange finishes successfully (nil until
// then), and an error on failure. The entry is removed from the
// registry on both success and failure (spec §4.4 "Outputs").
func (r *Registry) Dispatch(peerAddr string, f *frame.Frame) (*frame.Frame, *Outcome, error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":   "handshake",
		"function":  "Dispatch",
		"peer_addr": peerAddr,
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	var entry *Entry
	if f.Type == frame.TypeHandshakeInit {
		if existing, ok := r.entries[peerAddr]; ok && existing.Role == RoleInitiator {
			// An inbound HELLO from a peer we also initiated toward:
			// the responder entry created below replaces the in-flight
			// initiator entry for that address, abandoning it.
			logger.Debug("inbound HELLO while an initiator entry is also in flight")
		}
		entry = r.responderEntry(peerAddr)
	} else {
		existing, ok := r.entries[peerAddr]
		if !ok {
			logger.WithField("type", fmt.Sprintf("0x%02x", byte(f.Type))).Warn("handshake frame for unknown peer address, dropped")
			return nil, nil, fmt.Errorf("%w: no in-flight handshake for peer", stterr.ErrHandshakeFailed)
		}
		entry = existing
	}

	if r.clock.Now().After(entry.Deadline) {
		delete(r.entries, peerAddr)
		return nil, nil, fmt.Errorf("%w: handshake deadline exceeded", stterr.ErrTimeout)
	}

	out, err := entry.Machine.HandleFrame(f)
	if err != nil {
		delete(r.entries, peerAddr)
		return nil, nil, err
	}
	if entry.Machine.Done() {
		delete(r.entries, peerAddr)
		return out, entry.Machine.Outcome(), nil
	}
	return out, nil, nil
}

func (r *Registry) responderEntry(peerAddr string) *Entry {
	if e, ok := r.entries[peerAddr]; ok && e.Role == RoleResponder {
		return e
	}
	m := NewResponder(r.nodeID, r.crypto, r.cfg, r.clock)
	entry := &Entry{Role: RoleResponder, PeerAddr: peerAddr, Machine: m, Deadline: r.clock.Now().Add(r.cfg.Timeout)}
	r.entries[peerAddr] = entry
	return entry
}

// ExpireStale removes any in-flight entries past their deadline,
// returning the peer addresses that were dropped. Intended to be called
// from the node's periodic maintenance task.
func (r *Registry) ExpireStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	now := r.clock.Now()
	for addr, entry := range r.entries {
		if now.After(entry.Deadline) {
			expired = append(expired, addr)
			delete(r.entries, addr)
		}
	}
	return expired
}

// Count returns the number of in-flight handshakes, for stats reporting.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
