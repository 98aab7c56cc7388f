package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/internal/stterr"
)

// State is a Session's lifecycle stage (spec §3).
type State int

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// TransportKind identifies which transport adapter carries a session.
type TransportKind int

const (
	TransportDatagram TransportKind = iota
	TransportMessage
)

// ErrorKind classifies a counted send/receive failure for
// record_error, matching spec §7's error taxonomy loosely enough to
// bucket counters without duplicating the sentinel errors themselves.
type ErrorKind int

const (
	ErrorKindSend ErrorKind = iota
	ErrorKindReceive
)

// RotationPolicy configures the key-rotation thresholds of spec §4.5.
// A zero value in a field disables that trigger; all-zero disables
// automatic rotation entirely.
type RotationPolicy struct {
	Bytes   uint64
	Frames  uint64
	Seconds time.Duration
}

func (p RotationPolicy) enabled() bool {
	return p.Bytes > 0 || p.Frames > 0 || p.Seconds > 0
}

// Session is the encrypted connection record a completed handshake
// promotes (spec §3, §4.5). Applications never construct one directly.
type Session struct {
	mu sync.Mutex

	sessionID    [8]byte
	peerNodeID   [32]byte
	key          []byte
	keyVersion   uint64
	state        State
	createdAt    time.Time
	lastActive   time.Time
	rotatedAt    time.Time
	rotationSeq  uint64

	bytesSent       uint64
	bytesReceived   uint64
	packetsSent     uint64
	packetsReceived uint64
	sendErrors      uint64
	receiveErrors   uint64

	transportKind TransportKind
	peerAddr      string

	rotation RotationPolicy
	crypto   crypto.Crypto
	clock    func() time.Time
}

// New constructs a Session in the Active state with the promoted
// handshake material. Construction is internal to the handshake
// package's Outcome → Session handoff, performed by the node.
func New(sessionID [8]byte, peerNodeID [32]byte, key []byte, transportKind TransportKind, peerAddr string, rotation RotationPolicy, c crypto.Crypto, now time.Time) *Session {
	return &Session{
		sessionID:     sessionID,
		peerNodeID:    peerNodeID,
		key:           key,
		keyVersion:    0,
		state:         StateActive,
		createdAt:     now,
		lastActive:    now,
		rotatedAt:     now,
		transportKind: transportKind,
		peerAddr:      peerAddr,
		rotation:      rotation,
		crypto:        c,
		clock:         time.Now,
	}
}

// SetClock overrides the session's wall-clock source, for deterministic
// rotation-policy tests.
func (s *Session) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Session) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// ID returns the session's 8-byte identifier.
func (s *Session) ID() [8]byte { return s.sessionID }

// PeerNodeID returns the peer's derived node identifier.
func (s *Session) PeerNodeID() [32]byte { return s.peerNodeID }

// PeerAddr returns the transport-level peer address or connection id.
func (s *Session) PeerAddr() string { return s.peerAddr }

// TransportKind returns which transport adapter carries this session.
func (s *Session) TransportKind() TransportKind { return s.transportKind }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Key returns the current session key and its version. Callers must not
// retain the returned slice past the next rotation.
func (s *Session) Key() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.keyVersion
}

// Stats is a point-in-time snapshot of a session's counters. BytesSent
// and PacketsSent restart from zero at each key rotation.
type Stats struct {
	SessionID       [8]byte
	State           State
	KeyVersion      uint64
	CreatedAt       time.Time
	LastActive      time.Time
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	SendErrors      uint64
	ReceiveErrors   uint64
}

// Snapshot returns the session's current Stats.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SessionID:       s.sessionID,
		State:           s.state,
		KeyVersion:      s.keyVersion,
		CreatedAt:       s.createdAt,
		LastActive:      s.lastActive,
		BytesSent:       s.bytesSent,
		BytesReceived:   s.bytesReceived,
		PacketsSent:     s.packetsSent,
		PacketsReceived: s.packetsReceived,
		SendErrors:      s.sendErrors,
		ReceiveErrors:   s.receiveErrors,
	}
}

// RecordSent updates the sent-byte/packet counters and last_active
// (spec §4.5 record_sent).
func (s *Session) RecordSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesSent += uint64(n)
	s.packetsSent++
	s.lastActive = s.now()
}

// RecordReceived updates the received-byte/packet counters and
// last_active (spec §4.5 record_received).
func (s *Session) RecordReceived(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesReceived += uint64(n)
	s.packetsReceived++
	s.lastActive = s.now()
}

// RecordError increments the appropriate error counter (spec §4.5
// record_error).
func (s *Session) RecordError(kind ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case ErrorKindSend:
		s.sendErrors++
	case ErrorKindReceive:
		s.receiveErrors++
	}
}

// Touch marks the session as active now (used for KEEPALIVE handling).
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.now()
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActive)
}

// ShouldRotate reports whether the configured rotation policy's
// threshold has been crossed (spec §4.5): any present threshold among
// bytes transmitted, frames transmitted, or wall-clock seconds elapsed
// since the last rotation triggers it.
func (s *Session) ShouldRotate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rotation.enabled() {
		return false
	}
	if s.rotation.Bytes > 0 && s.bytesSent >= s.rotation.Bytes {
		return true
	}
	if s.rotation.Frames > 0 && s.packetsSent >= s.rotation.Frames {
		return true
	}
	if s.rotation.Seconds > 0 && s.now().Sub(s.rotatedAt) >= s.rotation.Seconds {
		return true
	}
	return false
}

// Rotate derives the next key version from rotationNonce and bumps
// key_version, resetting the rotation-threshold counters (spec §4.5:
// "both peers run the same deterministic derivation on the same
// trigger"). The caller is responsible for carrying rotationNonce to
// the peer via the triggering frame's associated data.
func (s *Session) Rotate(rotationNonce []byte) error {
	logger := logrus.WithFields(logrus.Fields{
		"package":    "session",
		"function":   "Rotate",
		"session_id": fmt.Sprintf("%x", s.sessionID),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.crypto.RotateSessionKey(s.key, rotationNonce)
	if err != nil {
		logger.WithError(err).Warn("key rotation failed")
		return fmt.Errorf("session: Rotate: %w", err)
	}
	s.key = next
	s.keyVersion++
	s.rotatedAt = s.now()
	s.bytesSent = 0
	s.packetsSent = 0
	s.rotationSeq++
	logger.WithField("key_version", s.keyVersion).Info("rotated session key")
	return nil
}

// Close drives Active → Closing → Closed (spec §4.5). It is idempotent:
// closing an already-closed session is a no-op (spec §8).
func (s *Session) Close(onCloseStreams func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	if onCloseStreams != nil {
		onCloseStreams()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// EnsureActive returns stterr.ErrSessionClosed if the session is not
// Active, the check every send path performs before proceeding.
func (s *Session) EnsureActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%w: session is %s", stterr.ErrSessionClosed, s.state)
	}
	return nil
}
