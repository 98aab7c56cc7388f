package handshake

import (
	crand "crypto/rand"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/codec"
	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
	"github.com/seigr-lab/stt/internal/stterr"
)

// Config holds the handshake timing tolerances of spec §4.4.
type Config struct {
	// Timeout bounds the entire exchange per peer address (default 10s).
	Timeout time.Duration
	// ClockSkew is the tolerance applied to handshake message timestamps
	// (default ±5 minutes).
	ClockSkew time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, ClockSkew: 5 * time.Minute}
}

// Machine drives one side of the four-message exchange. It is not safe
// for concurrent use; the owning Registry serializes access per entry.
type Machine struct {
	role    Role
	crypto  crypto.Crypto
	cfg     Config
	clock   TimeProvider
	state   State
	failure error

	localNodeID [32]byte
	peerNodeID  [32]byte
	nonceLocal  [32]byte
	nonceRemote [32]byte
	sessionID   [8]byte

	outcome *Outcome
}

// NewInitiator constructs a Machine that drives the initiator side:
// Start → SentHello → ReceivedChallenge → SentProof → Confirmed.
func NewInitiator(localNodeID [32]byte, c crypto.Crypto, cfg Config, clock TimeProvider) *Machine {
	if clock == nil {
		clock = realTimeProvider{}
	}
	return &Machine{role: RoleInitiator, crypto: c, cfg: cfg, clock: clock, state: StateStart, localNodeID: localNodeID}
}

// NewResponder constructs a Machine that drives the responder side:
// Start → ReceivedHello → SentChallenge → ReceivedProof → SentConfirm.
func NewResponder(localNodeID [32]byte, c crypto.Crypto, cfg Config, clock TimeProvider) *Machine {
	if clock == nil {
		clock = realTimeProvider{}
	}
	return &Machine{role: RoleResponder, crypto: c, cfg: cfg, clock: clock, state: StateStart, localNodeID: localNodeID}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Done reports whether the exchange reached its terminal success state
// for this role (spec §4.4's per-role terminal states differ: the
// initiator's is Confirmed, the responder's is SentConfirm).
func (m *Machine) Done() bool {
	if m.role == RoleInitiator {
		return m.state == StateConfirmed
	}
	return m.state == StateSentConfirm
}

// Failed reports whether the exchange has aborted.
func (m *Machine) Failed() bool { return m.state == StateFailed }

// Outcome returns the promoted session material once Done reports true.
func (m *Machine) Outcome() *Outcome { return m.outcome }

func (m *Machine) fail(logger *logrus.Entry, reason string, err error) error {
	m.state = StateFailed
	wrapped := fmt.Errorf("%w: %s: %v", stterr.ErrHandshakeFailed, reason, err)
	m.failure = wrapped
	logger.WithError(err).WithField("reason", reason).Warn("handshake failed")
	return wrapped
}

// Start begins the initiator side, producing the HELLO frame. It is
// only valid from StateStart for an initiator-role machine.
func (m *Machine) Start() (*frame.Frame, error) {
	logger := logrus.WithFields(logrus.Fields{"package": "handshake", "function": "Start", "role": m.role.String()})
	if m.role != RoleInitiator {
		return nil, fmt.Errorf("%w: Start is only valid for an initiator", stterr.ErrHandshakeFailed)
	}
	if m.state != StateStart {
		return nil, fmt.Errorf("%w: Start called from state %s", stterr.ErrHandshakeFailed, m.state)
	}

	if _, err := crand.Read(m.nonceLocal[:]); err != nil {
		return nil, m.fail(logger, "generating nonce_i", err)
	}

	commitData := append(append([]byte{}, m.localNodeID[:]...), m.nonceLocal[:]...)
	commitment, err := m.crypto.Hash(commitData, nil)
	if err != nil {
		return nil, m.fail(logger, "computing commitment", err)
	}

	payload := codec.Map{
		"node_id":    append([]byte{}, m.localNodeID[:]...),
		"nonce":      append([]byte{}, m.nonceLocal[:]...),
		"timestamp":  m.clock.Now().UnixMilli(),
		"commitment": append([]byte{}, commitment[:]...),
	}
	f, err := m.buildFrame(frame.TypeHandshakeInit, payload)
	if err != nil {
		return nil, m.fail(logger, "encoding hello", err)
	}

	m.state = StateSentHello
	logger.Debug("sent HELLO")
	return f, nil
}

// HandleFrame feeds an inbound handshake frame to the machine, advancing
// its state and returning the next outbound frame to send, if any. A nil
// frame with a nil error means the exchange is complete and nothing more
// needs to be sent; only the initiator, after validating CONFIRM, ends
// this way. The responder's final step returns the CONFIRM frame to send.
func (m *Machine) HandleFrame(f *frame.Frame) (*frame.Frame, error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "handshake",
		"function": "HandleFrame",
		"role":     m.role.String(),
		"state":    m.state.String(),
		"type":     fmt.Sprintf("0x%02x", byte(f.Type)),
	})

	switch {
	case m.role == RoleResponder && f.Type == frame.TypeHandshakeInit && m.state == StateStart:
		return m.handleHello(logger, f)
	case m.role == RoleInitiator && f.Type == frame.TypeHandshakeChallenge && m.state == StateSentHello:
		return m.handleChallenge(logger, f)
	case m.role == RoleResponder && f.Type == frame.TypeHandshakeResponse && m.state == StateSentChallenge:
		return m.handleProof(logger, f)
	case m.role == RoleInitiator && f.Type == frame.TypeHandshakeConfirm && m.state == StateSentProof:
		return m.handleConfirm(logger, f)
	default:
		return nil, m.fail(logger, "unexpected frame for current state", fmt.Errorf("type=0x%02x state=%s", byte(f.Type), m.state))
	}
}

func (m *Machine) handleHello(logger *logrus.Entry, f *frame.Frame) (*frame.Frame, error) {
	fields, err := decodeMessage(f.Payload)
	if err != nil {
		return nil, m.fail(logger, "decoding hello", err)
	}
	peerNodeID, nonceI, ts, commitment, err := parseHello(fields)
	if err != nil {
		return nil, m.fail(logger, "parsing hello", err)
	}
	if !m.withinSkew(ts) {
		return nil, m.fail(logger, "hello timestamp outside clock skew tolerance", fmt.Errorf("ts=%d", ts))
	}

	commitData := append(append([]byte{}, peerNodeID[:]...), nonceI[:]...)
	expected, err := m.crypto.Hash(commitData, nil)
	if err != nil {
		return nil, m.fail(logger, "computing expected commitment", err)
	}
	if expected != commitment {
		return nil, m.fail(logger, "commitment mismatch", fmt.Errorf("hello commitment does not match"))
	}

	m.peerNodeID = peerNodeID
	m.nonceRemote = nonceI
	m.state = StateReceivedHello

	if _, err := crand.Read(m.nonceLocal[:]); err != nil {
		return nil, m.fail(logger, "generating nonce_r", err)
	}

	plaintext := append(append([]byte{}, m.nonceRemote[:]...), m.nonceLocal[:]...)
	ad := handshakeAD("challenge", m.peerNodeID, m.localNodeID)
	ct, md, err := m.crypto.Encrypt(m.crypto.PreSharedKey(), plaintext, ad)
	if err != nil {
		return nil, m.fail(logger, "encrypting challenge", err)
	}

	payload := codec.Map{
		"node_id":   append([]byte{}, m.localNodeID[:]...),
		"nonce":     append([]byte{}, m.nonceLocal[:]...),
		"ct":        ct,
		"md":        md,
		"timestamp": m.clock.Now().UnixMilli(),
	}
	out, err := m.buildFrame(frame.TypeHandshakeChallenge, payload)
	if err != nil {
		return nil, m.fail(logger, "encoding challenge", err)
	}

	m.state = StateSentChallenge
	logger.Debug("sent CHALLENGE")
	return out, nil
}

func (m *Machine) handleChallenge(logger *logrus.Entry, f *frame.Frame) (*frame.Frame, error) {
	fields, err := decodeMessage(f.Payload)
	if err != nil {
		return nil, m.fail(logger, "decoding challenge", err)
	}
	peerNodeID, nonceR, ct, md, ts, err := parseChallenge(fields)
	if err != nil {
		return nil, m.fail(logger, "parsing challenge", err)
	}
	if !m.withinSkew(ts) {
		return nil, m.fail(logger, "challenge timestamp outside clock skew tolerance", fmt.Errorf("ts=%d", ts))
	}

	m.peerNodeID = peerNodeID
	m.nonceRemote = nonceR
	m.state = StateReceivedChallenge

	ad := handshakeAD("challenge", m.localNodeID, m.peerNodeID)
	plaintext, err := m.crypto.Decrypt(m.crypto.PreSharedKey(), ct, md, ad)
	if err != nil {
		return nil, m.fail(logger, "decrypting challenge", err)
	}
	want := append(append([]byte{}, m.nonceLocal[:]...), m.nonceRemote[:]...)
	if !bytesEqual(plaintext, want) {
		return nil, m.fail(logger, "challenge plaintext mismatch", fmt.Errorf("recovered bytes do not equal nonce_i||nonce_r"))
	}

	sessionID := computeSessionID(m.nonceLocal, m.nonceRemote, m.localNodeID, m.peerNodeID)
	m.sessionID = sessionID

	proofAD := handshakeAD("proof", m.localNodeID, m.peerNodeID)
	ct2, md2, err := m.crypto.Encrypt(m.crypto.PreSharedKey(), sessionID[:], proofAD)
	if err != nil {
		return nil, m.fail(logger, "encrypting proof", err)
	}

	payload := codec.Map{
		"session_id": append([]byte{}, sessionID[:]...),
		"ct":         ct2,
		"md":         md2,
		"timestamp":  m.clock.Now().UnixMilli(),
	}
	out, err := m.buildFrame(frame.TypeHandshakeResponse, payload)
	if err != nil {
		return nil, m.fail(logger, "encoding proof", err)
	}

	m.state = StateSentProof
	logger.Debug("sent AUTH_PROOF")
	return out, nil
}

func (m *Machine) handleProof(logger *logrus.Entry, f *frame.Frame) (*frame.Frame, error) {
	fields, err := decodeMessage(f.Payload)
	if err != nil {
		return nil, m.fail(logger, "decoding proof", err)
	}
	claimedSessionID, ct, md, ts, err := parseProof(fields)
	if err != nil {
		return nil, m.fail(logger, "parsing proof", err)
	}
	if !m.withinSkew(ts) {
		return nil, m.fail(logger, "proof timestamp outside clock skew tolerance", fmt.Errorf("ts=%d", ts))
	}

	expected := computeSessionID(m.nonceRemote, m.nonceLocal, m.peerNodeID, m.localNodeID)
	if claimedSessionID != expected {
		return nil, m.fail(logger, "proof session id mismatch", fmt.Errorf("claimed session id does not match computed value"))
	}

	proofAD := handshakeAD("proof", m.peerNodeID, m.localNodeID)
	plaintext, err := m.crypto.Decrypt(m.crypto.PreSharedKey(), ct, md, proofAD)
	if err != nil {
		return nil, m.fail(logger, "decrypting proof", err)
	}
	if !bytesEqual(plaintext, expected[:]) {
		return nil, m.fail(logger, "proof plaintext mismatch", fmt.Errorf("recovered bytes do not equal session id"))
	}

	m.sessionID = expected
	m.state = StateReceivedProof

	key, err := m.deriveSessionKey()
	if err != nil {
		return nil, m.fail(logger, "deriving session key", err)
	}
	m.outcome = &Outcome{
		SessionID:   m.sessionID,
		SessionKey:  key,
		PeerNodeID:  m.peerNodeID,
		LocalNodeID: m.localNodeID,
		NonceI:      m.nonceRemote,
		NonceR:      m.nonceLocal,
	}

	payload := codec.Map{
		"session_id": append([]byte{}, m.sessionID[:]...),
		"status":     "OK",
		"timestamp":  m.clock.Now().UnixMilli(),
	}
	out, err := m.buildFrame(frame.TypeHandshakeConfirm, payload)
	if err != nil {
		return nil, m.fail(logger, "encoding confirm", err)
	}

	m.state = StateSentConfirm
	logger.Info("handshake complete, responder side")
	return out, nil
}

func (m *Machine) handleConfirm(logger *logrus.Entry, f *frame.Frame) (*frame.Frame, error) {
	fields, err := decodeMessage(f.Payload)
	if err != nil {
		return nil, m.fail(logger, "decoding confirm", err)
	}
	sessionID, status, ts, err := parseConfirm(fields)
	if err != nil {
		return nil, m.fail(logger, "parsing confirm", err)
	}
	if !m.withinSkew(ts) {
		return nil, m.fail(logger, "confirm timestamp outside clock skew tolerance", fmt.Errorf("ts=%d", ts))
	}
	if sessionID != m.sessionID {
		return nil, m.fail(logger, "confirm session id mismatch", fmt.Errorf("confirm carries an unexpected session id"))
	}
	if status != "OK" {
		return nil, m.fail(logger, "confirm status not OK", fmt.Errorf("status=%q", status))
	}

	key, err := m.deriveSessionKey()
	if err != nil {
		return nil, m.fail(logger, "deriving session key", err)
	}
	m.outcome = &Outcome{
		SessionID:   m.sessionID,
		SessionKey:  key,
		PeerNodeID:  m.peerNodeID,
		LocalNodeID: m.localNodeID,
		NonceI:      m.nonceLocal,
		NonceR:      m.nonceRemote,
	}
	m.state = StateConfirmed
	logger.Info("handshake complete, initiator side")
	return nil, nil
}

// deriveSessionKey calls Crypto.DeriveSessionKey with the fixed-shape
// material map of spec §4.4, keyed the same way regardless of which role
// computes it: node_id_i/nonce_i always mean the initiator's values.
func (m *Machine) deriveSessionKey() ([]byte, error) {
	var nodeIDI, nodeIDR [32]byte
	var nonceI, nonceR [32]byte
	if m.role == RoleInitiator {
		nodeIDI, nodeIDR = m.localNodeID, m.peerNodeID
		nonceI, nonceR = m.nonceLocal, m.nonceRemote
	} else {
		nodeIDI, nodeIDR = m.peerNodeID, m.localNodeID
		nonceI, nonceR = m.nonceRemote, m.nonceLocal
	}
	material := codec.Map{
		"nonce_i":   append([]byte{}, nonceI[:]...),
		"nonce_r":   append([]byte{}, nonceR[:]...),
		"node_id_i": append([]byte{}, nodeIDI[:]...),
		"node_id_r": append([]byte{}, nodeIDR[:]...),
	}
	return m.crypto.DeriveSessionKey(material)
}

func (m *Machine) withinSkew(ts int64) bool {
	now := m.clock.Now().UnixMilli()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Millisecond <= m.cfg.ClockSkew
}

func (m *Machine) buildFrame(t frame.Type, payload codec.Map) (*frame.Frame, error) {
	encoded, err := codec.EncodeValue(payload)
	if err != nil {
		return nil, err
	}
	return &frame.Frame{Type: t, Payload: encoded}, nil
}

// computeSessionID implements spec §3's deterministic mixing:
// (XOR(nonce_i, nonce_r) || XOR(node_id_i, node_id_r))[0..8].
func computeSessionID(nonceI, nonceR, nodeIDI, nodeIDR [32]byte) [8]byte {
	var nonceXOR [32]byte
	for i := range nonceXOR {
		nonceXOR[i] = nonceI[i] ^ nonceR[i]
	}
	var out [8]byte
	copy(out[:], nonceXOR[:8])
	return out
}

// handshakeAD derives deterministic associated data for the inner
// Crypto.encrypt calls embedded in CHALLENGE and AUTH_PROOF, binding a
// fixed tag plus both node ids so the two messages never share an AD.
func handshakeAD(tag string, nodeIDI, nodeIDR [32]byte) []byte {
	out := append([]byte{}, []byte("stt-v1-handshake-"+tag)...)
	out = append(out, nodeIDI[:]...)
	out = append(out, nodeIDR[:]...)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
