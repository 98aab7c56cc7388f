// Package node implements the single per-node runtime of spec §4.9: the
// coordinator that owns the transports, the crypto adapter, the session
// and handshake registries, and the inbound frame-type dispatch table.
package node

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
	"github.com/seigr-lab/stt/handshake"
	"github.com/seigr-lab/stt/internal/stterr"
	"github.com/seigr-lab/stt/session"
	"github.com/seigr-lab/stt/stream"
	"github.com/seigr-lab/stt/transport"
)

// rotationNonceSize is the length of the random value fed to
// Crypto.RotateSessionKey as the rotation nonce (spec §4.5); it has no
// fixed length requirement beyond what the underlying KDF accepts.
const rotationNonceSize = 16

// Delivery is one unit of the aggregated application-visible plaintext
// feed (spec §4.9 receive()).
type Delivery struct {
	SessionID [8]byte
	StreamID  uint64
	Plaintext []byte
}

// UserFrameHandler processes a frame whose type falls in 0x80-0xFF (spec
// §6's "user frame-type dispatch"). payload is already decrypted when the
// frame arrived with flags.encrypted=1 and belongs to a known session.
type UserFrameHandler func(peerID string, sessionID [8]byte, f *frame.Frame)

type sessionExtra struct {
	streams *stream.Registry
	crypto  *stream.Crypto
}

type connectWaiter struct {
	sess *session.Session
	err  error
}

// Node is the single coordinator described by spec §4.9.
type Node struct {
	cfg         Config
	crypto      crypto.Crypto
	localNodeID [32]byte

	datagram *transport.DatagramTransport
	message  *transport.MessageTransport

	sessions   *session.Registry
	handshakes *handshake.Registry

	mu            sync.Mutex
	sessionExtras map[[8]byte]*sessionExtra
	pending       map[string]chan connectWaiter

	acceptInbound atomic.Bool

	userHandlersMu sync.RWMutex
	userHandlers   map[frame.Type]UserFrameHandler

	recvCh chan Delivery

	framesDropped atomic.Uint64
	framesRouted  atomic.Uint64

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	maintenanceCancel context.CancelFunc
	maintenanceDone   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New validates cfg and constructs an unstarted Node (spec §7
// ConfigError is returned here, at construction time).
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	adapter := crypto.NewAdapter(cfg.NodeSeed, cfg.SharedSeed)
	localNodeID := adapter.DeriveNodeID(cfg.NodeSeed)

	hsCfg := handshake.Config{Timeout: cfg.handshakeTimeout(), ClockSkew: handshake.DefaultConfig().ClockSkew}

	n := &Node{
		cfg:           cfg,
		crypto:        adapter,
		localNodeID:   localNodeID,
		sessions:      session.NewRegistry(),
		handshakes:    handshake.NewRegistry(localNodeID, adapter, hsCfg, nil),
		sessionExtras: make(map[[8]byte]*sessionExtra),
		pending:       make(map[string]chan connectWaiter),
		userHandlers:  make(map[frame.Type]UserFrameHandler),
		recvCh:        make(chan Delivery, 256),
		limiters:      make(map[string]*rate.Limiter),
	}
	n.acceptInbound.Store(true)
	return n, nil
}

// RegisterUserHandler binds handler to frameType, which must fall in the
// 0x80-0xFF range (spec §6). Registering for a type outside that range is
// a programmer error and is ignored.
func (n *Node) RegisterUserHandler(frameType frame.Type, handler UserFrameHandler) {
	if !frameType.IsUserDefined() {
		return
	}
	n.userHandlersMu.Lock()
	defer n.userHandlersMu.Unlock()
	n.userHandlers[frameType] = handler
}

// Start binds the configured transports and begins their receive loops
// plus the periodic maintenance task (spec §4.9 start()).
func (n *Node) Start(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{"package": "node", "function": "Start"})

	bindAddr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	n.datagram = transport.NewDatagramTransport(n.handleDatagramInbound, n.cfg.MaxPacketSize)
	addr, err := n.datagram.Start(ctx, bindAddr)
	if err != nil {
		return err
	}
	logger.WithField("addr", addr).Info("datagram transport bound")

	if n.cfg.EnableMessageTransport {
		msgAddr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.MessagePort))
		n.message = transport.NewMessageTransport(n.handleMessageInbound)
		addr, err := n.message.Start(ctx, msgAddr)
		if err != nil {
			return err
		}
		logger.WithField("addr", addr).Info("message transport bound")
	}

	maintCtx, cancel := context.WithCancel(ctx)
	n.maintenanceCancel = cancel
	n.maintenanceDone = make(chan struct{})
	go n.maintenanceLoop(maintCtx)

	return nil
}

// Stop reverses Start in the opposite order: every session is closed
// first, then the maintenance task and the transports (spec §4.9 stop()).
func (n *Node) Stop() error {
	var stopErr error
	n.stopOnce.Do(func() {
		n.sessions.CloseAll(func(id [8]byte) {
			n.mu.Lock()
			extra, ok := n.sessionExtras[id]
			delete(n.sessionExtras, id)
			n.mu.Unlock()
			if ok {
				extra.streams.CloseAll()
			}
		})

		if n.maintenanceCancel != nil {
			n.maintenanceCancel()
			<-n.maintenanceDone
		}

		if n.message != nil {
			if err := n.message.Stop(); err != nil {
				stopErr = err
			}
		}
		if n.datagram != nil {
			if err := n.datagram.Stop(); err != nil {
				stopErr = err
			}
		}
		close(n.recvCh)
	})
	return stopErr
}

// EnableAcceptInbound re-enables processing of inbound HELLO frames.
func (n *Node) EnableAcceptInbound() { n.acceptInbound.Store(true) }

// DisableAcceptInbound causes inbound HELLO frames to be dropped;
// existing sessions continue to function (spec §4.9).
func (n *Node) DisableAcceptInbound() { n.acceptInbound.Store(false) }

// LocalAddr returns the bound datagram transport address.
func (n *Node) LocalAddr() string {
	if n.datagram == nil {
		return ""
	}
	return n.datagram.LocalAddr()
}

// Connect starts an initiator handshake toward peerAddr over the
// datagram transport and blocks until it completes (spec §4.9 connect()).
func (n *Node) Connect(ctx context.Context, peerAddr string) (*session.Session, error) {
	return n.connectVia(ctx, session.TransportDatagram, peerAddr, peerAddr)
}

// ConnectMessage dials addr over the message transport, then drives an
// initiator handshake over the resulting connection.
func (n *Node) ConnectMessage(ctx context.Context, addr string) (*session.Session, error) {
	if n.message == nil {
		return nil, fmt.Errorf("%w: message transport not enabled", stterr.ErrConfig)
	}
	connID, err := n.message.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return n.connectVia(ctx, session.TransportMessage, connID, connID)
}

func (n *Node) connectVia(ctx context.Context, kind session.TransportKind, peerAddr, sendTarget string) (*session.Session, error) {
	waitCh := make(chan connectWaiter, 1)
	n.mu.Lock()
	n.pending[peerAddr] = waitCh
	n.mu.Unlock()
	cleanup := func() {
		n.mu.Lock()
		delete(n.pending, peerAddr)
		n.mu.Unlock()
	}

	hello, err := n.handshakes.StartInitiator(peerAddr)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := n.sendFrame(kind, sendTarget, hello); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case res := <-waitCh:
		return res.sess, res.err
	case <-ctx.Done():
		cleanup()
		return nil, fmt.Errorf("%w: %v", stterr.ErrTimeout, ctx.Err())
	}
}

// SendToSession resolves sessionID, resolves or creates streamID, and
// delegates to Stream.Send (spec §4.9 send_to_session()). Before sending,
// it checks the session's rotation policy and, if a threshold is crossed,
// rotates the session key and arranges for the rotation nonce to ride on
// this very frame (spec §4.5).
func (n *Node) SendToSession(ctx context.Context, sessionID [8]byte, streamID uint64, data []byte) error {
	sess, ok := n.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %x", stterr.ErrSessionNotFound, sessionID)
	}
	if err := sess.EnsureActive(); err != nil {
		return err
	}
	extra := n.extraFor(sess)
	if extra == nil {
		return fmt.Errorf("%w: %x", stterr.ErrSessionNotFound, sessionID)
	}
	st := n.streamFor(sess, streamID, stream.ModeLive)
	if sess.ShouldRotate() {
		nonce := make([]byte, rotationNonceSize)
		if _, err := crand.Read(nonce); err != nil {
			return fmt.Errorf("%w: generating rotation nonce: %v", stterr.ErrCryptoFailure, err)
		}
		if err := n.rotateSessionKey(sess, extra, nonce); err != nil {
			return err
		}
		st.SetPendingRotationNonce(nonce)
	}
	if err := st.Send(ctx, data); err != nil {
		sess.RecordError(session.ErrorKindSend)
		return err
	}
	sess.RecordSent(len(data))
	return nil
}

// rotateSessionKey advances sess to its next key version and, critically,
// mutates extra.crypto.Key in place so every Stream already constructed
// against extra.crypto (they all hold the same *stream.Crypto pointer)
// observes the new key on its very next Encrypt/Decrypt call.
func (n *Node) rotateSessionKey(sess *session.Session, extra *sessionExtra, nonce []byte) error {
	if err := sess.Rotate(nonce); err != nil {
		return err
	}
	key, _ := sess.Key()
	extra.crypto.SetKey(key)
	return nil
}

// SendToAll delegates to SendToSession for every active session,
// collecting per-session errors without aborting the others (spec §4.9
// send_to_all()).
func (n *Node) SendToAll(ctx context.Context, streamID uint64, data []byte) map[[8]byte]error {
	errs := make(map[[8]byte]error)
	for _, sess := range n.sessions.ListActive() {
		if err := n.SendToSession(ctx, sess.ID(), streamID, data); err != nil {
			errs[sess.ID()] = err
		}
	}
	return errs
}

// OpenStream announces a new stream to the peer with a STREAM_OPEN frame
// and registers it locally in mode, so a Bounded-mode stream (spec §4.6)
// is reachable from the sending side rather than only implicitly via
// inbound DATA.
func (n *Node) OpenStream(sessionID [8]byte, streamID uint64, mode stream.Mode) error {
	sess, ok := n.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %x", stterr.ErrSessionNotFound, sessionID)
	}
	if err := sess.EnsureActive(); err != nil {
		return err
	}
	n.streamFor(sess, streamID, mode)
	openFrame := &frame.Frame{Type: frame.TypeStreamOpen, SessionID: sessionID, StreamID: streamID}
	return n.sendFrame(sess.TransportKind(), sess.PeerAddr(), openFrame)
}

// EndStream emits the final segment of a Bounded-mode stream opened with
// OpenStream, then tells the peer the stream is closed (spec §4.6 end()).
// The STREAM_CLOSE frame is sent after the final DATA segment so an
// in-order transport delivers end-of-data before the peer tears the
// stream down; out-of-order delivery of the two is not guarded against.
func (n *Node) EndStream(ctx context.Context, sessionID [8]byte, streamID uint64) error {
	sess, ok := n.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %x", stterr.ErrSessionNotFound, sessionID)
	}
	extra := n.extraFor(sess)
	if extra == nil {
		return fmt.Errorf("%w: %x", stterr.ErrSessionNotFound, sessionID)
	}
	st, ok := extra.streams.Get(streamID)
	if !ok {
		return fmt.Errorf("%w: stream %d not open", stterr.ErrStreamClosed, streamID)
	}
	if err := st.End(ctx); err != nil {
		return err
	}
	closeFrame := &frame.Frame{Type: frame.TypeStreamClose, SessionID: sessionID, StreamID: streamID}
	if err := n.sendFrame(sess.TransportKind(), sess.PeerAddr(), closeFrame); err != nil {
		return err
	}
	extra.streams.Close(streamID)
	return nil
}

// Receive returns the aggregated application-visible plaintext feed
// (spec §4.9 receive()). Stop closes the channel.
func (n *Node) Receive() <-chan Delivery { return n.recvCh }

// Stats returns a point-in-time snapshot (spec §4.9 stats()).
func (n *Node) Stats() Stats {
	s := Stats{
		SessionCount:       n.sessions.Count(),
		ActiveSessionCount: len(n.sessions.ListActive()),
		HandshakesInFlight: n.handshakes.Count(),
		FramesDropped:      n.framesDropped.Load(),
		FramesRouted:       n.framesRouted.Load(),
	}
	if n.datagram != nil {
		s.DatagramLocalAddr = n.datagram.LocalAddr()
	}
	if n.message != nil {
		s.MessageLocalAddr = n.message.LocalAddr()
	}
	return s
}

func (n *Node) streamFor(sess *session.Session, streamID uint64, mode stream.Mode) *stream.Stream {
	extra := n.extraFor(sess)
	kind := sess.TransportKind()
	peerAddr := sess.PeerAddr()
	return extra.streams.GetOrCreate(streamID, func() *stream.Stream {
		sendFn := func(f *frame.Frame) error { return n.sendFrame(kind, peerAddr, f) }
		deliverFn := func(data []byte) {
			n.recvCh <- Delivery{SessionID: sess.ID(), StreamID: streamID, Plaintext: data}
		}
		return stream.New(streamID, sess.ID(), mode, n.streamConfig(), extra.crypto, sendFn, deliverFn)
	})
}

func (n *Node) streamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.ReorderBufferLimit = n.cfg.ReorderBufferLimit
	cfg.FlowCreditsInitial = n.cfg.FlowCreditsInitial
	return cfg
}

func (n *Node) extraFor(sess *session.Session) *sessionExtra {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionExtras[sess.ID()]
}

func (n *Node) sendFrame(kind session.TransportKind, peerID string, f *frame.Frame) error {
	encoded, err := frame.Encode(f, n.cfg.MaxFrameSize)
	if err != nil {
		return err
	}
	switch kind {
	case session.TransportMessage:
		return n.message.Send(peerID, encoded)
	default:
		return n.datagram.Send(peerID, encoded)
	}
}

func (n *Node) handleDatagramInbound(in transport.Inbound) {
	n.handleInbound(session.TransportDatagram, in)
}

func (n *Node) handleMessageInbound(in transport.Inbound) {
	n.handleInbound(session.TransportMessage, in)
}

// allowInbound enforces a per-peer-id token bucket ahead of any decoding
// or dispatch work, bounding HELLO floods and malformed-frame storms from
// a single source (spec §4.9's error-handling design calls for inbound
// abuse to be "dropped, counted" without sizing the admission policy).
// Limiters are never evicted, so a source that churns peer ids (distinct
// datagram addresses) can grow this map; bounding that is left to the
// transport/network layer rather than this per-frame admission check.
func (n *Node) allowInbound(peerID string) bool {
	n.limiterMu.Lock()
	lim, ok := n.limiters[peerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(n.cfg.InboundRateLimit), n.cfg.InboundRateBurst)
		n.limiters[peerID] = lim
	}
	n.limiterMu.Unlock()
	return lim.Allow()
}

func (n *Node) handleInbound(kind session.TransportKind, in transport.Inbound) {
	logger := logrus.WithFields(logrus.Fields{"package": "node", "function": "handleInbound", "peer_id": in.PeerID})

	if !n.allowInbound(in.PeerID) {
		n.framesDropped.Add(1)
		logger.Debug("inbound rate limit exceeded, frame dropped")
		return
	}

	f, err := frame.Decode(in.Data, n.cfg.MaxFrameSize)
	if err != nil {
		n.framesDropped.Add(1)
		logger.WithError(err).Debug("dropped malformed frame")
		return
	}
	n.dispatch(kind, in.PeerID, f)
}

func (n *Node) dispatch(kind session.TransportKind, peerID string, f *frame.Frame) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "node",
		"function": "dispatch",
		"type":     fmt.Sprintf("0x%02x", byte(f.Type)),
		"peer_id":  peerID,
	})

	switch {
	case f.Type == frame.TypeHandshakeInit:
		if !n.acceptInbound.Load() {
			n.framesDropped.Add(1)
			return
		}
		n.dispatchHandshake(kind, peerID, f)
	case f.Type == frame.TypeHandshakeChallenge, f.Type == frame.TypeHandshakeResponse, f.Type == frame.TypeHandshakeConfirm:
		n.dispatchHandshake(kind, peerID, f)
	case f.Type == frame.TypeData:
		n.dispatchData(f)
	case f.Type == frame.TypeStreamOpen:
		n.dispatchStreamOpen(f)
	case f.Type == frame.TypeStreamClose:
		n.dispatchStreamClose(f)
	case f.Type == frame.TypeAck:
		n.dispatchAck(f)
	case f.Type == frame.TypeKeepalive:
		n.dispatchKeepalive(f)
	case f.Type == frame.TypeDisconnect:
		n.dispatchDisconnect(f)
	case f.Type.IsUserDefined():
		n.dispatchUser(peerID, f)
	default:
		n.framesDropped.Add(1)
		logger.Debug("unknown frame type dropped")
		return
	}
	n.framesRouted.Add(1)
}

func (n *Node) dispatchHandshake(kind session.TransportKind, peerID string, f *frame.Frame) {
	logger := logrus.WithFields(logrus.Fields{"package": "node", "function": "dispatchHandshake", "peer_id": peerID})

	out, outcome, err := n.handshakes.Dispatch(peerID, f)
	if err != nil {
		n.resolvePending(peerID, nil, err)
		logger.WithError(err).Debug("handshake step failed")
		return
	}
	if out != nil {
		if sendErr := n.sendFrame(kind, peerID, out); sendErr != nil {
			logger.WithError(sendErr).Warn("failed to send handshake response")
		}
	}
	if outcome != nil {
		sess := n.promoteSession(outcome, kind, peerID)
		n.resolvePending(peerID, sess, nil)
	}
}

func (n *Node) promoteSession(outcome *handshake.Outcome, kind session.TransportKind, peerID string) *session.Session {
	sess := session.New(outcome.SessionID, outcome.PeerNodeID, outcome.SessionKey, kind, peerID, n.cfg.Rotation, n.crypto, time.Now())
	n.sessions.Add(sess)

	extra := &sessionExtra{
		streams: stream.NewRegistry(),
		crypto:  &stream.Crypto{Adapter: n.crypto, Key: outcome.SessionKey},
	}
	n.mu.Lock()
	n.sessionExtras[outcome.SessionID] = extra
	n.mu.Unlock()

	return sess
}

func (n *Node) resolvePending(peerID string, sess *session.Session, err error) {
	n.mu.Lock()
	ch, ok := n.pending[peerID]
	if ok {
		delete(n.pending, peerID)
	}
	n.mu.Unlock()
	if ok {
		ch <- connectWaiter{sess: sess, err: err}
	}
}

func (n *Node) sessionForFrame(f *frame.Frame) (*session.Session, *sessionExtra, bool) {
	sess, ok := n.sessions.Get(f.SessionID)
	if !ok {
		return nil, nil, false
	}
	n.mu.Lock()
	extra, ok := n.sessionExtras[sess.ID()]
	n.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	return sess, extra, true
}

func (n *Node) dispatchData(f *frame.Frame) {
	sess, extra, ok := n.sessionForFrame(f)
	if !ok {
		n.framesDropped.Add(1)
		return
	}
	sess.Touch()
	if len(f.RotationNonce) > 0 {
		if err := n.rotateSessionKey(sess, extra, f.RotationNonce); err != nil {
			sess.RecordError(session.ErrorKindReceive)
			return
		}
	}
	st := extra.streams.GetOrCreate(f.StreamID, func() *stream.Stream {
		kind := sess.TransportKind()
		peerAddr := sess.PeerAddr()
		sendFn := func(out *frame.Frame) error { return n.sendFrame(kind, peerAddr, out) }
		streamID := f.StreamID
		deliverFn := func(data []byte) {
			n.recvCh <- Delivery{SessionID: sess.ID(), StreamID: streamID, Plaintext: data}
		}
		return stream.New(f.StreamID, sess.ID(), stream.ModeLive, n.streamConfig(), extra.crypto, sendFn, deliverFn)
	})
	if err := st.HandleInboundFrame(f); err != nil {
		sess.RecordError(session.ErrorKindReceive)
		if errors.Is(err, stterr.ErrCryptoFailure) {
			// A decryption failure is fatal to the whole session.
			n.dispatchDisconnect(f)
			return
		}
	}
	sess.RecordReceived(len(f.Payload))
}

func (n *Node) dispatchStreamOpen(f *frame.Frame) {
	sess, extra, ok := n.sessionForFrame(f)
	if !ok {
		n.framesDropped.Add(1)
		return
	}
	sess.Touch()
	extra.streams.GetOrCreate(f.StreamID, func() *stream.Stream {
		kind := sess.TransportKind()
		peerAddr := sess.PeerAddr()
		sendFn := func(out *frame.Frame) error { return n.sendFrame(kind, peerAddr, out) }
		streamID := f.StreamID
		deliverFn := func(data []byte) {
			n.recvCh <- Delivery{SessionID: sess.ID(), StreamID: streamID, Plaintext: data}
		}
		return stream.New(f.StreamID, sess.ID(), stream.ModeBounded, n.streamConfig(), extra.crypto, sendFn, deliverFn)
	})
}

func (n *Node) dispatchStreamClose(f *frame.Frame) {
	sess, extra, ok := n.sessionForFrame(f)
	if !ok {
		n.framesDropped.Add(1)
		return
	}
	sess.Touch()
	extra.streams.Close(f.StreamID)
}

func (n *Node) dispatchAck(f *frame.Frame) {
	sess, extra, ok := n.sessionForFrame(f)
	if !ok {
		n.framesDropped.Add(1)
		return
	}
	sess.Touch()
	st, ok := extra.streams.Get(f.StreamID)
	if !ok {
		return
	}
	ackUpTo, err := stream.DecodeAck(f.Payload)
	if err != nil {
		return
	}
	st.HandleAck(ackUpTo)
}

func (n *Node) dispatchKeepalive(f *frame.Frame) {
	sess, ok := n.sessions.Get(f.SessionID)
	if !ok {
		n.framesDropped.Add(1)
		return
	}
	sess.Touch()
}

func (n *Node) dispatchDisconnect(f *frame.Frame) {
	_ = n.sessions.Close(f.SessionID, func() {
		n.mu.Lock()
		extra, ok := n.sessionExtras[f.SessionID]
		delete(n.sessionExtras, f.SessionID)
		n.mu.Unlock()
		if ok {
			extra.streams.CloseAll()
		}
	})
}

func (n *Node) dispatchUser(peerID string, f *frame.Frame) {
	if sess, ok := n.sessions.Get(f.SessionID); ok && f.Encrypted {
		if extra, ok := n.extraForLocked(sess.ID()); ok {
			_ = extra.crypto.Decrypt(f)
		}
	}
	n.userHandlersMu.RLock()
	handler, ok := n.userHandlers[f.Type]
	n.userHandlersMu.RUnlock()
	if !ok {
		n.framesDropped.Add(1)
		return
	}
	handler(peerID, f.SessionID, f)
}

func (n *Node) extraForLocked(id [8]byte) (*sessionExtra, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.sessionExtras[id]
	return e, ok
}

func (n *Node) maintenanceLoop(ctx context.Context) {
	defer close(n.maintenanceDone)
	logger := logrus.WithFields(logrus.Fields{"package": "node", "function": "maintenanceLoop"})

	ticker := time.NewTicker(n.cfg.keepaliveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.expireIdleSessions()
			n.emitKeepalives()
			for _, addr := range n.handshakes.ExpireStale() {
				logger.WithField("peer_addr", addr).Debug("expired stale handshake entry")
			}
		}
	}
}

func (n *Node) expireIdleSessions() {
	idle := n.cfg.sessionIdleTimeout()
	for _, sess := range n.sessions.ListActive() {
		if sess.IdleFor() >= idle {
			_ = n.sessions.Close(sess.ID(), func() {
				n.mu.Lock()
				extra, ok := n.sessionExtras[sess.ID()]
				delete(n.sessionExtras, sess.ID())
				n.mu.Unlock()
				if ok {
					extra.streams.CloseAll()
				}
			})
		}
	}
}

func (n *Node) emitKeepalives() {
	for _, sess := range n.sessions.ListActive() {
		f := &frame.Frame{Type: frame.TypeKeepalive, SessionID: sess.ID()}
		_ = n.sendFrame(sess.TransportKind(), sess.PeerAddr(), f)
	}
}
