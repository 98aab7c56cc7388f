package stream

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/frame"
	"github.com/seigr-lab/stt/internal/stterr"
)

// Mode selects whether a stream has a defined end (spec §4.6).
type Mode int

const (
	ModeLive Mode = iota
	ModeBounded
)

// State is a Stream's lifecycle stage (spec §3).
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// segmentMarker is a one-byte prefix the sender adds to every
// segment's plaintext before encryption, carrying the Segment.is_final
// flag of spec §3 through the wire's opaque DATA payload without
// widening the frame header.
type segmentMarker byte

const (
	markerData  segmentMarker = 0
	markerFinal segmentMarker = 1
)

// Config holds the per-stream tunables (spec §6): segment size
// (transport MTU minus frame overhead), initial flow credits, reorder
// buffer limit, and ACK cadence. The node sets FlowCreditsInitial and
// ReorderBufferLimit from node.Config and keeps DefaultConfig's values
// for the rest. AckInterval is not read: a Stream emits an ACK after
// every AckEverySegments delivered segments and never on a timer.
type Config struct {
	SegmentSize        int
	FlowCreditsInitial int
	ReorderBufferLimit int
	AckEverySegments   int
	AckInterval        time.Duration
}

// DefaultConfig mirrors the defaults of spec §6.
func DefaultConfig() Config {
	return Config{
		SegmentSize:        1400,
		FlowCreditsInitial: 1024,
		ReorderBufferLimit: 64,
		AckEverySegments:   32,
		AckInterval:        100 * time.Millisecond,
	}
}

// SendFrameFunc transmits an already-encrypted frame through the
// session's transport; supplied by the node.
type SendFrameFunc func(f *frame.Frame) error

// DeliverFunc hands gap-free plaintext bytes to the application.
type DeliverFunc func(data []byte)

type bufferedSegment struct {
	payload []byte
	final   bool
}

// Stream is the per-(session_id, stream_id) reliable ordered encrypted
// channel of spec §4.6.
type Stream struct {
	mu sync.Mutex

	streamID  uint64
	sessionID [8]byte
	mode      Mode
	state     State

	nextSendSeq         uint64
	nextExpectedRecvSeq uint64
	reorderBuffer       map[uint64]bufferedSegment

	lastAckedSeq uint64 // peer's last reported next-expected sequence; all below it are acked
	ackPending   int

	// pendingRotationNonce, once set, is attached to exactly the next
	// outbound frame this stream sends and then cleared (spec §4.5: "a
	// threshold hit causes the next outbound frame to be preceded by an
	// internal key-rotation step").
	pendingRotationNonce []byte

	ended bool // bounded mode only: final segment delivered

	bytesSent       uint64
	bytesReceived   uint64
	duplicates      uint64
	receiveErrors   uint64

	flow      *flowControl
	cfg       Config
	crypto    *Crypto
	sendFrame SendFrameFunc
	deliver   DeliverFunc

	closeErr error
}

// New constructs a Stream in the Open state. Streams are created either
// explicitly (STREAM_OPEN) or implicitly on first inbound DATA for an
// unknown stream id (spec §4.7).
func New(streamID uint64, sessionID [8]byte, mode Mode, cfg Config, c *Crypto, sendFrame SendFrameFunc, deliver DeliverFunc) *Stream {
	return &Stream{
		streamID:      streamID,
		sessionID:     sessionID,
		mode:          mode,
		state:         StateOpen,
		reorderBuffer: make(map[uint64]bufferedSegment),
		flow:          newFlowControl(cfg.FlowCreditsInitial),
		cfg:           cfg,
		crypto:        c,
		sendFrame:     sendFrame,
		deliver:       deliver,
	}
}

// ID returns the stream's id.
func (s *Stream) ID() uint64 { return s.streamID }

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ended reports whether a bounded stream's final segment has been
// delivered to the application.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SetPendingRotationNonce arranges for nonce to be carried on exactly
// the next frame this stream sends. The caller (the node) is expected
// to have already rotated the session's key and updated this stream's
// Crypto before the next Send/End call, so that frame is both marked
// with the nonce and enciphered under the new key in the same step.
func (s *Stream) SetPendingRotationNonce(nonce []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRotationNonce = nonce
}

// Send segments data and transmits it as one or more DATA frames,
// awaiting flow credits per segment (spec §4.6). It returns
// stterr.ErrStreamClosed if the stream is not Open.
func (s *Stream) Send(ctx context.Context, data []byte) error {
	logger := logrus.WithFields(logrus.Fields{
		"package":   "stream",
		"function":  "Send",
		"stream_id": s.streamID,
	})

	for offset := 0; offset < len(data) || len(data) == 0; offset += s.cfg.SegmentSize {
		end := offset + s.cfg.SegmentSize
		if end > len(data) {
			end = len(data)
		}
		if err := s.sendSegment(ctx, data[offset:end], false); err != nil {
			logger.WithError(err).Warn("send segment failed")
			return err
		}
		if len(data) == 0 {
			break
		}
	}
	return nil
}

// End emits the final segment of a bounded stream; subsequent Send
// calls fail with stterr.ErrStreamClosed (spec §4.6). Invalid on a live
// stream.
func (s *Stream) End(ctx context.Context) error {
	if s.mode != ModeBounded {
		return fmt.Errorf("%w: End is only valid on a bounded stream", stterr.ErrStreamClosed)
	}
	return s.sendSegment(ctx, nil, true)
}

func (s *Stream) sendSegment(ctx context.Context, payload []byte, final bool) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return fmt.Errorf("%w: stream is %s", stterr.ErrStreamClosed, s.state)
	}
	if s.nextSendSeq == math.MaxUint64 {
		s.mu.Unlock()
		s.failLocked(stterr.ErrSequenceOverflow)
		return fmt.Errorf("%w: stream %d", stterr.ErrSequenceOverflow, s.streamID)
	}
	s.mu.Unlock()

	if err := s.flow.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", stterr.ErrTimeout, err)
	}

	s.mu.Lock()
	seq := s.nextSendSeq
	s.nextSendSeq++
	rotationNonce := s.pendingRotationNonce
	s.pendingRotationNonce = nil
	s.mu.Unlock()

	marker := markerData
	if final {
		marker = markerFinal
	}
	plaintext := append([]byte{byte(marker)}, payload...)

	f := &frame.Frame{
		Type:          frame.TypeData,
		SessionID:     s.sessionID,
		StreamID:      s.streamID,
		Sequence:      seq,
		RotationNonce: rotationNonce,
		Payload:       plaintext,
	}
	if err := s.crypto.Encrypt(f); err != nil {
		s.failLocked(stterr.ErrCryptoFailure)
		return fmt.Errorf("stream: encrypting segment: %w", err)
	}
	if err := s.sendFrame(f); err != nil {
		s.mu.Lock()
		s.bytesSent += uint64(len(payload))
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", stterr.ErrTransport, err)
	}

	s.mu.Lock()
	s.bytesSent += uint64(len(payload))
	if final {
		s.state = StateClosing
	}
	s.mu.Unlock()
	return nil
}

// HandleInboundFrame processes an inbound DATA frame for this stream:
// duplicate/ordering checks, decryption, reorder buffering, and
// in-order delivery (spec §4.6 "Receive path").
func (s *Stream) HandleInboundFrame(f *frame.Frame) error {
	logger := logrus.WithFields(logrus.Fields{
		"package":   "stream",
		"function":  "HandleInboundFrame",
		"stream_id": s.streamID,
		"sequence":  f.Sequence,
	})

	s.mu.Lock()
	if s.state == StateClosed {
		s.receiveErrors++
		s.mu.Unlock()
		logger.Debug("inbound segment after close, dropped")
		return nil
	}
	if f.Sequence < s.nextExpectedRecvSeq {
		s.duplicates++
		s.mu.Unlock()
		logger.Debug("duplicate segment dropped")
		return nil
	}
	if f.Sequence > s.nextExpectedRecvSeq+uint64(s.cfg.ReorderBufferLimit) {
		s.mu.Unlock()
		s.failLocked(stterr.ErrReorderBufferOverflow)
		return fmt.Errorf("%w: stream %d", stterr.ErrReorderBufferOverflow, s.streamID)
	}
	s.mu.Unlock()

	if err := s.crypto.Decrypt(f); err != nil {
		s.failLocked(stterr.ErrCryptoFailure)
		return fmt.Errorf("stream: decrypting segment: %w", err)
	}
	if len(f.Payload) < 1 {
		s.failLocked(stterr.ErrMalformedFrame)
		return fmt.Errorf("%w: empty segment payload", stterr.ErrMalformedFrame)
	}
	marker := segmentMarker(f.Payload[0])
	body := f.Payload[1:]

	s.mu.Lock()
	s.reorderBuffer[f.Sequence] = bufferedSegment{payload: body, final: marker == markerFinal}
	s.drainLocked()
	s.mu.Unlock()
	return nil
}

// drainLocked delivers every contiguous buffered segment starting at
// nextExpectedRecvSeq, in order, to the application (caller holds mu).
func (s *Stream) drainLocked() {
	for {
		seg, ok := s.reorderBuffer[s.nextExpectedRecvSeq]
		if !ok {
			return
		}
		delete(s.reorderBuffer, s.nextExpectedRecvSeq)
		s.nextExpectedRecvSeq++
		s.bytesReceived += uint64(len(seg.payload))

		if s.deliver != nil && len(seg.payload) > 0 {
			s.deliver(seg.payload)
		}
		if seg.final {
			s.ended = true
		}

		s.ackPending++
		if s.ackPending >= s.cfg.AckEverySegments {
			s.emitAckLocked()
		}
	}
}

func (s *Stream) emitAckLocked() {
	ackUpTo := s.nextExpectedRecvSeq
	s.ackPending = 0
	if s.sendFrame == nil {
		return
	}
	go func() {
		ackFrame := &frame.Frame{
			Type:      frame.TypeAck,
			SessionID: s.sessionID,
			StreamID:  s.streamID,
		}
		payload := encodeAck(ackUpTo)
		ackFrame.Payload = payload
		_ = s.sendFrame(ackFrame)
	}()
}

// HandleAck grants flow credits for newly acknowledged segments (spec
// §4.6 "ACK frames from the peer grant credits").
func (s *Stream) HandleAck(ackUpToSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ackUpToSeq <= s.lastAckedSeq {
		return
	}
	granted := ackUpToSeq - s.lastAckedSeq
	s.lastAckedSeq = ackUpToSeq
	if granted > uint64(math.MaxInt32) {
		granted = uint64(math.MaxInt32)
	}
	s.flow.grant(int(granted))
}

func (s *Stream) failLocked(cause error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.closeErr = cause
	s.mu.Unlock()
}

// Close drives Open/Closing → Closed (spec §4.6, §4.7).
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// Stats is a point-in-time snapshot of a stream's counters.
type Stats struct {
	StreamID            uint64
	State               State
	Mode                Mode
	NextSendSeq         uint64
	NextExpectedRecvSeq uint64
	BytesSent           uint64
	BytesReceived       uint64
	Duplicates          uint64
	ReceiveErrors       uint64
	Ended               bool
}

// Snapshot returns the stream's current Stats.
func (s *Stream) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		StreamID:            s.streamID,
		State:               s.state,
		Mode:                s.mode,
		NextSendSeq:         s.nextSendSeq,
		NextExpectedRecvSeq: s.nextExpectedRecvSeq,
		BytesSent:           s.bytesSent,
		BytesReceived:       s.bytesReceived,
		Duplicates:          s.duplicates,
		ReceiveErrors:       s.receiveErrors,
		Ended:               s.ended,
	}
}
