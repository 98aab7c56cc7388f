package stream

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
	"github.com/seigr-lab/stt/internal/stterr"
)

func testCryptoBinding() *Crypto {
	seed := bytes.Repeat([]byte{0x03}, crypto.MinSeedLength)
	key := bytes.Repeat([]byte{0x04}, 32)
	return &Crypto{Adapter: crypto.NewAdapter(seed, seed), Key: key}
}

type collector struct {
	mu   sync.Mutex
	data []byte
}

func (c *collector) deliver(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, b...)
}

func (c *collector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...)
}

// loopback wires a sender stream's outbound frames directly into a
// receiver stream's inbound handler, simulating a perfect transport.
func loopback(t *testing.T, receiver **Stream) SendFrameFunc {
	t.Helper()
	return func(f *frame.Frame) error {
		r := *receiver
		if f.Type == frame.TypeAck {
			ackUpTo, err := DecodeAck(f.Payload)
			require.NoError(t, err)
			r.HandleAck(ackUpTo)
			return nil
		}
		return r.HandleInboundFrame(f)
	}
}

func newPair(t *testing.T, cfg Config) (sender, receiver *Stream, recvData *collector) {
	t.Helper()
	recvData = &collector{}
	var recv *Stream
	sendFn := loopback(t, &recv)

	sender = New(1, [8]byte{1}, ModeBounded, cfg, testCryptoBinding(), sendFn, nil)
	recv = New(1, [8]byte{1}, ModeBounded, cfg, testCryptoBinding(), nil, recvData.deliver)
	return sender, recv, recvData
}

func TestSendReceiveInOrderDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentSize = 4
	sender, _, recvData := newPair(t, cfg)

	require.NoError(t, sender.Send(context.Background(), []byte("hello world")))
	require.Equal(t, []byte("hello world"), recvData.bytes())
}

func TestReorderedSegmentsStillDeliverInOrder(t *testing.T) {
	cfg := DefaultConfig()
	recvData := &collector{}
	receiver := New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), nil, recvData.deliver)
	c := testCryptoBinding()

	buildFrame := func(seq uint64, payload []byte) *frame.Frame {
		f := &frame.Frame{Type: frame.TypeData, SessionID: [8]byte{1}, StreamID: 1, Sequence: seq, Payload: append([]byte{byte(markerData)}, payload...)}
		require.NoError(t, c.Encrypt(f))
		return f
	}

	f0 := buildFrame(0, []byte("AA"))
	f1 := buildFrame(1, []byte("BB"))
	f2 := buildFrame(2, []byte("CC"))

	// Deliver out of order: 2, 0, 1.
	require.NoError(t, receiver.HandleInboundFrame(f2))
	require.Equal(t, []byte(nil), recvData.bytes())
	require.NoError(t, receiver.HandleInboundFrame(f0))
	require.Equal(t, []byte("AA"), recvData.bytes())
	require.NoError(t, receiver.HandleInboundFrame(f1))
	require.Equal(t, []byte("AABBCC"), recvData.bytes())
}

func TestDuplicateSegmentDropped(t *testing.T) {
	cfg := DefaultConfig()
	recvData := &collector{}
	receiver := New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), nil, recvData.deliver)
	c := testCryptoBinding()

	build := func(seq uint64, payload []byte) *frame.Frame {
		f := &frame.Frame{Type: frame.TypeData, SessionID: [8]byte{1}, StreamID: 1, Sequence: seq, Payload: append([]byte{byte(markerData)}, payload...)}
		require.NoError(t, c.Encrypt(f))
		return f
	}

	require.NoError(t, receiver.HandleInboundFrame(build(0, []byte("A"))))
	require.NoError(t, receiver.HandleInboundFrame(build(0, []byte("A"))))
	require.Equal(t, []byte("A"), recvData.bytes())
	require.Equal(t, uint64(1), receiver.Snapshot().NextExpectedRecvSeq)
}

func TestReorderBufferOverflowClosesStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReorderBufferLimit = 2
	recvData := &collector{}
	receiver := New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), nil, recvData.deliver)
	c := testCryptoBinding()

	f := &frame.Frame{Type: frame.TypeData, SessionID: [8]byte{1}, StreamID: 1, Sequence: 10, Payload: []byte{byte(markerData)}}
	require.NoError(t, c.Encrypt(f))

	err := receiver.HandleInboundFrame(f)
	require.ErrorIs(t, err, stterr.ErrReorderBufferOverflow)
	require.Equal(t, StateClosed, receiver.State())
}

func TestTamperedFrameFailsDecryptionAndClosesStream(t *testing.T) {
	cfg := DefaultConfig()
	recvData := &collector{}
	receiver := New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), nil, recvData.deliver)
	c := testCryptoBinding()

	f := &frame.Frame{Type: frame.TypeData, SessionID: [8]byte{1}, StreamID: 1, Sequence: 0, Payload: []byte{byte(markerData), 'x'}}
	require.NoError(t, c.Encrypt(f))
	f.Sequence = 1 // tamper a header field bound as associated data

	err := receiver.HandleInboundFrame(f)
	require.ErrorIs(t, err, stterr.ErrCryptoFailure)
	require.Equal(t, StateClosed, receiver.State())
}

func TestBoundedStreamEndMarksEnded(t *testing.T) {
	cfg := DefaultConfig()
	sender, receiver, recvData := newPair(t, cfg)

	require.NoError(t, sender.Send(context.Background(), []byte("payload")))
	require.NoError(t, sender.End(context.Background()))

	require.Equal(t, []byte("payload"), recvData.bytes())
	require.True(t, receiver.Ended())
}

func TestSendAfterCloseFailsWithStreamClosed(t *testing.T) {
	cfg := DefaultConfig()
	sender, _, _ := newPair(t, cfg)
	sender.Close()

	err := sender.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, stterr.ErrStreamClosed)
}

func TestSendAwaitsFlowCreditsAndIsCancelSafe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlowCreditsInitial = 0
	cfg.SegmentSize = 1024

	var recv *Stream
	sendFn := loopback(t, &recv)
	sender := New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), sendFn, nil)
	recv = New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), nil, func([]byte) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sender.Send(ctx, []byte("blocked"))
	require.Error(t, err)
	require.Equal(t, uint64(0), sender.Snapshot().NextSendSeq, "a cancelled send awaiting credits must not consume a sequence number")
}

func TestRotatedCryptoKeyDecryptsOnlyFramesEncryptedAfterRotation(t *testing.T) {
	c := testCryptoBinding()

	frameK := &frame.Frame{Type: frame.TypeData, SessionID: [8]byte{1}, StreamID: 1, Sequence: 0, Payload: []byte{byte(markerData), 'A'}}
	require.NoError(t, c.Encrypt(frameK))

	nextKey, err := c.Adapter.RotateSessionKey(c.Key, []byte("rotation-nonce"))
	require.NoError(t, err)
	c.SetKey(nextKey)

	frameKPlus1 := &frame.Frame{Type: frame.TypeData, SessionID: [8]byte{1}, StreamID: 1, Sequence: 1, RotationNonce: []byte("rotation-nonce"), Payload: []byte{byte(markerData), 'B'}}
	require.NoError(t, c.Encrypt(frameKPlus1))

	require.NoError(t, c.Decrypt(frameKPlus1))
	require.Equal(t, []byte{byte(markerData), 'B'}, frameKPlus1.Payload)

	err = c.Decrypt(frameK)
	require.ErrorIs(t, err, stterr.ErrCryptoFailure)
}

func TestHandleAckGrantsCredits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlowCreditsInitial = 1
	sender := New(1, [8]byte{1}, ModeLive, cfg, testCryptoBinding(), func(f *frame.Frame) error { return nil }, nil)

	require.NoError(t, sender.Send(context.Background(), []byte("a")))
	require.Equal(t, 0, sender.flow.available())

	sender.HandleAck(1)
	require.Equal(t, 1, sender.flow.available())
}
