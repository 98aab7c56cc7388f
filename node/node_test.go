package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seigr-lab/stt/session"
	"github.com/seigr-lab/stt/stream"
)

func testConfig(nodeSeed, sharedSeed byte) Config {
	cfg := DefaultConfig()
	cfg.NodeSeed = make([]byte, 32)
	cfg.SharedSeed = make([]byte, 32)
	for i := range cfg.NodeSeed {
		cfg.NodeSeed[i] = nodeSeed
	}
	for i := range cfg.SharedSeed {
		cfg.SharedSeed[i] = sharedSeed
	}
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func startNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestHandshakeAndEchoOverDatagramTransport(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessA, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.NoError(t, err)
	require.NotNil(t, sessA)
	require.Equal(t, session.StateActive, sessA.State())

	require.Eventually(t, func() bool {
		return len(nodeB.sessions.ListActive()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()
	require.NoError(t, nodeA.SendToSession(sendCtx, sessA.ID(), 1, []byte("hello from a")))

	var got Delivery
	select {
	case got = <-nodeB.Receive():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery on node B")
	}
	require.Equal(t, []byte("hello from a"), got.Plaintext)
	require.Equal(t, uint64(1), got.StreamID)
}

func TestConnectFailsOnMismatchedSharedSeed(t *testing.T) {
	cfgA := testConfig(0xAA, 0x01)
	cfgB := testConfig(0xBB, 0x02)
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.Error(t, err)
}

func TestDisableAcceptInboundDropsHello(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)
	nodeB.DisableAcceptInbound()

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	_, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.Error(t, err)
	require.Equal(t, 0, nodeB.sessions.Count())
}

func TestSendToAllCollectsPerSessionErrors(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.NoError(t, err)

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()
	errs := nodeA.SendToAll(sendCtx, 1, []byte("broadcast"))
	require.Empty(t, errs)
}

func TestStatsReflectSessionAndHandshakeCounts(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	before := nodeA.Stats()
	require.Equal(t, 0, before.SessionCount)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.NoError(t, err)

	after := nodeA.Stats()
	require.Equal(t, 1, after.SessionCount)
	require.Equal(t, 1, after.ActiveSessionCount)
	require.Equal(t, 0, after.HandshakesInFlight)
	require.NotEmpty(t, after.DatagramLocalAddr)
}

func TestIdleSessionExpiresViaMaintenance(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	cfgB.SessionIdleTimeoutS = 1
	cfgB.KeepaliveIntervalS = 1
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeB.sessions.Count() == 0
	}, 4*time.Second, 50*time.Millisecond)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	_, err := New(cfg)
	require.Error(t, err)
}

func TestSessionKeyRotatesAcrossThresholdAndStaysInSync(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	cfgA.Rotation = session.RotationPolicy{Bytes: 5}
	cfgB.Rotation = session.RotationPolicy{Bytes: 5}
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessA, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.NoError(t, err)

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()

	// First send crosses the 5-byte rotation threshold but is itself sent
	// under the pre-rotation key.
	require.NoError(t, nodeA.SendToSession(sendCtx, sessA.ID(), 1, []byte("12345")))
	select {
	case got := <-nodeB.Receive():
		require.Equal(t, []byte("12345"), got.Plaintext)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pre-rotation delivery")
	}
	require.Equal(t, uint64(0), sessA.Snapshot().KeyVersion)

	// The second send observes the crossed threshold, rotates, and
	// carries the new key's frame k+1; node B must decrypt it in lockstep.
	require.NoError(t, nodeA.SendToSession(sendCtx, sessA.ID(), 1, []byte("after rotation")))
	select {
	case got := <-nodeB.Receive():
		require.Equal(t, []byte("after rotation"), got.Plaintext)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-rotation delivery")
	}
	require.Equal(t, uint64(1), sessA.Snapshot().KeyVersion)

	active := nodeB.sessions.ListActive()
	require.Len(t, active, 1)
	require.Equal(t, uint64(1), active[0].Snapshot().KeyVersion)
}

func TestBoundedStreamOpenSendEndReachesClosedOnPeer(t *testing.T) {
	cfgA := testConfig(0xAA, 0x42)
	cfgB := testConfig(0xBB, 0x42)
	nodeA := startNode(t, cfgA)
	nodeB := startNode(t, cfgB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessA, err := nodeA.Connect(ctx, nodeB.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, nodeA.OpenStream(sessA.ID(), 7, stream.ModeBounded))

	// Capture the peer's stream as soon as STREAM_OPEN creates it, before
	// the later STREAM_CLOSE removes it from node B's registry.
	var sessB *session.Session
	require.Eventually(t, func() bool {
		active := nodeB.sessions.ListActive()
		if len(active) != 1 {
			return false
		}
		sessB = active[0]
		return true
	}, time.Second, 10*time.Millisecond)

	var peerStream *stream.Stream
	require.Eventually(t, func() bool {
		extra, ok := nodeB.extraForLocked(sessB.ID())
		if !ok {
			return false
		}
		peerStream, ok = extra.streams.Get(7)
		return ok
	}, time.Second, 10*time.Millisecond)

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()
	require.NoError(t, nodeA.SendToSession(sendCtx, sessA.ID(), 7, []byte("chunk1")))
	require.NoError(t, nodeA.SendToSession(sendCtx, sessA.ID(), 7, []byte("chunk2")))
	require.NoError(t, nodeA.EndStream(sendCtx, sessA.ID(), 7))

	var received []byte
	for len(received) < len("chunk1chunk2") {
		select {
		case got := <-nodeB.Receive():
			received = append(received, got.Plaintext...)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for bounded stream data, got %q so far", received)
		}
	}
	require.Equal(t, []byte("chunk1chunk2"), received)

	require.Eventually(t, func() bool {
		return peerStream.State() == stream.StateClosed
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(len("chunk1chunk2")), peerStream.Snapshot().BytesReceived)
}
