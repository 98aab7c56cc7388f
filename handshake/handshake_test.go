package handshake

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestCrypto(sharedSeed byte) crypto.Crypto {
	seed := bytes.Repeat([]byte{0x01}, crypto.MinSeedLength)
	shared := bytes.Repeat([]byte{sharedSeed}, crypto.MinSeedLength)
	return crypto.NewAdapter(seed, shared)
}

func TestFullHandshakeSucceeds(t *testing.T) {
	clock := fixedClock{t: time.Now()}
	initiatorCrypto := newTestCrypto(0x42)
	responderCrypto := newTestCrypto(0x42) // same shared seed

	var initNodeID, respNodeID [32]byte
	initNodeID = initiatorCrypto.DeriveNodeID([]byte("initiator-seed"))
	respNodeID = responderCrypto.DeriveNodeID([]byte("responder-seed"))

	initiator := NewRegistry(initNodeID, initiatorCrypto, DefaultConfig(), clock)
	responder := NewRegistry(respNodeID, responderCrypto, DefaultConfig(), clock)

	hello, err := initiator.StartInitiator("responder-addr")
	require.NoError(t, err)

	challenge, outcome, err := responder.Dispatch("initiator-addr", hello)
	require.NoError(t, err)
	require.Nil(t, outcome)
	require.NotNil(t, challenge)

	proof, outcome, err := initiator.Dispatch("responder-addr", challenge)
	require.NoError(t, err)
	require.Nil(t, outcome)
	require.NotNil(t, proof)

	confirm, respOutcome, err := responder.Dispatch("initiator-addr", proof)
	require.NoError(t, err)
	require.NotNil(t, respOutcome)
	require.NotNil(t, confirm)

	final, initOutcome, err := initiator.Dispatch("responder-addr", confirm)
	require.NoError(t, err)
	require.Nil(t, final)
	require.NotNil(t, initOutcome)

	require.Equal(t, respOutcome.SessionID, initOutcome.SessionID)
	require.True(t, bytes.Equal(respOutcome.SessionKey, initOutcome.SessionKey),
		"both peers must derive the same session key")

	require.Equal(t, 0, initiator.Count())
	require.Equal(t, 0, responder.Count())
}

func TestHandshakeFailsOnMismatchedSharedSeed(t *testing.T) {
	clock := fixedClock{t: time.Now()}
	initiatorCrypto := newTestCrypto(0x01)
	responderCrypto := newTestCrypto(0x02) // different shared seed

	initNodeID := initiatorCrypto.DeriveNodeID([]byte("i"))
	respNodeID := responderCrypto.DeriveNodeID([]byte("r"))

	initiator := NewRegistry(initNodeID, initiatorCrypto, DefaultConfig(), clock)
	responder := NewRegistry(respNodeID, responderCrypto, DefaultConfig(), clock)

	hello, err := initiator.StartInitiator("responder-addr")
	require.NoError(t, err)

	challenge, _, err := responder.Dispatch("initiator-addr", hello)
	require.NoError(t, err)

	_, _, err = initiator.Dispatch("responder-addr", challenge)
	require.Error(t, err, "different shared seeds must make the challenge fail to decrypt")
}

func TestHandshakeFailsOnStaleTimestamp(t *testing.T) {
	base := time.Now()
	initiatorClock := fixedClock{t: base}
	responderClock := fixedClock{t: base.Add(10 * time.Minute)} // beyond 5-minute skew

	c := newTestCrypto(0x42)
	nodeID := c.DeriveNodeID([]byte("n"))

	initiator := NewRegistry(nodeID, c, DefaultConfig(), initiatorClock)
	responder := NewRegistry(nodeID, c, DefaultConfig(), responderClock)

	hello, err := initiator.StartInitiator("responder-addr")
	require.NoError(t, err)

	_, _, err = responder.Dispatch("initiator-addr", hello)
	require.Error(t, err)
}

func TestDispatchDropsUnknownPeerForNonHelloFrame(t *testing.T) {
	clock := fixedClock{t: time.Now()}
	c := newTestCrypto(0x01)
	nodeID := c.DeriveNodeID([]byte("n"))
	registry := NewRegistry(nodeID, c, DefaultConfig(), clock)

	otherCrypto := newTestCrypto(0x01)
	otherNodeID := otherCrypto.DeriveNodeID([]byte("m"))
	otherInitiator := NewInitiator(otherNodeID, otherCrypto, DefaultConfig(), clock)
	hello, err := otherInitiator.Start()
	require.NoError(t, err)

	// Feed a CHALLENGE-typed frame for a peer address the registry has
	// never seen a HELLO from; there is no entry to dispatch into.
	challengeShaped := *hello
	challengeShaped.Type = frame.TypeHandshakeChallenge
	_, _, err = registry.Dispatch("never-seen", &challengeShaped)
	require.Error(t, err)
}
