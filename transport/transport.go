// Package transport implements the two wire-level carriers of spec §4.8:
// a datagram transport over UDP and a message transport over WebSocket
// binary frames. Both satisfy the same small Transport contract so the
// node can treat them uniformly; neither interprets frame bytes.
package transport

import (
	"context"
	"fmt"

	"github.com/seigr-lab/stt/internal/stterr"
)

// DefaultMaxPacketSize bounds a single datagram transport send, leaving
// room for IP/UDP headers below a conservative Ethernet MTU.
const DefaultMaxPacketSize = 1472

// Inbound is one opaque buffer received from a peer, tagged with the
// peer identifier the reply path must use (a UDP address string for
// the datagram transport, a connection id for the message transport).
type Inbound struct {
	PeerID string
	Data   []byte
}

// Handler receives every inbound buffer from a transport's receive loop.
type Handler func(in Inbound)

// Transport is the contract the node drives both adapters through
// (spec §4.8). Close is a no-op for peers the datagram transport has no
// per-peer connection state for.
type Transport interface {
	Start(ctx context.Context, bindAddr string) (string, error)
	Send(peerID string, data []byte) error
	Close(peerID string) error
	Stop() error
	LocalAddr() string
}

func wrapTransportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", stterr.ErrTransport, op, err)
}
