package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DatagramTransport is the UDP-like carrier of spec §4.8: it sends and
// receives opaque buffers tagged by peer address with no ordering or
// delivery guarantee of its own. MaxPacketSize bounds what Send accepts;
// the frame layer, not this package, decides whether to refuse to
// produce an oversized frame in the first place.
type DatagramTransport struct {
	mu            sync.RWMutex
	conn          net.PacketConn
	handler       Handler
	maxPacketSize int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDatagramTransport constructs an unstarted datagram transport.
// handler is invoked once per received datagram from the receive loop's
// own goroutine; it must not block for long, since it runs inline with
// the read loop. That one loop reads every peer's datagrams, so a slow
// handler delays inbound datagrams from all peers.
func NewDatagramTransport(handler Handler, maxPacketSize int) *DatagramTransport {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &DatagramTransport{handler: handler, maxPacketSize: maxPacketSize}
}

// Start binds the UDP socket and begins the receive loop (spec §4.9
// start()). The node binds to 127.0.0.1 by default; callers must pass an
// explicit non-loopback bindAddr to listen elsewhere.
func (t *DatagramTransport) Start(ctx context.Context, bindAddr string) (string, error) {
	conn, err := net.ListenPacket("udp", bindAddr)
	if err != nil {
		return "", wrapTransportErr("datagram listen", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.receiveLoop(runCtx)
	return conn.LocalAddr().String(), nil
}

func (t *DatagramTransport) receiveLoop(ctx context.Context) {
	defer close(t.done)
	logger := logrus.WithFields(logrus.Fields{"package": "transport", "function": "receiveLoop"})

	buf := make([]byte, t.maxPacketSize+64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()

		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				logger.WithError(err).Debug("datagram read failed")
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if t.handler != nil {
			t.handler(Inbound{PeerID: addr.String(), Data: data})
		}
	}
}

// Send transmits data to peerID, which must parse as a net.Addr string
// (the form returned by Inbound.PeerID / LocalAddr).
func (t *DatagramTransport) Send(peerID string, data []byte) error {
	if len(data) > t.maxPacketSize {
		return wrapTransportErr("datagram send", errors.New("payload exceeds max_packet_size"))
	}
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return wrapTransportErr("datagram send", errors.New("transport not started"))
	}

	addr, err := net.ResolveUDPAddr("udp", peerID)
	if err != nil {
		return wrapTransportErr("datagram send", err)
	}
	if _, err := conn.WriteTo(data, addr); err != nil {
		return wrapTransportErr("datagram send", err)
	}
	return nil
}

// Close is a no-op for the datagram transport: UDP carries no per-peer
// connection state to tear down (spec §4.8 marks close peer-scoped only
// for the message transport).
func (t *DatagramTransport) Close(peerID string) error { return nil }

// Stop closes the socket and waits for the receive loop to exit.
func (t *DatagramTransport) Stop() error {
	t.mu.RLock()
	conn := t.conn
	cancel := t.cancel
	done := t.done
	t.mu.RUnlock()
	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	<-done
	return err
}

// LocalAddr returns the bound address, or "" before Start.
func (t *DatagramTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}
