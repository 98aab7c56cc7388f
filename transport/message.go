package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const messageReadLimit = 8 * 1024 * 1024

// MessageTransport is the WebSocket-like carrier of spec §4.8: it sends
// and receives whole binary messages, reliable and ordered at the
// message level, tagged by a connection id rather than a network
// address. The framing layer above is unchanged; this transport only
// moves opaque bytes.
type MessageTransport struct {
	mu          sync.Mutex
	handler     Handler
	httpServer  *http.Server
	netListener net.Listener
	conns       map[string]*websocket.Conn
}

// NewMessageTransport constructs an unstarted message transport.
func NewMessageTransport(handler Handler) *MessageTransport {
	return &MessageTransport{handler: handler, conns: make(map[string]*websocket.Conn)}
}

// Start binds an HTTP server that upgrades every request to a WebSocket
// connection, assigning each a fresh connection id and spawning a
// per-connection receive loop.
func (t *MessageTransport) Start(ctx context.Context, bindAddr string) (string, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", wrapTransportErr("message listen", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.acceptConn(ctx, w, r)
	})
	server := &http.Server{Handler: mux}

	t.mu.Lock()
	t.httpServer = server
	t.netListener = ln
	t.mu.Unlock()

	go func() {
		_ = server.Serve(ln)
	}()

	return ln.Addr().String(), nil
}

func (t *MessageTransport) acceptConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logger := logrus.WithFields(logrus.Fields{"package": "transport", "function": "acceptConn"})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.WithError(err).Debug("websocket accept failed")
		return
	}
	conn.SetReadLimit(messageReadLimit)

	peerID := uuid.NewString()
	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	t.receiveLoop(ctx, peerID, conn)
}

// Dial opens an outbound connection to addr (a ws:// or wss:// URL, or a
// bare host:port that is treated as ws://host:port/), returning the
// connection id to use for subsequent Send/Close calls.
func (t *MessageTransport) Dial(ctx context.Context, addr string) (string, error) {
	url := addr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + addr + "/"
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return "", wrapTransportErr("message dial", err)
	}
	conn.SetReadLimit(messageReadLimit)

	peerID := uuid.NewString()
	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	go t.receiveLoop(context.Background(), peerID, conn)
	return peerID, nil
}

func (t *MessageTransport) receiveLoop(ctx context.Context, peerID string, conn *websocket.Conn) {
	logger := logrus.WithFields(logrus.Fields{"package": "transport", "function": "receiveLoop", "peer_id": peerID})
	defer func() {
		t.mu.Lock()
		delete(t.conns, peerID)
		t.mu.Unlock()
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			logger.WithError(err).Debug("websocket connection closed")
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		if t.handler != nil {
			t.handler(Inbound{PeerID: peerID, Data: data})
		}
	}
}

// Send writes data as a single binary message to the identified
// connection.
func (t *MessageTransport) Send(peerID string, data []byte) error {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	t.mu.Unlock()
	if !ok {
		return wrapTransportErr("message send", errors.New("unknown connection id"))
	}
	if err := conn.Write(context.Background(), websocket.MessageBinary, data); err != nil {
		return wrapTransportErr("message send", err)
	}
	return nil
}

// Close terminates the identified connection.
func (t *MessageTransport) Close(peerID string) error {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	delete(t.conns, peerID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "closed")
}

// Stop closes every open connection and shuts down the HTTP server.
func (t *MessageTransport) Stop() error {
	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*websocket.Conn)
	server := t.httpServer
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "transport stopping")
	}
	if server != nil {
		return server.Close()
	}
	return nil
}

// LocalAddr returns the bound HTTP listener's address, or "" before
// Start.
func (t *MessageTransport) LocalAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.netListener == nil {
		return ""
	}
	return t.netListener.Addr().String()
}
