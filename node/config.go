package node

import (
	"fmt"
	"time"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/frame"
	"github.com/seigr-lab/stt/internal/stterr"
	"github.com/seigr-lab/stt/session"
	"github.com/seigr-lab/stt/transport"
)

// Config is the external shape of spec §6's "Node construction" table.
// Bit-level compatibility is not required of Config itself, only of the
// wire frames the resulting Node exchanges.
type Config struct {
	NodeSeed   []byte
	SharedSeed []byte

	Host string
	Port int

	// MessagePort is the bind port for the optional WebSocket message
	// transport when EnableMessageTransport is set; 0 means OS-assigned.
	MessagePort int

	MaxFrameSize  int
	MaxPacketSize int

	SessionIdleTimeoutS int
	KeepaliveIntervalS  int
	HandshakeTimeoutS   int

	Rotation session.RotationPolicy

	ReorderBufferLimit int
	FlowCreditsInitial int

	// InboundRateLimit and InboundRateBurst bound the rate of accepted
	// inbound frames per peer id (HELLO floods, malformed-frame storms),
	// independent of session or handshake state. InboundRateLimit is in
	// frames/second.
	InboundRateLimit float64
	InboundRateBurst int

	// EnableMessageTransport additionally binds a WebSocket message
	// transport alongside the always-on datagram transport (spec §4.8
	// describes both transports as available to a node; a node may run
	// either or both).
	EnableMessageTransport bool
}

// DefaultConfig returns a Config populated with spec §6's defaults;
// NodeSeed and SharedSeed are left nil and must be supplied by the
// caller before New validates them.
func DefaultConfig() Config {
	return Config{
		Host:                "127.0.0.1",
		Port:                0,
		MaxFrameSize:        frame.DefaultMaxFrameSize,
		MaxPacketSize:       transport.DefaultMaxPacketSize,
		SessionIdleTimeoutS: 300,
		KeepaliveIntervalS:  30,
		HandshakeTimeoutS:   10,
		ReorderBufferLimit:  64,
		FlowCreditsInitial:  1024,
		InboundRateLimit:    200,
		InboundRateBurst:    400,
	}
}

// Validate checks the construction-time invariants of spec §7's
// ConfigError ("seed too short, port out of range, etc."), returning
// stterr.ErrConfig wrapped with the specific violation.
func (c Config) Validate() error {
	if len(c.NodeSeed) < crypto.MinSeedLength {
		return fmt.Errorf("%w: node_seed must be at least %d bytes", stterr.ErrConfig, crypto.MinSeedLength)
	}
	if len(c.SharedSeed) < crypto.MinSeedLength {
		return fmt.Errorf("%w: shared_seed must be at least %d bytes", stterr.ErrConfig, crypto.MinSeedLength)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", stterr.ErrConfig, c.Port)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("%w: max_frame_size must be positive", stterr.ErrConfig)
	}
	if c.MaxPacketSize <= 0 {
		return fmt.Errorf("%w: max_packet_size must be positive", stterr.ErrConfig)
	}
	if c.SessionIdleTimeoutS <= 0 {
		return fmt.Errorf("%w: session_idle_timeout_s must be positive", stterr.ErrConfig)
	}
	if c.KeepaliveIntervalS <= 0 {
		return fmt.Errorf("%w: keepalive_interval_s must be positive", stterr.ErrConfig)
	}
	if c.HandshakeTimeoutS <= 0 {
		return fmt.Errorf("%w: handshake_timeout_s must be positive", stterr.ErrConfig)
	}
	if c.ReorderBufferLimit <= 0 {
		return fmt.Errorf("%w: reorder_buffer_limit must be positive", stterr.ErrConfig)
	}
	if c.FlowCreditsInitial <= 0 {
		return fmt.Errorf("%w: flow_credits_initial must be positive", stterr.ErrConfig)
	}
	if c.InboundRateLimit <= 0 {
		return fmt.Errorf("%w: inbound_rate_limit must be positive", stterr.ErrConfig)
	}
	if c.InboundRateBurst <= 0 {
		return fmt.Errorf("%w: inbound_rate_burst must be positive", stterr.ErrConfig)
	}
	return nil
}

func (c Config) sessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutS) * time.Second
}

func (c Config) keepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalS) * time.Second
}

func (c Config) handshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutS) * time.Second
}
