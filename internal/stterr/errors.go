// Package stterr defines the sentinel error kinds shared across the STT
// protocol packages, so callers can use errors.Is regardless of which
// package produced the failure.
package stterr

import "errors"

var (
	// ErrMalformedFrame indicates a frame failed structural validation:
	// bad magic, unknown flag bits, a truncated buffer, or a varint that
	// never terminates. Malformed frames are dropped and counted, never
	// propagated to the application.
	ErrMalformedFrame = errors.New("stt: malformed frame")

	// ErrFrameTooLarge indicates an encoded or decoded frame exceeds the
	// configured max_frame_size.
	ErrFrameTooLarge = errors.New("stt: frame exceeds maximum size")

	// ErrCryptoFailure indicates an AEAD authentication or decryption
	// failure. Fatal to the owning session.
	ErrCryptoFailure = errors.New("stt: crypto operation failed")

	// ErrHandshakeFailed indicates a handshake step-level check failed or
	// its deadline expired.
	ErrHandshakeFailed = errors.New("stt: handshake failed")

	// ErrSessionClosed indicates an operation was attempted on a session
	// that is Closing or Closed.
	ErrSessionClosed = errors.New("stt: session closed")

	// ErrSessionNotFound indicates a lookup against the session registry
	// found no entry for the given id.
	ErrSessionNotFound = errors.New("stt: session not found")

	// ErrStreamClosed indicates a send was attempted after the stream
	// closed or, in bounded mode, after end() was called.
	ErrStreamClosed = errors.New("stt: stream closed")

	// ErrReorderBufferOverflow indicates an inbound segment arrived too far
	// ahead of next_expected_recv_seq for the per-stream reorder buffer.
	// Closes the offending stream only.
	ErrReorderBufferOverflow = errors.New("stt: reorder buffer overflow")

	// ErrFlowControlExhausted is an internal signal: the sender has no
	// flow credits left and must await an ACK. Never surfaced to send()
	// callers, who simply block until credits arrive or the context is
	// cancelled.
	ErrFlowControlExhausted = errors.New("stt: flow credits exhausted")

	// ErrTimeout indicates a deadline expired on a handshake, send, or
	// maintenance operation.
	ErrTimeout = errors.New("stt: operation timed out")

	// ErrTransport wraps a transport-adapter level failure. It never
	// closes a session by itself; it increments a counter.
	ErrTransport = errors.New("stt: transport error")

	// ErrConfig indicates a node was constructed with an invalid
	// configuration (seed too short, port out of range, ...).
	ErrConfig = errors.New("stt: invalid configuration")

	// ErrSequenceOverflow indicates a stream's send sequence counter would
	// wrap; the stream must be closed instead of continuing.
	ErrSequenceOverflow = errors.New("stt: stream sequence counter would overflow")

	// ErrUnknownFrameType indicates a decoded frame's type byte has no
	// registered dispatcher. Dropped and counted, not propagated.
	ErrUnknownFrameType = errors.New("stt: unknown frame type")
)
