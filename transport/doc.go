// Package transport implements the two data-plane carriers of the
// protocol: a datagram transport over UDP and a message transport over
// WebSocket binary frames. Both expose the same small Transport
// contract (start, send, receive via handler callback, close, stop) so
// the node package can drive either one without caring which is in use.
//
// Neither transport interprets the bytes it carries; frame parsing,
// encryption, and multiplexing all live above this package. The
// datagram transport offers no delivery, ordering, or duplication
// guarantees of its own, that is the stream layer's job. The message
// transport is reliable and ordered at the whole-message level courtesy
// of TCP plus the WebSocket framing underneath it.
package transport
