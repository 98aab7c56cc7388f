package crypto

import "github.com/seigr-lab/stt/codec"

// Crypto is the opaque capability the STT core depends on. It is defined
// as an interface, not a concrete type, so the frame, handshake, session,
// and stream packages never depend on a specific cryptographic primitive
// — only on these contracts (spec §4.3). Adapter is the default
// implementation; tests may substitute a mock that satisfies the same
// interface.
type Crypto interface {
	// DeriveNodeID derives a stable 32-byte node identifier from identity
	// input (typically the node seed). Implementations may make this
	// non-deterministic; callers must not rely on repeatability across
	// calls beyond what a single node instance guarantees for its own
	// lifetime.
	DeriveNodeID(identityInput []byte) [32]byte

	// DeriveSessionKey derives the shared symmetric session key from
	// handshake material (nonce_i, nonce_r, node_id_i, node_id_r). Both
	// peers must derive an identical key from identical material.
	DeriveSessionKey(material codec.Map) ([]byte, error)

	// RotateSessionKey deterministically derives a new key from the
	// current key and a rotation nonce. The result must differ from
	// currentKey and must be identical on both peers given the same
	// inputs.
	RotateSessionKey(currentKey, rotationNonce []byte) ([]byte, error)

	// Hash computes a 32-byte digest of data, optionally bound to
	// contextual fields (e.g. a handshake commitment context). May be
	// non-deterministic; suitable for commitments, not for equality
	// lookups.
	Hash(data []byte, context codec.Map) ([32]byte, error)

	// PreSharedKey returns the 32-byte symmetric key both peers use to
	// encrypt the CHALLENGE and AUTH_PROOF handshake messages (spec §4.4
	// steps 2–3), before a SessionKey exists. It is a fixed function of
	// the node's configured shared seed, so two peers configured with the
	// same shared seed always agree on it without further negotiation.
	PreSharedKey() []byte

	// Encrypt seals plaintext under key, authenticating associatedData.
	// It returns the ciphertext and an opaque metadata blob the core
	// stores and replays verbatim to Decrypt; the core never interprets
	// or mutates metadata.
	Encrypt(key, plaintext, associatedData []byte) (ciphertext, metadata []byte, err error)

	// Decrypt opens ciphertext produced by Encrypt under key, verifying
	// associatedData and metadata. Returns stterr.ErrCryptoFailure (wrapped)
	// on any authentication failure.
	Decrypt(key, ciphertext, metadata, associatedData []byte) (plaintext []byte, err error)

	// NewStreamContext returns an optional per-stream crypto context that
	// may cache expensive setup across many small encrypt/decrypt calls.
	// Callers that don't need the optimization may ignore it and call
	// Encrypt/Decrypt directly.
	NewStreamContext(sessionID [8]byte, streamID uint64, key []byte) StreamCryptoContext
}

// StreamCryptoContext is the optional per-stream optimization of §4.3: a
// cheaper Encrypt/Decrypt pair once per-stream setup has been amortized.
// Implementations must serialize calls through a single context
// internally if the underlying primitive is not reentrant per-context;
// the core's concurrency contract (spec §5) only guarantees calls for a
// given stream are serialized relative to each other, not relative to
// other streams.
type StreamCryptoContext interface {
	Encrypt(plaintext, associatedData []byte) (ciphertext, metadata []byte, err error)
	Decrypt(ciphertext, metadata, associatedData []byte) (plaintext []byte, err error)
}
