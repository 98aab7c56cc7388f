// Package crypto implements the Crypto capability STT's core depends on
// (handshake, session, and stream packages never reach past this
// interface into a concrete primitive).
//
// STT has no public-key step: two peers authenticate each other purely by
// proving possession of a pre-shared 32-byte shared seed, and the session
// key is deterministically derived from handshake nonces rather than
// negotiated over a Diffie-Hellman exchange. That rules out a
// Noise-pattern handshake library (see DESIGN.md for why
// github.com/flynn/noise isn't wired here even though the retrieval pack's
// teacher repository uses it for its own, differently-shaped, handshake).
//
// The default Adapter instead composes:
//
//   - golang.org/x/crypto/chacha20poly1305 (XChaCha20-Poly1305) for the
//     AEAD encrypt/decrypt primitive, chosen over the teacher's
//     nacl/secretbox specifically because frames must authenticate
//     associated data (spec §4.2's associated_data(frame)) and secretbox
//     has no native AD parameter — see aead.go.
//   - golang.org/x/crypto/blake2b for hash(), derive_node_id, and
//     PreSharedKey.
//   - golang.org/x/crypto/hkdf (over SHA-256) for derive_session_key and
//     rotate_session_key.
//
// Example:
//
//	c := crypto.NewAdapter(nodeSeed, sharedSeed)
//	nodeID := c.DeriveNodeID(nodeSeed)
//	key, _ := c.DeriveSessionKey(codec.Map{"nonce_i": nonceI, "nonce_r": nonceR})
package crypto
