package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/seigr-lab/stt/codec"
)

// MinSeedLength is the shortest seed the adapter accepts, matching spec
// §3's "length ≥ 32" for both node seeds and shared seeds.
const MinSeedLength = 32

// Adapter is the default Crypto implementation: XChaCha20-Poly1305 for
// AEAD, blake2b for hashing and node-id derivation, hkdf-over-SHA-256 for
// session-key derivation and rotation.
//
// It is constructed from both of a node's configured seeds (spec §3): the
// node seed, which the adapter keeps but uses in none of its derivations
// (node ids come from the identity input passed to DeriveNodeID), and the
// shared seed, the pre-shared secret that is the actual root of trust for
// DeriveSessionKey. Two peers configured with the same shared seed derive
// identical session keys from identical (public) handshake material even
// though their node seeds — and therefore their node ids — differ.
type Adapter struct {
	nodeSeed   []byte
	sharedSeed []byte
}

// NewAdapter constructs a Crypto adapter bound to a node's seed pair. Both
// seeds should be at least MinSeedLength bytes; callers are expected to
// have already validated this at node construction (§7 ConfigError) —
// NewAdapter only logs a warning rather than failing outright, to keep the
// adapter itself free of config-validation concerns.
func NewAdapter(nodeSeed, sharedSeed []byte) *Adapter {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "crypto",
		"function": "NewAdapter",
	})
	if len(nodeSeed) < MinSeedLength || len(sharedSeed) < MinSeedLength {
		logger.WithFields(logrus.Fields{
			"node_seed_length":   len(nodeSeed),
			"shared_seed_length": len(sharedSeed),
			"min_length":         MinSeedLength,
		}).Warn("seed shorter than the minimum recommended length")
	}

	a := &Adapter{
		nodeSeed:   make([]byte, len(nodeSeed)),
		sharedSeed: make([]byte, len(sharedSeed)),
	}
	copy(a.nodeSeed, nodeSeed)
	copy(a.sharedSeed, sharedSeed)
	return a
}

// DeriveNodeID implements Crypto.DeriveNodeID as a keyed blake2b digest of
// the identity input, domain-separated from the other blake2b uses in this
// package by a fixed domain string used as the blake2b key.
func (a *Adapter) DeriveNodeID(identityInput []byte) [32]byte {
	h, err := blake2b.New256([]byte(domainNodeID))
	if err != nil {
		// blake2b.New256 only fails for an oversized key; our domain
		// string is fixed and well under the limit.
		panic(fmt.Sprintf("crypto: blake2b.New256 failed unexpectedly: %v", err))
	}
	h.Write(identityInput)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PreSharedKey implements Crypto.PreSharedKey as a keyed blake2b digest of
// the adapter's shared seed, sized to the 32 bytes chacha20poly1305.NewX
// requires. Keying the digest (rather than using the shared seed bytes
// directly) keeps the raw seed out of any AEAD call.
func (a *Adapter) PreSharedKey() []byte {
	h, err := blake2b.New256([]byte(domainPreSharedKey))
	if err != nil {
		panic(fmt.Sprintf("crypto: blake2b.New256 failed unexpectedly: %v", err))
	}
	h.Write(a.sharedSeed)
	return h.Sum(nil)
}

// Hash implements Crypto.Hash as a deterministic keyed blake2b digest of
// data plus the sorted, deterministic encoding of context. Determinism
// here is a conservative choice within what spec §4.3 allows ("may be
// non-deterministic") and is required by the handshake's commitment check
// (spec §4.4 step 1), which re-derives the same hash from the same
// cleartext fields to verify it.
func (a *Adapter) Hash(data []byte, context codec.Map) ([32]byte, error) {
	h, err := blake2b.New256([]byte(domainHash))
	if err != nil {
		return [32]byte{}, fmt.Errorf("crypto: Hash: %w", err)
	}
	h.Write(data)
	if context != nil {
		encoded, err := codec.EncodeValue(context)
		if err != nil {
			return [32]byte{}, fmt.Errorf("crypto: Hash: encoding context: %w", err)
		}
		h.Write(encoded)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

const (
	domainNodeID       = "stt-v1-node-id"
	domainHash         = "stt-v1-hash"
	domainPreSharedKey = "stt-v1-pre-shared-key"
)
