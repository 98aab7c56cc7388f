package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/seigr-lab/stt/codec"
)

// sessionKeyLength is fixed at 32 bytes: the key length
// chacha20poly1305.NewX requires for the AEAD primitive backing
// Encrypt/Decrypt.
const sessionKeyLength = 32

// DeriveSessionKey implements Crypto.DeriveSessionKey. The handshake
// material map is encoded with codec's deterministic, sorted-key
// representation before being fed to HKDF as the "info" parameter, so
// both peers — who build the map from the same four fields in whatever
// order — derive byte-identical keys (spec §4.4 "Session key derivation").
func (a *Adapter) DeriveSessionKey(material codec.Map) ([]byte, error) {
	info, err := codec.EncodeValue(material)
	if err != nil {
		return nil, fmt.Errorf("crypto: DeriveSessionKey: encoding material: %w", err)
	}

	reader := hkdf.New(sha256.New, a.sharedSeed, nil, append([]byte(domainSessionKey), info...))
	key := make([]byte, sessionKeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: DeriveSessionKey: %w", err)
	}
	return key, nil
}

// RotateSessionKey implements Crypto.RotateSessionKey: a deterministic
// HKDF step over the current key and a fresh rotation nonce, so both
// peers derive the same next key from the same (key, nonce) pair without
// an out-of-band rotation message (spec §4.5).
func (a *Adapter) RotateSessionKey(currentKey, rotationNonce []byte) ([]byte, error) {
	if len(currentKey) == 0 {
		return nil, fmt.Errorf("crypto: RotateSessionKey: empty current key")
	}
	reader := hkdf.New(sha256.New, currentKey, rotationNonce, []byte(domainRotation))
	next := make([]byte, sessionKeyLength)
	if _, err := io.ReadFull(reader, next); err != nil {
		return nil, fmt.Errorf("crypto: RotateSessionKey: %w", err)
	}
	return next, nil
}

const (
	domainSessionKey = "stt-v1-session-key"
	domainRotation   = "stt-v1-key-rotation"
)
