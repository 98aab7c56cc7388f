package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/seigr-lab/stt/internal/stterr"
)

// Encrypt implements Crypto.Encrypt using XChaCha20-Poly1305. metadata is
// the 24-byte random nonce the cipher needs to open the ciphertext again;
// the core carries it verbatim alongside the frame (spec §4.2's metadata
// field) without ever interpreting it.
func (a *Adapter) Encrypt(key, plaintext, associatedData []byte) (ciphertext, metadata []byte, err error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "crypto",
		"function": "Encrypt",
	})

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		logger.WithError(err).Warn("failed to construct AEAD from key")
		return nil, nil, fmt.Errorf("%w: constructing cipher: %v", stterr.ErrCryptoFailure, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := randRead(nonce); err != nil {
		logger.WithError(err).Warn("failed to read random nonce")
		return nil, nil, fmt.Errorf("%w: generating nonce: %v", stterr.ErrCryptoFailure, err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, associatedData)
	logger.WithFields(logrus.Fields{
		"plaintext_len":  len(plaintext),
		"ciphertext_len": len(sealed),
	}).Debug("sealed plaintext")
	return sealed, nonce, nil
}

// Decrypt implements Crypto.Decrypt, reversing Encrypt. metadata must be
// the exact nonce Encrypt returned; any mismatch between key, metadata,
// ciphertext, or associatedData yields stterr.ErrCryptoFailure.
func (a *Adapter) Decrypt(key, ciphertext, metadata, associatedData []byte) (plaintext []byte, err error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "crypto",
		"function": "Decrypt",
	})

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		logger.WithError(err).Warn("failed to construct AEAD from key")
		return nil, fmt.Errorf("%w: constructing cipher: %v", stterr.ErrCryptoFailure, err)
	}
	if len(metadata) != chacha20poly1305.NonceSizeX {
		logger.WithFields(logrus.Fields{
			"metadata_len": len(metadata),
			"want":         chacha20poly1305.NonceSizeX,
		}).Warn("metadata is not a valid nonce")
		return nil, fmt.Errorf("%w: metadata is not a %d-byte nonce", stterr.ErrCryptoFailure, chacha20poly1305.NonceSizeX)
	}

	opened, err := aead.Open(nil, metadata, ciphertext, associatedData)
	if err != nil {
		logger.Warn("authentication failed opening ciphertext")
		return nil, fmt.Errorf("%w: authentication failed", stterr.ErrCryptoFailure)
	}
	return opened, nil
}

// NewStreamContext implements Crypto.NewStreamContext. The XChaCha20-
// Poly1305 construction has no per-call setup worth amortizing beyond
// re-deriving the cipher once per context instead of once per call, so
// streamContext simply caches the constructed AEAD.
func (a *Adapter) NewStreamContext(sessionID [8]byte, streamID uint64, key []byte) StreamCryptoContext {
	logger := logrus.WithFields(logrus.Fields{
		"package":    "crypto",
		"function":   "NewStreamContext",
		"stream_id":  streamID,
		"session_id": fmt.Sprintf("%x", sessionID),
	})

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		logger.WithError(err).Warn("failed to construct per-stream AEAD, falling back per-call")
		return &streamContext{adapter: a, key: key}
	}
	return &streamContext{adapter: a, key: key, aead: aead}
}

// streamContext caches a constructed AEAD across many Encrypt/Decrypt
// calls for the same stream. If cipher construction failed at creation
// time, aead is nil and calls fall back through the Adapter's per-call
// path so a single bad key doesn't wedge the whole stream.
type streamContext struct {
	adapter *Adapter
	key     []byte
	aead    cipherAEAD
}

// cipherAEAD is the subset of cipher.AEAD streamContext needs; declared
// locally so this file doesn't import crypto/cipher just for a type name.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func (s *streamContext) Encrypt(plaintext, associatedData []byte) (ciphertext, metadata []byte, err error) {
	if s.aead == nil {
		return s.adapter.Encrypt(s.key, plaintext, associatedData)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := randRead(nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: generating nonce: %v", stterr.ErrCryptoFailure, err)
	}
	return s.aead.Seal(nil, nonce, plaintext, associatedData), nonce, nil
}

func (s *streamContext) Decrypt(ciphertext, metadata, associatedData []byte) (plaintext []byte, err error) {
	if s.aead == nil {
		return s.adapter.Decrypt(s.key, ciphertext, metadata, associatedData)
	}
	if len(metadata) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: metadata is not a %d-byte nonce", stterr.ErrCryptoFailure, chacha20poly1305.NonceSizeX)
	}
	opened, err := s.aead.Open(nil, metadata, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", stterr.ErrCryptoFailure)
	}
	return opened, nil
}
