// Package frame implements the STT wire frame of spec §4.2: encoding,
// strict decoding, associated-data binding, and the payload
// encrypt/decrypt glue against the crypto package's opaque Crypto
// capability.
package frame

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/codec"
	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/internal/stterr"
)

// Type identifies a frame's role on the wire (spec §4.2's type table).
type Type byte

const (
	TypeHandshakeInit      Type = 0x01 // HELLO
	TypeHandshakeChallenge Type = 0x02 // RESPONSE
	TypeHandshakeResponse  Type = 0x03 // AUTH_PROOF
	TypeHandshakeConfirm   Type = 0x04 // FINAL

	TypeData         Type = 0x10
	TypeStreamOpen   Type = 0x11
	TypeStreamClose  Type = 0x12
	TypeAck          Type = 0x13
	TypeKeepalive    Type = 0x14
	TypeDisconnect   Type = 0x15

	// TypeEndpointRoutingLow and TypeEndpointRoutingHigh bound the
	// 0x20-0x22 endpoint-routing range. The node has no dispatch case
	// for it and drops such frames as unknown types.
	TypeEndpointRoutingLow  Type = 0x20
	TypeEndpointRoutingHigh Type = 0x22

	// UserTypeLow and UserTypeHigh bound the user-defined dispatch
	// range; the core never interprets payloads in this range.
	UserTypeLow  Type = 0x80
	UserTypeHigh Type = 0xFF
)

// IsUserDefined reports whether t falls in the 0x80-0xFF pass-through
// range reserved for user-registered handlers (spec §4.2, §6).
func (t Type) IsUserDefined() bool {
	return t >= UserTypeLow && t <= UserTypeHigh
}

// flagEncrypted is bit 0 of the flags byte; bits 1-7 are reserved and
// must be zero (spec §4.2).
const flagEncrypted byte = 1 << 0

const (
	magicByte0 = 0x53
	magicByte1 = 0x54

	headerFixedLen = 2 /*magic*/ + 1 /*type*/ + 1 /*flags*/ + 8 /*session_id*/

	// DefaultMaxFrameSize is the default configurable limit from spec
	// §4.2 ("default 2 MiB"); Oversized frames are rejected with
	// stterr.ErrFrameTooLarge at both encode and decode time.
	DefaultMaxFrameSize = 2 * 1024 * 1024
)

// Frame is the decoded representation of a single wire frame.
type Frame struct {
	Type      Type
	Encrypted bool
	SessionID [8]byte
	StreamID  uint64
	Sequence  uint64
	// RotationNonce is present only on the one frame that signals a
	// session key rotation (spec §4.5, §8): nil on every other frame.
	// It is bound into AssociatedData so the peer can detect it before
	// attempting decryption and rotate to the same next key in lockstep,
	// without any separate out-of-band rotation message.
	RotationNonce []byte
	Metadata      []byte
	Payload       []byte
}

// Encode serializes f per spec §4.2's on-wire layout with one added
// field: a varint length and the RotationNonce bytes follow sequence,
// ahead of metadata_len (length 0 when there is no nonce). maxFrameSize of 0
// disables the size check (callers almost always want DefaultMaxFrameSize).
func Encode(f *Frame, maxFrameSize int) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "frame",
		"function": "Encode",
		"type":     fmt.Sprintf("0x%02x", byte(f.Type)),
	})

	var buf bytes.Buffer
	buf.WriteByte(magicByte0)
	buf.WriteByte(magicByte1)
	buf.WriteByte(byte(f.Type))

	var flags byte
	if f.Encrypted {
		flags |= flagEncrypted
	}
	buf.WriteByte(flags)

	buf.Write(f.SessionID[:])
	buf.Write(codec.EncodeVarint(f.StreamID))
	buf.Write(codec.EncodeVarint(f.Sequence))
	buf.Write(codec.EncodeVarint(uint64(len(f.RotationNonce))))
	buf.Write(f.RotationNonce)
	buf.Write(codec.EncodeVarint(uint64(len(f.Metadata))))
	buf.Write(f.Metadata)
	buf.Write(codec.EncodeVarint(uint64(len(f.Payload))))
	buf.Write(f.Payload)

	encoded := buf.Bytes()
	if maxFrameSize > 0 && len(encoded) > maxFrameSize {
		logger.WithFields(logrus.Fields{
			"size": len(encoded),
			"max":  maxFrameSize,
		}).Warn("encoded frame exceeds max frame size")
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", stterr.ErrFrameTooLarge, len(encoded), maxFrameSize)
	}
	return encoded, nil
}

// Decode parses buf per spec §4.2: strict on magic, flags, and varint
// well-formedness; an unrecognized Type is not itself an error (dispatch
// decides what to do with it).
func Decode(buf []byte, maxFrameSize int) (*Frame, error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "frame",
		"function": "Decode",
	})

	if maxFrameSize > 0 && len(buf) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", stterr.ErrFrameTooLarge, len(buf), maxFrameSize)
	}
	if len(buf) < headerFixedLen {
		logger.WithField("len", len(buf)).Warn("buffer shorter than fixed header")
		return nil, fmt.Errorf("%w: buffer shorter than fixed header", stterr.ErrMalformedFrame)
	}
	if buf[0] != magicByte0 || buf[1] != magicByte1 {
		logger.Warn("bad magic bytes")
		return nil, fmt.Errorf("%w: bad magic", stterr.ErrMalformedFrame)
	}

	f := &Frame{Type: Type(buf[2])}

	flags := buf[3]
	if flags&^flagEncrypted != 0 {
		logger.WithField("flags", flags).Warn("reserved flag bits set")
		return nil, fmt.Errorf("%w: unknown flag bits set", stterr.ErrMalformedFrame)
	}
	f.Encrypted = flags&flagEncrypted != 0

	copy(f.SessionID[:], buf[4:12])
	rest := buf[12:]

	streamID, n, err := codec.DecodeVarint(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: stream_id: %v", stterr.ErrMalformedFrame, err)
	}
	f.StreamID = streamID
	rest = rest[n:]

	sequence, n, err := codec.DecodeVarint(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence: %v", stterr.ErrMalformedFrame, err)
	}
	f.Sequence = sequence
	rest = rest[n:]

	rotationNonceLen, n, err := codec.DecodeVarint(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: rotation_nonce_len: %v", stterr.ErrMalformedFrame, err)
	}
	rest = rest[n:]
	if uint64(len(rest)) < rotationNonceLen {
		return nil, fmt.Errorf("%w: rotation nonce truncated", stterr.ErrMalformedFrame)
	}
	if rotationNonceLen > 0 {
		f.RotationNonce = append([]byte(nil), rest[:rotationNonceLen]...)
	}
	rest = rest[rotationNonceLen:]

	metadataLen, n, err := codec.DecodeVarint(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata_len: %v", stterr.ErrMalformedFrame, err)
	}
	rest = rest[n:]
	if uint64(len(rest)) < metadataLen {
		return nil, fmt.Errorf("%w: metadata truncated", stterr.ErrMalformedFrame)
	}
	f.Metadata = append([]byte(nil), rest[:metadataLen]...)
	rest = rest[metadataLen:]

	payloadLen, n, err := codec.DecodeVarint(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: payload_len: %v", stterr.ErrMalformedFrame, err)
	}
	rest = rest[n:]
	if uint64(len(rest)) < payloadLen {
		return nil, fmt.Errorf("%w: payload truncated", stterr.ErrMalformedFrame)
	}
	f.Payload = append([]byte(nil), rest[:payloadLen]...)
	rest = rest[payloadLen:]

	if len(rest) != 0 {
		logger.WithField("trailing", len(rest)).Warn("trailing bytes after payload")
		return nil, fmt.Errorf("%w: trailing bytes after payload", stterr.ErrMalformedFrame)
	}

	return f, nil
}

// AssociatedData returns the deterministic serialization of
// {frame_type, flags, session_id, stream_id, sequence, rotation_nonce}
// bound as AEAD associated data (spec §4.2, §4.3). Tampering with any of
// these fields before decryption must make decryption fail; including
// rotation_nonce here is what lets a rotation be signaled entirely
// in-band (spec §4.5) without a separate rotation message, since the
// nonce itself is part of the authenticated header.
func AssociatedData(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Type))
	var flags byte
	if f.Encrypted {
		flags |= flagEncrypted
	}
	buf.WriteByte(flags)
	buf.Write(f.SessionID[:])
	buf.Write(codec.EncodeVarint(f.StreamID))
	buf.Write(codec.EncodeVarint(f.Sequence))
	buf.Write(codec.EncodeVarint(uint64(len(f.RotationNonce))))
	buf.Write(f.RotationNonce)
	return buf.Bytes()
}

// EncryptPayload replaces f.Payload with ciphertext under key, sets
// f.Metadata to the opaque output of Crypto.Encrypt, and sets
// f.Encrypted. It must not be called twice on the same frame: a second
// call would bind the associated data to flags.encrypted=1 from the
// first call while encrypting already-ciphertext bytes, which is never
// a valid protocol state.
func EncryptPayload(f *Frame, c crypto.Crypto, key []byte) error {
	if f.Encrypted {
		return fmt.Errorf("%w: frame already encrypted", stterr.ErrCryptoFailure)
	}
	ad := AssociatedData(f)
	ciphertext, metadata, err := c.Encrypt(key, f.Payload, ad)
	if err != nil {
		return fmt.Errorf("frame: EncryptPayload: %w", err)
	}
	f.Payload = ciphertext
	f.Metadata = metadata
	f.Encrypted = true
	return nil
}

// DecryptPayload verifies and replaces f.Payload with plaintext in
// place, using the associated data computed from f's current header
// fields. Any tamper to those fields before this call causes decryption
// to fail with stterr.ErrCryptoFailure (spec §8).
func DecryptPayload(f *Frame, c crypto.Crypto, key []byte) error {
	if !f.Encrypted {
		return fmt.Errorf("%w: frame is not encrypted", stterr.ErrCryptoFailure)
	}
	ad := AssociatedData(f)
	plaintext, err := c.Decrypt(key, f.Payload, f.Metadata, ad)
	if err != nil {
		return fmt.Errorf("frame: DecryptPayload: %w", err)
	}
	f.Payload = plaintext
	f.Encrypted = false
	return nil
}
