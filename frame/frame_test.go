package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seigr-lab/stt/crypto"
	"github.com/seigr-lab/stt/internal/stterr"
)

func testCrypto() crypto.Crypto {
	seed := bytes.Repeat([]byte{0x01}, crypto.MinSeedLength)
	return crypto.NewAdapter(seed, seed)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{
		Type:      TypeData,
		SessionID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		StreamID:  7,
		Sequence:  42,
		Metadata:  []byte{0xAA, 0xBB},
		Payload:   []byte("hello"),
	}

	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, byte(magicByte0), encoded[0])
	require.Equal(t, byte(magicByte1), encoded[1])

	decoded, err := Decode(encoded, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, f.Type, decoded.Type)
	require.Equal(t, f.SessionID, decoded.SessionID)
	require.Equal(t, f.StreamID, decoded.StreamID)
	require.Equal(t, f.Sequence, decoded.Sequence)
	require.Equal(t, f.Metadata, decoded.Metadata)
	require.Equal(t, f.Payload, decoded.Payload)
}

func TestEncryptedFlagRoundTrips(t *testing.T) {
	f := &Frame{Type: TypeData, Encrypted: true, Payload: []byte{1}}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	decoded, err := Decode(encoded, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.True(t, decoded.Encrypted)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	f := &Frame{Type: TypeKeepalive}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	encoded[0] = 0x00

	_, err = Decode(encoded, DefaultMaxFrameSize)
	require.ErrorIs(t, err, stterr.ErrMalformedFrame)
}

func TestDecodeRejectsUnknownFlagBits(t *testing.T) {
	f := &Frame{Type: TypeKeepalive}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	encoded[3] |= 0x02 // reserved bit

	_, err = Decode(encoded, DefaultMaxFrameSize)
	require.ErrorIs(t, err, stterr.ErrMalformedFrame)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	f := &Frame{Type: TypeData, Payload: []byte("hello world")}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-3], DefaultMaxFrameSize)
	require.ErrorIs(t, err, stterr.ErrMalformedFrame)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	f := &Frame{Type: TypeKeepalive}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	encoded = append(encoded, 0xFF)

	_, err = Decode(encoded, DefaultMaxFrameSize)
	require.ErrorIs(t, err, stterr.ErrMalformedFrame)
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	f := &Frame{Type: TypeData, Payload: bytes.Repeat([]byte{0x01}, 100)}
	_, err := Encode(f, 10)
	require.ErrorIs(t, err, stterr.ErrFrameTooLarge)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	f := &Frame{Type: TypeData, Payload: bytes.Repeat([]byte{0x01}, 100)}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	_, err = Decode(encoded, 10)
	require.ErrorIs(t, err, stterr.ErrFrameTooLarge)
}

func TestUnknownFrameTypeDecodesFine(t *testing.T) {
	// Unrecognized frame_type is not a codec-level error; dispatch
	// decides what to do with it (spec §4.2).
	f := &Frame{Type: Type(0x90)}
	encoded, err := Encode(f, DefaultMaxFrameSize)
	require.NoError(t, err)
	decoded, err := Decode(encoded, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.True(t, decoded.Type.IsUserDefined())
}

func TestEncryptThenDecryptPayload(t *testing.T) {
	c := testCrypto()
	key := bytes.Repeat([]byte{0x09}, 32)

	f := &Frame{
		Type:      TypeData,
		SessionID: [8]byte{9, 9, 9, 9, 9, 9, 9, 9},
		StreamID:  3,
		Sequence:  5,
		Payload:   []byte("segment bytes"),
	}

	require.NoError(t, EncryptPayload(f, c, key))
	require.True(t, f.Encrypted)
	require.NotEqual(t, []byte("segment bytes"), f.Payload)

	require.NoError(t, DecryptPayload(f, c, key))
	require.Equal(t, []byte("segment bytes"), f.Payload)
}

func TestEncryptPayloadRefusesDoubleEncrypt(t *testing.T) {
	c := testCrypto()
	key := bytes.Repeat([]byte{0x09}, 32)
	f := &Frame{Type: TypeData, Payload: []byte("x")}
	require.NoError(t, EncryptPayload(f, c, key))
	err := EncryptPayload(f, c, key)
	require.Error(t, err)
}

func TestDecryptPayloadFailsOnHeaderTamper(t *testing.T) {
	c := testCrypto()
	key := bytes.Repeat([]byte{0x09}, 32)

	f := &Frame{Type: TypeData, StreamID: 1, Sequence: 1, Payload: []byte("payload")}
	require.NoError(t, EncryptPayload(f, c, key))

	f.Sequence = 2 // tamper a header field bound as associated data
	err := DecryptPayload(f, c, key)
	require.Error(t, err)
	require.ErrorIs(t, err, stterr.ErrCryptoFailure)
}

func TestAssociatedDataChangesWithHeaderFields(t *testing.T) {
	f1 := &Frame{Type: TypeData, StreamID: 1, Sequence: 1}
	f2 := &Frame{Type: TypeData, StreamID: 1, Sequence: 2}
	require.NotEqual(t, AssociatedData(f1), AssociatedData(f2))
}
