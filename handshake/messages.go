package handshake

import (
	"fmt"

	"github.com/seigr-lab/stt/codec"
	"github.com/seigr-lab/stt/internal/stterr"
)

// decodeMessage parses a handshake frame's payload back into a
// codec.Map, rejecting anything malformed or not shaped like a map.
func decodeMessage(payload []byte) (codec.Map, error) {
	v, n, err := codec.DecodeValue(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stterr.ErrMalformedFrame, err)
	}
	if n != len(payload) {
		return nil, fmt.Errorf("%w: trailing bytes in handshake payload", stterr.ErrMalformedFrame)
	}
	m, ok := v.(codec.Map)
	if !ok {
		return nil, fmt.Errorf("%w: handshake payload is not a map", stterr.ErrMalformedFrame)
	}
	return m, nil
}

func field32(m codec.Map, key string) ([32]byte, error) {
	var out [32]byte
	v, ok := m[key]
	if !ok {
		return out, fmt.Errorf("%w: missing field %q", stterr.ErrMalformedFrame, key)
	}
	b, ok := v.([]byte)
	if !ok || len(b) != 32 {
		return out, fmt.Errorf("%w: field %q is not 32 bytes", stterr.ErrMalformedFrame, key)
	}
	copy(out[:], b)
	return out, nil
}

func field8(m codec.Map, key string) ([8]byte, error) {
	var out [8]byte
	v, ok := m[key]
	if !ok {
		return out, fmt.Errorf("%w: missing field %q", stterr.ErrMalformedFrame, key)
	}
	b, ok := v.([]byte)
	if !ok || len(b) != 8 {
		return out, fmt.Errorf("%w: field %q is not 8 bytes", stterr.ErrMalformedFrame, key)
	}
	copy(out[:], b)
	return out, nil
}

func fieldBytes(m codec.Map, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", stterr.ErrMalformedFrame, key)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not bytes", stterr.ErrMalformedFrame, key)
	}
	return b, nil
}

func fieldInt64(m codec.Map, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", stterr.ErrMalformedFrame, key)
	}
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: field %q is not an int64", stterr.ErrMalformedFrame, key)
	}
	return i, nil
}

func fieldString(m codec.Map, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", stterr.ErrMalformedFrame, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q is not a string", stterr.ErrMalformedFrame, key)
	}
	return s, nil
}

func parseHello(m codec.Map) (nodeID, nonce [32]byte, timestamp int64, commitment [32]byte, err error) {
	if nodeID, err = field32(m, "node_id"); err != nil {
		return
	}
	if nonce, err = field32(m, "nonce"); err != nil {
		return
	}
	if timestamp, err = fieldInt64(m, "timestamp"); err != nil {
		return
	}
	commitment, err = field32(m, "commitment")
	return
}

func parseChallenge(m codec.Map) (nodeID, nonce [32]byte, ct, md []byte, timestamp int64, err error) {
	if nodeID, err = field32(m, "node_id"); err != nil {
		return
	}
	if nonce, err = field32(m, "nonce"); err != nil {
		return
	}
	if ct, err = fieldBytes(m, "ct"); err != nil {
		return
	}
	if md, err = fieldBytes(m, "md"); err != nil {
		return
	}
	timestamp, err = fieldInt64(m, "timestamp")
	return
}

func parseProof(m codec.Map) (sessionID [8]byte, ct, md []byte, timestamp int64, err error) {
	if sessionID, err = field8(m, "session_id"); err != nil {
		return
	}
	if ct, err = fieldBytes(m, "ct"); err != nil {
		return
	}
	if md, err = fieldBytes(m, "md"); err != nil {
		return
	}
	timestamp, err = fieldInt64(m, "timestamp")
	return
}

func parseConfirm(m codec.Map) (sessionID [8]byte, status string, timestamp int64, err error) {
	if sessionID, err = field8(m, "session_id"); err != nil {
		return
	}
	if status, err = fieldString(m, "status"); err != nil {
		return
	}
	timestamp, err = fieldInt64(m, "timestamp")
	return
}
