package codec

import (
	"fmt"
	"math"
	"sort"

	"github.com/seigr-lab/stt/internal/stterr"
)

// Tag identifies the wire type of an encoded Value.
type Tag byte

const (
	TagNull Tag = iota
	TagBool
	TagInt8
	TagInt16
	TagInt32
	TagInt64
	TagFloat32
	TagFloat64
	TagBytes
	TagString
	TagList
	TagMap
)

// Value is any of the supported typed-value payloads: nil, bool, int8,
// int16, int32, int64, float32, float64, []byte, string, []Value, or
// Map. The typed-value codec is used only inside opaque metadata blobs
// (handshake messages, crypto metadata framing); the protocol's wire
// header never uses it directly.
type Value interface{}

// Map is an ordered-on-encode string-keyed map. Keys are always encoded
// as TagString; entries are sorted by their encoded key bytes before
// serialization so that encode(map) is deterministic and so that two
// logically equal maps produce byte-identical output regardless of
// insertion order.
type Map map[string]Value

// EncodeValue serializes v deterministically. An unsupported Go type is a
// programmer error, reported as an error rather than a panic.
func EncodeValue(v Value) ([]byte, error) {
	var out []byte
	return appendValue(out, v)
}

func appendValue(dst []byte, v Value) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(dst, byte(TagNull)), nil
	case bool:
		dst = append(dst, byte(TagBool))
		if x {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case int8:
		return append(dst, byte(TagInt8), byte(x)), nil
	case int16:
		dst = append(dst, byte(TagInt16))
		return appendLE(dst, uint16(x), 2), nil
	case int32:
		dst = append(dst, byte(TagInt32))
		return appendLE(dst, uint32(x), 4), nil
	case int64:
		dst = append(dst, byte(TagInt64))
		return appendLE(dst, uint64(x), 8), nil
	case float32:
		dst = append(dst, byte(TagFloat32))
		return appendLE(dst, math.Float32bits(x), 4), nil
	case float64:
		dst = append(dst, byte(TagFloat64))
		return appendLE(dst, math.Float64bits(x), 8), nil
	case []byte:
		dst = append(dst, byte(TagBytes))
		dst = AppendVarint(dst, uint64(len(x)))
		return append(dst, x...), nil
	case string:
		dst = append(dst, byte(TagString))
		dst = AppendVarint(dst, uint64(len(x)))
		return append(dst, x...), nil
	case []Value:
		dst = append(dst, byte(TagList))
		dst = AppendVarint(dst, uint64(len(x)))
		for _, elem := range x {
			var err error
			dst, err = appendValue(dst, elem)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case Map:
		return appendMap(dst, x)
	default:
		return nil, fmt.Errorf("codec: unsupported value type %T", v)
	}
}

func appendMap(dst []byte, m Map) ([]byte, error) {
	type entry struct {
		keyBytes []byte
		valBytes []byte
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		kb, err := appendValue(nil, k)
		if err != nil {
			return nil, fmt.Errorf("codec: encoding map key %q: %w", k, err)
		}
		vb, err := appendValue(nil, v)
		if err != nil {
			return nil, fmt.Errorf("codec: encoding map value for key %q: %w", k, err)
		}
		entries = append(entries, entry{keyBytes: kb, valBytes: vb})
	}
	sort.Slice(entries, func(i, j int) bool {
		return compareBytes(entries[i].keyBytes, entries[j].keyBytes) < 0
	})

	dst = append(dst, byte(TagMap))
	dst = AppendVarint(dst, uint64(len(entries)))
	for _, e := range entries {
		dst = append(dst, e.keyBytes...)
		dst = append(dst, e.valBytes...)
	}
	return dst, nil
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

func appendLE(dst []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		dst = append(dst, byte(v))
		v >>= 8
	}
	return dst
}

// DecodeValue parses a single Value from the start of buf, returning it and
// the number of bytes consumed.
func DecodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return nil, 0, stterr.ErrMalformedFrame
	}
	tag := Tag(buf[0])
	rest := buf[1:]
	switch tag {
	case TagNull:
		return nil, 1, nil
	case TagBool:
		if len(rest) < 1 {
			return nil, 0, stterr.ErrMalformedFrame
		}
		return rest[0] != 0, 2, nil
	case TagInt8:
		if len(rest) < 1 {
			return nil, 0, stterr.ErrMalformedFrame
		}
		return int8(rest[0]), 2, nil
	case TagInt16:
		v, n, err := readLE(rest, 2)
		if err != nil {
			return nil, 0, err
		}
		return int16(v), 1 + n, nil
	case TagInt32:
		v, n, err := readLE(rest, 4)
		if err != nil {
			return nil, 0, err
		}
		return int32(v), 1 + n, nil
	case TagInt64:
		v, n, err := readLE(rest, 8)
		if err != nil {
			return nil, 0, err
		}
		return int64(v), 1 + n, nil
	case TagFloat32:
		v, n, err := readLE(rest, 4)
		if err != nil {
			return nil, 0, err
		}
		return math.Float32frombits(uint32(v)), 1 + n, nil
	case TagFloat64:
		v, n, err := readLE(rest, 8)
		if err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(v), 1 + n, nil
	case TagBytes:
		return decodeLengthPrefixed(rest, func(b []byte) Value {
			out := make([]byte, len(b))
			copy(out, b)
			return out
		})
	case TagString:
		return decodeLengthPrefixed(rest, func(b []byte) Value {
			return string(b)
		})
	case TagList:
		return decodeList(rest)
	case TagMap:
		return decodeMap(rest)
	default:
		return nil, 0, stterr.ErrMalformedFrame
	}
}

func readLE(buf []byte, width int) (uint64, int, error) {
	if len(buf) < width {
		return 0, 0, stterr.ErrMalformedFrame
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = (v << 8) | uint64(buf[i])
	}
	return v, width, nil
}

func decodeLengthPrefixed(buf []byte, build func([]byte) Value) (Value, int, error) {
	length, n, err := DecodeVarint(buf)
	if err != nil {
		return nil, 0, err
	}
	start := n
	end := start + int(length)
	if end < start || end > len(buf) {
		return nil, 0, stterr.ErrMalformedFrame
	}
	return build(buf[start:end]), 1 + end, nil
}

func decodeList(buf []byte) (Value, int, error) {
	count, n, err := DecodeVarint(buf)
	if err != nil {
		return nil, 0, err
	}
	consumed := n
	list := make([]Value, 0, count)
	for i := uint64(0); i < count; i++ {
		if consumed > len(buf) {
			return nil, 0, stterr.ErrMalformedFrame
		}
		v, m, err := DecodeValue(buf[consumed:])
		if err != nil {
			return nil, 0, err
		}
		list = append(list, v)
		consumed += m
	}
	return list, 1 + consumed, nil
}

func decodeMap(buf []byte) (Value, int, error) {
	count, n, err := DecodeVarint(buf)
	if err != nil {
		return nil, 0, err
	}
	consumed := n
	m := make(Map, count)
	for i := uint64(0); i < count; i++ {
		if consumed > len(buf) {
			return nil, 0, stterr.ErrMalformedFrame
		}
		keyVal, kn, err := DecodeValue(buf[consumed:])
		if err != nil {
			return nil, 0, err
		}
		consumed += kn
		key, ok := keyVal.(string)
		if !ok {
			return nil, 0, fmt.Errorf("codec: map key is not a string: %w", stterr.ErrMalformedFrame)
		}
		if consumed > len(buf) {
			return nil, 0, stterr.ErrMalformedFrame
		}
		val, vn, err := DecodeValue(buf[consumed:])
		if err != nil {
			return nil, 0, err
		}
		consumed += vn
		m[key] = val
	}
	return m, 1 + consumed, nil
}
