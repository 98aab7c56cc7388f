// Package codec implements the wire-level primitive types shared by the
// frame header and the opaque typed-value metadata blobs: an unsigned
// base-128 varint and a deterministic, round-trip-exact tagged value
// encoding for null/bool/integers/floats/bytes/strings/lists/maps.
//
// Both encodings are deterministic: encoding the same logical value always
// produces the same bytes, which lets callers compare encoded output for
// equality instead of re-decoding, and lets map keys be ordered by their
// encoded byte representation.
package codec

import (
	"github.com/sirupsen/logrus"

	"github.com/seigr-lab/stt/internal/stterr"
)

// maxVarintBytes bounds the number of bytes a varint decoder will consume
// before concluding the input is malformed. 10 bytes covers a full 64-bit
// value (7 bits per byte, ceil(64/7) = 10).
const maxVarintBytes = 10

// EncodeVarint serializes n as an unsigned base-128 little-endian varint:
// 7 value bits per byte, continuation bit in the MSB, least-significant
// group first.
func EncodeVarint(n uint64) []byte {
	buf := make([]byte, 0, maxVarintBytes)
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		buf = append(buf, b)
		return buf
	}
}

// AppendVarint appends the varint encoding of n to dst and returns the
// extended slice, avoiding an intermediate allocation at call sites that
// build up a larger buffer incrementally (frame encoding).
func AppendVarint(dst []byte, n uint64) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// DecodeVarint reads a varint from the start of buf and returns its value
// and the number of bytes consumed. It fails with stterr.ErrMalformedFrame
// if the input ends before a terminating byte is seen, or if more than
// maxVarintBytes bytes are consumed without one.
func DecodeVarint(buf []byte) (uint64, int, error) {
	var value uint64
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		if i >= len(buf) {
			logrus.WithFields(logrus.Fields{
				"package":  "codec",
				"function": "DecodeVarint",
				"consumed": i,
			}).Debug("varint decode ran out of input")
			return 0, 0, stterr.ErrMalformedFrame
		}
		b := buf[i]
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	logrus.WithFields(logrus.Fields{
		"package":  "codec",
		"function": "DecodeVarint",
	}).Warn("varint decode exceeded maximum length without a terminator")
	return 0, 0, stterr.ErrMalformedFrame
}

// SizeVarint returns the number of bytes EncodeVarint(n) would produce,
// without allocating.
func SizeVarint(n uint64) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}
