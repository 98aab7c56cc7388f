package codec

import (
	"bytes"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1 << 32, 1<<64 - 1}
	for _, n := range cases {
		encoded := EncodeVarint(n)
		decoded, consumed, err := DecodeVarint(encoded)
		if err != nil {
			t.Fatalf("DecodeVarint(%d) error: %v", n, err)
		}
		if decoded != n {
			t.Errorf("DecodeVarint round trip: got %d, want %d", decoded, n)
		}
		if consumed != len(encoded) {
			t.Errorf("DecodeVarint consumed %d bytes, want %d", consumed, len(encoded))
		}
		if consumed != SizeVarint(n) {
			t.Errorf("SizeVarint(%d) = %d, want %d", n, SizeVarint(n), consumed)
		}
	}
}

func TestVarintSmallValuesAreOneByte(t *testing.T) {
	for n := uint64(0); n < 128; n++ {
		if got := len(EncodeVarint(n)); got != 1 {
			t.Errorf("EncodeVarint(%d) length = %d, want 1", n, got)
		}
	}
}

func TestVarintTruncatedInput(t *testing.T) {
	// 0x80 alone has its continuation bit set and no terminating byte.
	_, _, err := DecodeVarint([]byte{0x80})
	if err == nil {
		t.Fatal("expected error decoding truncated varint")
	}
}

func TestVarintOverrun(t *testing.T) {
	// 11 bytes all with the continuation bit set never terminates.
	buf := bytes.Repeat([]byte{0x80}, 11)
	_, _, err := DecodeVarint(buf)
	if err == nil {
		t.Fatal("expected error decoding over-long varint")
	}
}

func TestAppendVarint(t *testing.T) {
	dst := []byte{0xff}
	dst = AppendVarint(dst, 300)
	if dst[0] != 0xff {
		t.Fatal("AppendVarint must not disturb existing prefix")
	}
	decoded, consumed, err := DecodeVarint(dst[1:])
	if err != nil {
		t.Fatalf("DecodeVarint error: %v", err)
	}
	if decoded != 300 || consumed != len(dst)-1 {
		t.Errorf("got (%d, %d), want (300, %d)", decoded, consumed, len(dst)-1)
	}
}

func FuzzVarintRoundTrip(f *testing.F) {
	f.Add(uint64(0))
	f.Add(uint64(127))
	f.Add(uint64(128))
	f.Add(uint64(1) << 63)

	f.Fuzz(func(t *testing.T, n uint64) {
		encoded := EncodeVarint(n)
		decoded, consumed, err := DecodeVarint(encoded)
		if err != nil {
			t.Fatalf("unexpected decode error for %d: %v", n, err)
		}
		if decoded != n || consumed != len(encoded) {
			t.Fatalf("round trip mismatch: n=%d decoded=%d consumed=%d len=%d", n, decoded, consumed, len(encoded))
		}
	})
}
