package codec

import (
	"bytes"
	"reflect"
	"testing"
)

func TestValueRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    Value
	}{
		{"null", nil},
		{"bool true", true},
		{"bool false", false},
		{"int8", int8(-12)},
		{"int16", int16(-3000)},
		{"int32", int32(123456)},
		{"int64", int64(-9999999999)},
		{"float32", float32(3.5)},
		{"float64", float64(-2.25)},
		{"bytes", []byte{1, 2, 3, 0, 255}},
		{"string", "hello, stt"},
		{"empty string", ""},
		{"list", []Value{int32(1), "two", []byte{3}}},
		{"map", Map{"a": int32(1), "b": "two"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := EncodeValue(tc.v)
			if err != nil {
				t.Fatalf("EncodeValue error: %v", err)
			}
			decoded, consumed, err := DecodeValue(encoded)
			if err != nil {
				t.Fatalf("DecodeValue error: %v", err)
			}
			if consumed != len(encoded) {
				t.Errorf("consumed %d bytes, want %d", consumed, len(encoded))
			}
			if !reflect.DeepEqual(decoded, tc.v) {
				t.Errorf("round trip mismatch: got %#v, want %#v", decoded, tc.v)
			}
		})
	}
}

func TestMapEncodingIsDeterministic(t *testing.T) {
	m1 := Map{"zebra": int32(1), "alpha": int32(2), "mid": int32(3)}
	m2 := Map{"alpha": int32(2), "mid": int32(3), "zebra": int32(1)}

	b1, err := EncodeValue(m1)
	if err != nil {
		t.Fatalf("EncodeValue(m1) error: %v", err)
	}
	b2, err := EncodeValue(m2)
	if err != nil {
		t.Fatalf("EncodeValue(m2) error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("maps with equal contents but different insertion order must encode identically")
	}
}

func TestMapKeysAreSortedByEncodedBytes(t *testing.T) {
	// "b" (length prefix 1) sorts before "aa" (length prefix 2) because
	// the length byte itself is compared first.
	m := Map{"aa": int32(1), "b": int32(2)}
	encoded, err := EncodeValue(m)
	if err != nil {
		t.Fatalf("EncodeValue error: %v", err)
	}

	decoded, _, err := DecodeValue(encoded)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	if !reflect.DeepEqual(decoded, m) {
		t.Fatalf("round trip mismatch: got %#v, want %#v", decoded, m)
	}

	bEncoded, _ := EncodeValue("b")
	aaEncoded, _ := EncodeValue("aa")
	if compareBytes(bEncoded, aaEncoded) >= 0 {
		t.Fatal("expected \"b\" to sort before \"aa\" by encoded byte representation")
	}
}

func TestDecodeValueRejectsTruncatedInput(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(TagBool)},
		{byte(TagInt32), 1, 2},
		{byte(TagBytes), 10, 1, 2}, // declares length 10 but only 2 bytes follow
		{byte(TagMap), 1},          // declares 1 entry but no key/value bytes
	}
	for _, buf := range cases {
		if _, _, err := DecodeValue(buf); err == nil {
			t.Errorf("DecodeValue(%v) expected error, got none", buf)
		}
	}
}

func TestEncodeValueRejectsUnsupportedType(t *testing.T) {
	if _, err := EncodeValue(struct{}{}); err == nil {
		t.Fatal("expected error encoding unsupported type")
	}
}

func FuzzValueRoundTrip(f *testing.F) {
	f.Add("hello")
	f.Fuzz(func(t *testing.T, s string) {
		encoded, err := EncodeValue(s)
		if err != nil {
			t.Fatalf("unexpected encode error: %v", err)
		}
		decoded, consumed, err := DecodeValue(encoded)
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		if decoded != Value(s) || consumed != len(encoded) {
			t.Fatalf("round trip mismatch for %q", s)
		}
	})
}
