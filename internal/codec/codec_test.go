package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	_  struct{} `cbor:",toarray"`
	A  int
	B  []byte
	C  string
}

func TestRoundTrip(t *testing.T) {
	in := sample{A: 42, B: []byte{1, 2, 3}, C: "hello"}

	encoded, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(encoded, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.A != in.A || !bytes.Equal(out.B, in.B) || out.C != in.C {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestCanonicalMapKeyOrder(t *testing.T) {
	// Canonical CBOR orders map keys by the bytewise order of their
	// encoded form; {2: ..., 1: ...} must encode with key 1 first.
	m := map[int]string{2: "b", 1: "a"}

	encoded, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	again, err := Marshal(map[int]string{1: "a", 2: "b"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if !bytes.Equal(encoded, again) {
		t.Fatalf("canonical encoding is not key-order-independent: %x vs %x", encoded, again)
	}

	want := []byte{0xa2, 0x01, 0x61, 'a', 0x02, 0x61, 'b'}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("canonical encoding = %x, want %x (key 1 first)", encoded, want)
	}
}
