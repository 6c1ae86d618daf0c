package oscore

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex.DecodeString(%q): %v", s, err)
	}
	return b
}

// TestDerivedKeyVector reproduces RFC 8613 Appendix C.1.1's test vector: a
// single master secret/salt and sender/recipient ID pair (no id_context)
// with known-good sender_key, recipient_key, and common_iv outputs.
func TestDerivedKeyVector(t *testing.T) {
	secret := mustHex(t, "0102030405060708090a0b0c0d0e0f10")
	salt := mustHex(t, "9e7ca92223786340")
	sid := []byte{}
	rid := mustHex(t, "01")

	ctx, err := Derive(secret, salt, sid, rid)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	wantSenderKey := mustHex(t, "f0910ed7295e6ad4b54fc793154302ff")
	wantRecipientKey := mustHex(t, "ffb14e093c94c9cac9471648b4f98710")
	wantCommonIV := mustHex(t, "4622d4dd6d944168eefb54987c")

	if !bytes.Equal(ctx.SenderKey(), wantSenderKey) {
		t.Errorf("sender_key = %x, want %x", ctx.SenderKey(), wantSenderKey)
	}
	if !bytes.Equal(ctx.RecipientKey(), wantRecipientKey) {
		t.Errorf("recipient_key = %x, want %x", ctx.RecipientKey(), wantRecipientKey)
	}
	if !bytes.Equal(ctx.CommonIV(), wantCommonIV) {
		t.Errorf("common_iv = %x, want %x", ctx.CommonIV(), wantCommonIV)
	}
}

func TestContextRoundTripAcrossEndpointSwap(t *testing.T) {
	secret := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	salt := mustHex(t, "9e7ca92223786340")
	idA := []byte{0x01, 0x02}
	idB := []byte{0x03, 0x04}

	a, err := Derive(secret, salt, idA, idB)
	if err != nil {
		t.Fatalf("Derive(a): %v", err)
	}
	b, err := Derive(secret, salt, idB, idA)
	if err != nil {
		t.Fatalf("Derive(b): %v", err)
	}

	if !bytes.Equal(a.SenderKey(), b.RecipientKey()) {
		t.Fatalf("a.sender_key != b.recipient_key")
	}
	if !bytes.Equal(a.RecipientKey(), b.SenderKey()) {
		t.Fatalf("a.recipient_key != b.sender_key")
	}
	if !bytes.Equal(a.CommonIV(), b.CommonIV()) {
		t.Fatalf("common_iv mismatch across endpoints")
	}

	msg1 := []byte("hello from server")
	sealed, err := a.Encrypt(msg1, nil)
	if err != nil {
		t.Fatalf("a.Encrypt: %v", err)
	}
	got, err := b.Decrypt(sealed, nil)
	if err != nil {
		t.Fatalf("b.Decrypt: %v", err)
	}
	if !bytes.Equal(got, msg1) {
		t.Fatalf("round trip mismatch: got %q want %q", got, msg1)
	}

	msg2 := []byte("hello from client")
	sealed2, err := b.Encrypt(msg2, nil)
	if err != nil {
		t.Fatalf("b.Encrypt: %v", err)
	}
	got2, err := a.Decrypt(sealed2, nil)
	if err != nil {
		t.Fatalf("a.Decrypt: %v", err)
	}
	if !bytes.Equal(got2, msg2) {
		t.Fatalf("round trip mismatch: got %q want %q", got2, msg2)
	}
}

func TestContextRejectsWrongContext(t *testing.T) {
	secret1 := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	secret2 := mustHex(t, "101112131415161718191a1b1c1d1e1f")
	salt := mustHex(t, "9e7ca92223786340")

	server1, err := Derive(secret1, salt, []byte{0x01, 0x02}, []byte{0x03, 0x04})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	client2, err := Derive(secret2, salt, []byte{0x03, 0x04}, []byte{0x05, 0x06})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	sealed, err := server1.Encrypt([]byte("Server to Client 1"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := client2.Decrypt(sealed, nil); err == nil {
		t.Fatalf("expected decrypt under an unrelated context to fail")
	}
}

func TestSequenceNumbersAreMonotonicAndDistinctNonces(t *testing.T) {
	secret := mustHex(t, "202122232425262728292a2b2c2d2e2f")
	salt := mustHex(t, "9e7ca92223786340")
	a, err := Derive(secret, salt, []byte{0x01, 0x02}, []byte{0x03, 0x04})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(secret, salt, []byte{0x03, 0x04}, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	first, err := a.Encrypt([]byte("one"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := a.Encrypt([]byte("two"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("successive Encrypt calls produced identical ciphertext")
	}

	got1, err := b.Decrypt(first, nil)
	if err != nil {
		t.Fatalf("Decrypt(first): %v", err)
	}
	got2, err := b.Decrypt(second, nil)
	if err != nil {
		t.Fatalf("Decrypt(second): %v", err)
	}
	if string(got1) != "one" || string(got2) != "two" {
		t.Fatalf("got %q, %q", got1, got2)
	}
}
