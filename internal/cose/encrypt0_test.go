package cose

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestEncrypt0RoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 13)
	rand.Read(key)
	rand.Read(iv)

	plaintext := []byte("hello from server")
	aad := []byte("external-aad")

	serialized, err := Encrypt(key, iv, plaintext, aad, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(serialized, key, iv, aad)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncrypt0WrongKeyFails(t *testing.T) {
	key := make([]byte, 16)
	other := make([]byte, 16)
	iv := make([]byte, 13)
	rand.Read(key)
	rand.Read(other)
	rand.Read(iv)

	serialized, err := Encrypt(key, iv, []byte("secret"), nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(serialized, other, iv, nil); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEncrypt0WrongIVFails(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 13)
	otherIV := make([]byte, 13)
	rand.Read(key)
	rand.Read(iv)
	rand.Read(otherIV)

	serialized, err := Encrypt(key, iv, []byte("secret"), nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(serialized, key, otherIV, nil); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEncrypt0WrongAADFails(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 13)
	rand.Read(key)
	rand.Read(iv)

	serialized, err := Encrypt(key, iv, []byte("secret"), []byte("aad-a"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(serialized, key, iv, []byte("aad-b")); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEncrypt0TamperFails(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 13)
	rand.Read(key)
	rand.Read(iv)

	serialized, err := Encrypt(key, iv, []byte("0123456789abcdef"), nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for i := range serialized {
		tampered := append([]byte(nil), serialized...)
		tampered[i] ^= 0xFF
		if _, err := Decrypt(tampered, key, iv, nil); err == nil {
			t.Fatalf("Decrypt unexpectedly succeeded after flipping byte %d", i)
		}
	}
}
