package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
)

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return sk
}

func TestSign1RoundTrip(t *testing.T) {
	sk := genKey(t)
	payload := []byte("this is some data I'd like to sign")

	serialized, err := Sign(sk, []byte("kid-1"), payload, nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := Verify(serialized, &sk.PublicKey, nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestSign1TamperFails(t *testing.T) {
	sk := genKey(t)
	payload := []byte("payload")

	serialized, err := Sign(sk, []byte("kid-1"), payload, nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for i := range serialized {
		tampered := append([]byte(nil), serialized...)
		tampered[i] ^= 0xFF
		if _, err := Verify(tampered, &sk.PublicKey, nil); err == nil {
			t.Fatalf("Verify unexpectedly succeeded after flipping byte %d", i)
		}
	}
}

func TestSign1WrongKeyFails(t *testing.T) {
	sk := genKey(t)
	other := genKey(t)
	payload := []byte("payload")

	serialized, err := Sign(sk, []byte("kid-1"), payload, nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := Verify(serialized, &other.PublicKey, nil); err != ErrSignatureInvalid {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestKidExtraction(t *testing.T) {
	sk := genKey(t)
	kid := []byte("client-1234")

	serialized, err := Sign(sk, kid, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := Kid(serialized)
	if err != nil {
		t.Fatalf("Kid: %v", err)
	}
	if string(got) != string(kid) {
		t.Fatalf("kid mismatch: got %q want %q", got, kid)
	}
}
