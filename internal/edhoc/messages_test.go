package edhoc

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/aceoauth/edhoc-gateway/internal/cose"
)

func genECDHKey(t *testing.T) cose.Key {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating ephemeral key: %v", err)
	}
	k, err := cose.FromECDHPublicKey(cose.CurveP256, priv.PublicKey())
	if err != nil {
		t.Fatalf("FromECDHPublicKey: %v", err)
	}
	return k
}

func TestMessage1RoundTrip(t *testing.T) {
	gx := genECDHKey(t)
	sid := []byte{0x01, 0x02}
	nonce := bytes.Repeat([]byte{0x03}, NonceLen)

	msg, err := EncodeMessage1(sid, nonce, gx)
	if err != nil {
		t.Fatalf("EncodeMessage1: %v", err)
	}

	got, err := ParseMessage1(msg.Raw)
	if err != nil {
		t.Fatalf("ParseMessage1: %v", err)
	}
	if !bytes.Equal(got.SessionIDU, sid) || !bytes.Equal(got.NonceU, nonce) {
		t.Fatalf("field mismatch: %+v", got)
	}
	if !bytes.Equal(got.GX.X, gx.X) || !bytes.Equal(got.GX.Y, gx.Y) {
		t.Fatalf("GX mismatch")
	}
}

func TestMessage1BadTagRejected(t *testing.T) {
	gx := genECDHKey(t)
	msg, err := EncodeMessage1([]byte{0, 0}, bytes.Repeat([]byte{1}, NonceLen), gx)
	if err != nil {
		t.Fatalf("EncodeMessage1: %v", err)
	}
	if _, err := ParseMessage2(msg.Raw); err == nil {
		t.Fatalf("expected ParseMessage2 to reject a MSG1-shaped payload")
	}
}

func TestMessage2DataPreservesRawBytes(t *testing.T) {
	gy := genECDHKey(t)
	sidU := []byte{0x01, 0x02}
	sidV := []byte{0x03, 0x04}
	nonceV := bytes.Repeat([]byte{0x05}, NonceLen)
	ciphertext := []byte("opaque-ciphertext-2")

	msg, data2, err := EncodeMessage2(sidU, sidV, nonceV, gy, ciphertext)
	if err != nil {
		t.Fatalf("EncodeMessage2: %v", err)
	}

	gotMsg, gotData2, err := ParseMessage2(msg.Raw)
	if err != nil {
		t.Fatalf("ParseMessage2: %v", err)
	}
	if !bytes.Equal(gotData2, data2) {
		t.Fatalf("data_2 mismatch:\n got  %x\n want %x", gotData2, data2)
	}
	if !bytes.Equal(gotMsg.Ciphertext2, ciphertext) {
		t.Fatalf("ciphertext_2 mismatch")
	}
}

func TestMessage3RoundTrip(t *testing.T) {
	sidV := []byte{0x07, 0x08}
	ciphertext := []byte("opaque-ciphertext-3")

	msg, err := EncodeMessage3(sidV, ciphertext)
	if err != nil {
		t.Fatalf("EncodeMessage3: %v", err)
	}
	got, err := ParseMessage3(msg.Raw)
	if err != nil {
		t.Fatalf("ParseMessage3: %v", err)
	}
	if !bytes.Equal(got.SessionIDV, sidV) || !bytes.Equal(got.Ciphertext3, ciphertext) {
		t.Fatalf("field mismatch: %+v", got)
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	sid := []byte{0x09, 0x0a}
	raw, err := EncodeError(sid, "unsupported cipher suite")
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	gotSID, gotDiag, err := ParseError(raw)
	if err != nil {
		t.Fatalf("ParseError: %v", err)
	}
	if !bytes.Equal(gotSID, sid) || gotDiag != "unsupported cipher suite" {
		t.Fatalf("field mismatch: sid=%x diag=%q", gotSID, gotDiag)
	}
}

func TestPeekTag(t *testing.T) {
	gx := genECDHKey(t)
	msg, err := EncodeMessage1([]byte{0, 0}, bytes.Repeat([]byte{1}, NonceLen), gx)
	if err != nil {
		t.Fatalf("EncodeMessage1: %v", err)
	}
	tag, err := PeekTag(msg.Raw)
	if err != nil {
		t.Fatalf("PeekTag: %v", err)
	}
	if tag != TagMsg1 {
		t.Fatalf("tag = %d, want %d", tag, TagMsg1)
	}
}
