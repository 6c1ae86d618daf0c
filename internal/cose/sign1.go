package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
)

func ellipticP256() elliptic.Curve { return elliptic.P256() }

// COSE header labels and algorithm identifiers (RFC 8152 §3.1, §8.1).
const (
	HeaderAlg = 1
	HeaderKid = 4

	AlgorithmES256 = -7

	sign1Context = "Signature1"
)

// Sign1 is the COSE_Sign1 structure: [protected, unprotected, payload, signature].
// https://cose-wg.github.io/cose-spec/#rfc.section.4.2
type Sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signature   []byte
}

// sigStructure is the four-element array that is actually hashed and signed.
// https://cose-wg.github.io/cose-spec/#rfc.section.4.4
type sigStructure struct {
	_               struct{} `cbor:",toarray"`
	Context         string
	ProtectedHeader []byte
	External        []byte
	Payload         []byte
}

// protectedES256 is the canonical protected header for ES256, computed once.
var protectedES256 = mustMarshalProtectedES256()

func mustMarshalProtectedES256() []byte {
	b, err := codec.Marshal(map[int]int{HeaderAlg: AlgorithmES256})
	if err != nil {
		panic(err)
	}
	return b
}

// ProtectedHeaderES256 returns the canonical CBOR-encoded {alg: ES256} map
// used as the protected header for every Sign1 this package produces.
func ProtectedHeaderES256() []byte {
	return protectedES256
}

// SigStructureBytes builds and canonically encodes the Sig_structure for the
// given protected header, external AAD and payload — the exact bytes that
// get SHA-256-hashed and ECDSA-signed.
func SigStructureBytes(protected, externalAAD, payload []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	return codec.Marshal(sigStructure{
		Context:         sign1Context,
		ProtectedHeader: protected,
		External:        externalAAD,
		Payload:         payload,
	})
}

// Sign builds and serializes a COSE_Sign1 over payload, with protected
// header fixed to {alg: ES256} and unprotected header carrying kid.
func Sign(sk *ecdsa.PrivateKey, kid, payload, externalAAD []byte) ([]byte, error) {
	if sk.Curve != ellipticP256() {
		return nil, fmt.Errorf("%w: ES256 requires a P-256 key", ErrEncodingError)
	}

	toBeSigned, err := SigStructureBytes(protectedES256, externalAAD, payload)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(toBeSigned)

	r, s, err := ecdsa.Sign(rand.Reader, sk, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingError, err)
	}

	sig := append(leftPad(r.Bytes(), 32), leftPad(s.Bytes(), 32)...)

	msg := Sign1{
		Protected:   protectedES256,
		Unprotected: map[interface{}]interface{}{HeaderKid: kid},
		Payload:     payload,
		Signature:   sig,
	}

	return codec.Marshal(msg)
}

// Verify parses a serialized COSE_Sign1, reconstructs Sig_structure using
// the exact received protected-header bytes (never re-encoded), and
// verifies the ECDSA signature. Returns the payload on success.
func Verify(serialized []byte, vk *ecdsa.PublicKey, externalAAD []byte) ([]byte, error) {
	var msg Sign1
	if err := codec.Unmarshal(serialized, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCose, err)
	}
	if len(msg.Signature) != 64 {
		return nil, fmt.Errorf("%w: unexpected signature length %d", ErrMalformedCose, len(msg.Signature))
	}

	toBeSigned, err := SigStructureBytes(msg.Protected, externalAAD, msg.Payload)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(toBeSigned)

	r := new(big.Int).SetBytes(msg.Signature[:32])
	s := new(big.Int).SetBytes(msg.Signature[32:])

	if !ecdsa.Verify(vk, digest[:], r, s) {
		return nil, ErrSignatureInvalid
	}

	return msg.Payload, nil
}

// Kid extracts the `kid` unprotected-header value from a serialized
// COSE_Sign1 without verifying the signature, used by the RS to look up the
// expected verification key before calling Verify.
func Kid(serialized []byte) ([]byte, error) {
	var msg Sign1
	if err := codec.Unmarshal(serialized, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCose, err)
	}
	raw, ok := msg.Unprotected[uint64(HeaderKid)]
	if !ok {
		raw, ok = msg.Unprotected[int64(HeaderKid)]
	}
	if !ok {
		raw, ok = msg.Unprotected[HeaderKid]
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing kid", ErrMalformedCose)
	}
	kid, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: kid is not a byte string", ErrMalformedCose)
	}
	return kid, nil
}
