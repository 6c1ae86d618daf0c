package cose

import (
	"fmt"

	"github.com/aceoauth/edhoc-gateway/internal/ccm"
	"github.com/aceoauth/edhoc-gateway/internal/codec"
)

// COSE header label for the IV (RFC 8152 §3.1) and the AES-CCM-16-64-128
// algorithm identifier (IANA COSE Algorithms registry, label 10).
const (
	HeaderIV        = 5
	HeaderPartialIV = 6

	AlgorithmAESCCM1664128 = 10

	encrypt0Context = "Encrypt0"
)

// Encrypt0 is the COSE_Encrypt0 structure: [protected, unprotected, ciphertext].
// https://cose-wg.github.io/cose-spec/#rfc.section.5.2
type Encrypt0 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Ciphertext  []byte
}

// encStructure is the three-element array used as AEAD associated data.
type encStructure struct {
	_               struct{} `cbor:",toarray"`
	Context         string
	ProtectedHeader []byte
	External        []byte
}

// protectedAESCCM is the canonical protected header for AES-CCM-16-64-128.
var protectedAESCCM = mustMarshalProtectedAESCCM()

func mustMarshalProtectedAESCCM() []byte {
	b, err := codec.Marshal(map[int]int{HeaderAlg: AlgorithmAESCCM1664128})
	if err != nil {
		panic(err)
	}
	return b
}

// EncStructureBytes builds and canonically encodes the Enc_structure for the
// given protected header and external AAD — the associated data passed into
// the AEAD.
func EncStructureBytes(protected, externalAAD []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	return codec.Marshal(encStructure{
		Context:         encrypt0Context,
		ProtectedHeader: protected,
		External:        externalAAD,
	})
}

// Encrypt seals plaintext under key/iv with AES-CCM-16-64-128, using the
// canonical Enc_structure as associated data, and serializes the result as
// a COSE_Encrypt0 array. unprotected carries any additional unprotected
// header fields (e.g. a Partial IV) the caller wants attached; it may be nil.
func Encrypt(key, iv, plaintext, externalAAD []byte, unprotected map[interface{}]interface{}) ([]byte, error) {
	aad, err := EncStructureBytes(protectedAESCCM, externalAAD)
	if err != nil {
		return nil, err
	}

	aead, err := ccm.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingError, err)
	}

	ciphertext, err := aead.Seal(iv, plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingError, err)
	}

	if unprotected == nil {
		unprotected = map[interface{}]interface{}{}
	}

	msg := Encrypt0{
		Protected:   protectedAESCCM,
		Unprotected: unprotected,
		Ciphertext:  ciphertext,
	}

	return codec.Marshal(msg)
}

// Decrypt parses a serialized COSE_Encrypt0, reconstructs Enc_structure
// using the exact received protected-header bytes, and opens the AEAD under
// key/iv, returning the plaintext. The caller is responsible for supplying
// the correct iv (e.g. derived from a Partial IV the unprotected header
// carries), since IV derivation is session/context-specific.
func Decrypt(serialized, key, iv, externalAAD []byte) ([]byte, error) {
	var msg Encrypt0
	if err := codec.Unmarshal(serialized, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCose, err)
	}

	aad, err := EncStructureBytes(msg.Protected, externalAAD)
	if err != nil {
		return nil, err
	}

	aead, err := ccm.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingError, err)
	}

	plaintext, err := aead.Open(iv, msg.Ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// ParsePartialIV extracts the Partial IV from the unprotected header of a
// serialized COSE_Encrypt0 without decrypting it, used by an OSCORE
// recipient to reconstruct the nonce before calling Decrypt.
func ParsePartialIV(serialized []byte) ([]byte, error) {
	var msg Encrypt0
	if err := codec.Unmarshal(serialized, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCose, err)
	}
	raw, ok := msg.Unprotected[uint64(HeaderPartialIV)]
	if !ok {
		raw, ok = msg.Unprotected[int64(HeaderPartialIV)]
	}
	if !ok {
		raw, ok = msg.Unprotected[HeaderPartialIV]
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing partial IV", ErrMalformedCose)
	}
	piv, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: partial IV is not a byte string", ErrMalformedCose)
	}
	return piv, nil
}
