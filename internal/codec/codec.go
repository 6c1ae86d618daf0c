// Package codec provides the single canonical CBOR encode/decode mode used
// throughout the gateway, so every wire structure that feeds a hash or a
// signature gets deterministic bytes.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// EncMode is the canonical (RFC 8949 §4.2.1 / COSE §14) CBOR encoder:
// smallest integer form, bytewise-lexicographic map key order, definite
// lengths only.
var EncMode = mustEncMode()

// DecMode is liberal: it accepts any well-formed CBOR, since determinism is
// only required of the bytes we produce or that feed a transcript hash, not
// of everything we're willing to parse.
var DecMode = mustDecMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err) // static options, can only fail at build-time misconfiguration
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// Marshal encodes v using the canonical encoding mode.
func Marshal(v interface{}) ([]byte, error) {
	return EncMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return DecMode.Unmarshal(data, v)
}
