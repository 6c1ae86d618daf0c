package cose

import "errors"

// Error taxonomy per the error-handling design: structural parse failures
// and cryptographic verification failures are distinct, never recovered
// locally by this package.
var (
	// ErrMalformedCose is returned when a COSE structure does not decode
	// into the expected shape (wrong array length, wrong element types).
	ErrMalformedCose = errors.New("cose: malformed structure")

	// ErrSignatureInvalid is returned by Verify when the signature does
	// not match the reconstructed Sig_structure.
	ErrSignatureInvalid = errors.New("cose: signature invalid")

	// ErrDecryptionFailed is returned by Decrypt on AEAD tag mismatch.
	ErrDecryptionFailed = errors.New("cose: decryption failed")

	// ErrEncodingError is returned when signing/encryption input does not
	// match the configured algorithm (e.g. wrong curve).
	ErrEncodingError = errors.New("cose: encoding error")
)
