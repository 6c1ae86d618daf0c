// Package token implements CWT (CBOR Web Token) access tokens: a
// COSE-Sign1–wrapped CBOR claims map carrying a bound proof-of-possession
// key, issued by the AS and verified by the RS.
package token

import (
	"errors"
	"time"

	"github.com/aceoauth/edhoc-gateway/internal/cose"
)

// CWT claim labels, IANA "CBOR Web Token Claims" registry.
const (
	ClaimIss  = 1
	ClaimAud  = 3
	ClaimExp  = 4
	ClaimIat  = 6
	ClaimCti  = 7
	ClaimCnf  = 8
	ClaimScope = 9

	// cnfCoseKey is the IANA "CWT Confirmation Methods" label for an
	// embedded COSE_Key under the cnf claim.
	cnfCoseKey = 1
)

var (
	// ErrMissingClaim is returned when a required claim is absent.
	ErrMissingClaim = errors.New("token: missing required claim")

	// ErrTokenExpired is returned by Verify when exp has passed.
	ErrTokenExpired = errors.New("token: expired")
)

// Claims is the decoded claims map of an access token.
type Claims struct {
	Issuer       string
	Audience     string
	Scope        string
	IssuedAt     time.Time
	Expiry       time.Time
	CTI          []byte
	ConfirmedKey cose.Key
}

// wireClaims is the CBOR-integer-labeled map shape placed on the wire. The
// cnf claim's COSE_Key sub-map is kept as raw bytes (keyed by the
// CWT Confirmation Methods label) so cose.Key owns its own encoding.
type wireClaims struct {
	Iss   string         `cbor:"1,keyasint"`
	Aud   string         `cbor:"3,keyasint"`
	Exp   int64          `cbor:"4,keyasint"`
	Iat   int64          `cbor:"6,keyasint"`
	Cti   []byte         `cbor:"7,keyasint"`
	Cnf   map[int][]byte `cbor:"8,keyasint"`
	Scope string         `cbor:"9,keyasint"`
}
