package token

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
)

// AccessToken is an unsigned, in-memory access token being assembled by
// the AS before it is signed and exported.
type AccessToken struct {
	Claims Claims
}

// New builds an AccessToken with a fresh CTI and IAT/EXP computed from now
// and the given lifetime. The CTI is a UUIDv4, the same per-identity
// token teacher's stores key identities by (database.go's uuid.UUID
// primary keys), emitted here as raw bytes per DESIGN.md's resolution of
// Open Question (iii).
func New(issuer, audience, scope string, lifetime time.Duration) (*AccessToken, error) {
	cti, err := uuid.New().MarshalBinary()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &AccessToken{Claims: Claims{
		Issuer:   issuer,
		Audience: audience,
		Scope:    scope,
		IssuedAt: now,
		Expiry:   now.Add(lifetime),
		CTI:      cti,
	}}, nil
}

// Bind attaches the proof-of-possession key to the token's cnf claim.
func (t *AccessToken) Bind(popKey cose.Key) {
	t.Claims.ConfirmedKey = popKey
}

// SignAndExport serializes the claims and wraps them in a COSE-Sign1 signed
// by the AS's long-term key, per spec §4.7.
func (t *AccessToken) SignAndExport(asKey *ecdsa.PrivateKey, asKid []byte) ([]byte, error) {
	payload, err := marshalClaims(t.Claims)
	if err != nil {
		return nil, err
	}
	return cose.Sign(asKey, asKid, payload, nil)
}

func marshalClaims(c Claims) ([]byte, error) {
	cnfKeyBytes, err := c.ConfirmedKey.Marshal(codec.Marshal)
	if err != nil {
		return nil, err
	}
	w := wireClaims{
		Iss:   c.Issuer,
		Aud:   c.Audience,
		Exp:   c.Expiry.Unix(),
		Iat:   c.IssuedAt.Unix(),
		Cti:   c.CTI,
		Cnf:   map[int][]byte{cnfCoseKey: cnfKeyBytes},
		Scope: c.Scope,
	}
	return codec.Marshal(w)
}

func unmarshalClaims(data []byte) (Claims, error) {
	var w wireClaims
	if err := codec.Unmarshal(data, &w); err != nil {
		return Claims{}, fmt.Errorf("token: malformed claims: %w", err)
	}
	cnfRaw, ok := w.Cnf[cnfCoseKey]
	if !ok {
		return Claims{}, fmt.Errorf("%w: cnf/COSE_Key", ErrMissingClaim)
	}
	popKey, err := cose.ParseKey(cnfRaw, codec.Unmarshal)
	if err != nil {
		return Claims{}, err
	}
	return Claims{
		Issuer:       w.Iss,
		Audience:     w.Aud,
		Scope:        w.Scope,
		IssuedAt:     time.Unix(w.Iat, 0).UTC(),
		Expiry:       time.Unix(w.Exp, 0).UTC(),
		CTI:          w.Cti,
		ConfirmedKey: popKey,
	}, nil
}

// Parse verifies the COSE-Sign1 wrapper under the AS's verification key and
// decodes the claims map, without checking expiry.
func Parse(serialized []byte, asVerifyKey *ecdsa.PublicKey) (Claims, error) {
	payload, err := cose.Verify(serialized, asVerifyKey, nil)
	if err != nil {
		return Claims{}, err
	}
	return unmarshalClaims(payload)
}

// Verify parses the token and additionally rejects it if exp has passed as
// of now.
func Verify(serialized []byte, asVerifyKey *ecdsa.PublicKey, now time.Time) (Claims, error) {
	claims, err := Parse(serialized, asVerifyKey)
	if err != nil {
		return Claims{}, err
	}
	if !now.Before(claims.Expiry) {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}
