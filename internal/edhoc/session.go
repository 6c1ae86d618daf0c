package edhoc

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/aceoauth/edhoc-gateway/internal/cose"
)

// State is a node in the EDHOC handshake state machine (spec §4.6).
type State int

const (
	StateFresh State = iota
	StateSent1
	StateSent2
	StateSent3
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateSent1:
		return "sent1"
	case StateSent2:
		return "sent2"
	case StateSent3:
		return "sent3"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role distinguishes the two parties of a handshake: Initiator (the
// Client, who sends MSG1 and MSG3) and Responder (the Server, who sends
// MSG2).
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// PeerKeyResolver looks up a peer's long-term ECDSA verification key by the
// KID carried in its inner Sign1, so the responder can authenticate MSG3
// (and the initiator MSG2) without a prior out-of-band exchange.
type PeerKeyResolver func(kid []byte) (*ecdsa.PublicKey, error)

// Session tracks one in-progress or completed EDHOC handshake. It is safe
// for concurrent use; callers typically hold one Session per peer session
// ID pair.
type Session struct {
	mu sync.Mutex

	role  Role
	state State

	signKey  *ecdsa.PrivateKey // this party's long-term signing key
	signKid  []byte
	resolver PeerKeyResolver

	ephPriv *ecdh.PrivateKey
	ephPub  *ecdh.PublicKey

	sessionIDU []byte
	sessionIDV []byte
	nonceU     []byte
	nonceV     []byte

	msg1Raw []byte
	th2     []byte
	th3     []byte
	th4     []byte

	peerKey *ecdsa.PublicKey

	sharedSecret []byte // cached ECDH output, cleared once established

	oscoreSeed OscoreSeed
}

// NewSession constructs a handshake participant. signKey/signKid are this
// party's own long-term ECDSA identity; resolver authenticates the peer.
func NewSession(role Role, signKey *ecdsa.PrivateKey, signKid []byte, resolver PeerKeyResolver) *Session {
	return &Session{
		role:     role,
		state:    StateFresh,
		signKey:  signKey,
		signKid:  signKid,
		resolver: resolver,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OscoreSeed returns the derived OSCORE keying material. Valid only once
// the session has reached StateEstablished.
func (s *Session) OscoreSeed() (OscoreSeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return OscoreSeed{}, ErrStateViolation
	}
	return s.oscoreSeed, nil
}

// SessionIDs returns the U and V session identifiers negotiated during the
// handshake, used as the OSCORE sender/recipient IDs.
func (s *Session) SessionIDs() (u, v []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionIDU, s.sessionIDV
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// --- Initiator side ---------------------------------------------------

// StartInitiator generates the Client's ephemeral key pair and session ID,
// and builds MSG1.
func (s *Session) StartInitiator() (*Message1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleInitiator {
		return nil, fmt.Errorf("%w: not an initiator session", ErrStateViolation)
	}
	if s.state != StateFresh {
		return nil, fmt.Errorf("%w: expected fresh, got %s", ErrStateViolation, s.state)
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	sid, err := randomBytes(SessionIDLen)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(NonceLen)
	if err != nil {
		return nil, err
	}

	gx, err := cose.FromECDHPublicKey(cose.CurveP256, priv.PublicKey())
	if err != nil {
		return nil, err
	}

	msg1, err := EncodeMessage1(sid, nonce, gx)
	if err != nil {
		return nil, err
	}

	s.ephPriv = priv
	s.ephPub = priv.PublicKey()
	s.sessionIDU = sid
	s.nonceU = nonce
	s.msg1Raw = msg1.Raw
	s.state = StateSent1
	return msg1, nil
}

// ProcessMsg2 validates and decrypts MSG2, authenticating the Server via its
// inner Sign1, and derives the keys needed to build MSG3.
func (s *Session) ProcessMsg2(msg2 *Message2, data2 []byte) (*Message3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleInitiator {
		return nil, fmt.Errorf("%w: not an initiator session", ErrStateViolation)
	}
	if s.state != StateSent1 {
		return nil, fmt.Errorf("%w: expected sent1, got %s", ErrStateViolation, s.state)
	}
	if string(msg2.SessionIDU) != string(s.sessionIDU) {
		return nil, fmt.Errorf("%w: session_id_u mismatch", ErrMalformedEdhoc)
	}

	gyPub, err := msg2.GY.ToECDHPublicKey()
	if err != nil {
		return nil, err
	}
	sharedSecret, err := s.ephPriv.ECDH(gyPub)
	if err != nil {
		return nil, err
	}

	th2 := TranscriptHash2(s.msg1Raw, data2)
	mk2, err := DeriveMessageKeys(sharedSecret, th2)
	if err != nil {
		return nil, err
	}

	plaintext, err := cose.Decrypt(msg2.Ciphertext2, mk2.Key, mk2.IV, th2)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}

	peerKid, err := cose.Kid(plaintext)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	peerKey, err := s.resolver(peerKid)
	if err != nil {
		s.state = StateFailed
		return nil, ErrUnknownPeer
	}
	if _, err := cose.Verify(plaintext, peerKey, th2); err != nil {
		s.state = StateFailed
		return nil, err
	}

	th3 := TranscriptHash3(th2, msg2.Ciphertext2)
	mk3, err := DeriveMessageKeys(sharedSecret, th3)
	if err != nil {
		return nil, err
	}

	innerSig, err := cose.Sign(s.signKey, s.signKid, []byte{}, th3)
	if err != nil {
		return nil, err
	}
	ciphertext3, err := cose.Encrypt(mk3.Key, mk3.IV, innerSig, th3, nil)
	if err != nil {
		return nil, err
	}

	msg3, err := EncodeMessage3(msg2.SessionIDV, ciphertext3)
	if err != nil {
		return nil, err
	}

	th4 := TranscriptHash4(th3, ciphertext3)
	seed, err := DeriveOscoreSeed(sharedSecret, th4)
	if err != nil {
		return nil, err
	}

	s.sessionIDV = msg2.SessionIDV
	s.nonceV = msg2.NonceV
	s.peerKey = peerKey
	s.th2, s.th3, s.th4 = th2, th3, th4
	s.oscoreSeed = seed
	s.state = StateEstablished
	s.ephPriv = nil // ephemeral secret no longer needed once established
	return msg3, nil
}

// --- Responder side -----------------------------------------------------

// ProcessMsg1 validates an incoming MSG1 and prepares responder state. It
// does not yet produce MSG2 — callers build it with RespondMsg2 after
// choosing session_id_v.
func (s *Session) ProcessMsg1(msg1 *Message1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleResponder {
		return fmt.Errorf("%w: not a responder session", ErrStateViolation)
	}
	if s.state != StateFresh {
		return fmt.Errorf("%w: expected fresh, got %s", ErrStateViolation, s.state)
	}
	s.sessionIDU = msg1.SessionIDU
	s.nonceU = msg1.NonceU
	s.msg1Raw = msg1.Raw
	s.state = StateSent1
	return nil
}

// RespondMsg2 generates the Server's ephemeral key pair, picks session_id_v,
// and builds + signs + encrypts MSG2 in response to a processed MSG1.
// sessionIDV must be distinct from sessionIDU; a collision is reported via
// ErrSessionIDCollision so the caller can reroll.
func (s *Session) RespondMsg2(gx cose.Key, sessionIDV []byte) (*Message2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleResponder {
		return nil, fmt.Errorf("%w: not a responder session", ErrStateViolation)
	}
	if s.state != StateSent1 {
		return nil, fmt.Errorf("%w: expected sent1, got %s", ErrStateViolation, s.state)
	}
	if string(sessionIDV) == string(s.sessionIDU) {
		return nil, ErrSessionIDCollision
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	gxPub, err := gx.ToECDHPublicKey()
	if err != nil {
		return nil, err
	}
	sharedSecret, err := priv.ECDH(gxPub)
	if err != nil {
		return nil, err
	}

	nonceV, err := randomBytes(NonceLen)
	if err != nil {
		return nil, err
	}
	gy, err := cose.FromECDHPublicKey(cose.CurveP256, priv.PublicKey())
	if err != nil {
		return nil, err
	}

	_, data2, err := EncodeMessage2(s.sessionIDU, sessionIDV, nonceV, gy, nil)
	if err != nil {
		return nil, err
	}
	th2 := TranscriptHash2(s.msg1Raw, data2)
	mk2, err := DeriveMessageKeys(sharedSecret, th2)
	if err != nil {
		return nil, err
	}

	innerSig, err := cose.Sign(s.signKey, s.signKid, []byte{}, th2)
	if err != nil {
		return nil, err
	}
	ciphertext2, err := cose.Encrypt(mk2.Key, mk2.IV, innerSig, th2, nil)
	if err != nil {
		return nil, err
	}

	msg2, _, err := EncodeMessage2(s.sessionIDU, sessionIDV, nonceV, gy, ciphertext2)
	if err != nil {
		return nil, err
	}

	th3 := TranscriptHash3(th2, ciphertext2)

	s.ephPriv = priv
	s.ephPub = priv.PublicKey()
	s.sessionIDV = sessionIDV
	s.nonceV = nonceV
	s.th2 = th2
	s.th3 = th3
	s.sharedSecret = sharedSecret
	s.state = StateSent2
	return msg2, nil
}

// ProcessMsg3 validates the Client's MSG3, authenticating it via its inner
// Sign1, and completes the handshake by deriving the OSCORE seed.
func (s *Session) ProcessMsg3(msg3 *Message3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleResponder {
		return fmt.Errorf("%w: not a responder session", ErrStateViolation)
	}
	if s.state != StateSent2 {
		return fmt.Errorf("%w: expected sent2, got %s", ErrStateViolation, s.state)
	}
	if string(msg3.SessionIDV) != string(s.sessionIDV) {
		return fmt.Errorf("%w: session_id_v mismatch", ErrMalformedEdhoc)
	}

	mk3, err := DeriveMessageKeys(s.sharedSecret, s.th3)
	if err != nil {
		return err
	}
	plaintext, err := cose.Decrypt(msg3.Ciphertext3, mk3.Key, mk3.IV, s.th3)
	if err != nil {
		s.state = StateFailed
		return err
	}

	peerKid, err := cose.Kid(plaintext)
	if err != nil {
		s.state = StateFailed
		return err
	}
	peerKey, err := s.resolver(peerKid)
	if err != nil {
		s.state = StateFailed
		return ErrUnknownPeer
	}
	if _, err := cose.Verify(plaintext, peerKey, s.th3); err != nil {
		s.state = StateFailed
		return err
	}

	th4 := TranscriptHash4(s.th3, msg3.Ciphertext3)
	seed, err := DeriveOscoreSeed(s.sharedSecret, th4)
	if err != nil {
		return err
	}

	s.peerKey = peerKey
	s.th4 = th4
	s.oscoreSeed = seed
	s.state = StateEstablished
	s.ephPriv = nil
	s.sharedSecret = nil
	return nil
}
