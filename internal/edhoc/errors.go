package edhoc

import "errors"

var (
	// ErrMalformedEdhoc is returned on structural parse failures of an
	// EDHOC message (wrong tag, wrong array shape).
	ErrMalformedEdhoc = errors.New("edhoc: malformed message")

	// ErrStateViolation is returned when a message is received in a state
	// that does not accept it (§4.6 state machine).
	ErrStateViolation = errors.New("edhoc: message received in wrong state")

	// ErrUnknownPeer is returned when the responder cannot resolve the
	// initiator's long-term verification key by the KID carried in MSG3.
	ErrUnknownPeer = errors.New("edhoc: unknown peer KID")

	// ErrPeerError names the receipt of an EDHOC-Error message (tag 0)
	// from the peer. No function in this package returns it: the Session
	// methods take already-parsed MSG1/MSG2/MSG3 values and never see a
	// tag-0 message.
	ErrPeerError = errors.New("edhoc: peer reported error")

	// ErrSessionIDCollision is returned by a responder that chooses to
	// reject a colliding locally-assigned session ID (§4.6 tie-break).
	ErrSessionIDCollision = errors.New("edhoc: session id collision")
)
