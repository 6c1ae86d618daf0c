package rs

import "errors"

var (
	// ErrNotExist is returned by PeerStore lookups/removals for a KID that
	// has not been registered.
	ErrNotExist = errors.New("rs: peer does not exist")

	// ErrUnknownKid is returned when a request references a KID the RS has
	// no peer entry for.
	ErrUnknownKid = errors.New("rs: unknown kid")

	// ErrPolicyRejection is returned when a token's scope does not grant
	// the capability a handler requires.
	ErrPolicyRejection = errors.New("rs: scope or audience mismatch")

	// ErrNoSession is returned when an EDHOC MSG3 references a session ID
	// the RS has no in-flight responder state for.
	ErrNoSession = errors.New("rs: no in-flight session for this id")
)
