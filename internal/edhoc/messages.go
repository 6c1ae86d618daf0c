// Package edhoc implements the three-message EDHOC handshake (ephemeral
// ECDH combined with signed, encrypted transcripts) that mutually
// authenticates Client and Server and produces a shared OSCORE keying
// context, following the wire shapes in original_source/lib/edhoc and the
// struct/array CBOR idiom used throughout this gateway's COSE layer.
package edhoc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
)

// Message type tags, the first element of every top-level EDHOC CBOR array.
const (
	TagError = 0
	TagMsg1  = 1
	TagMsg2  = 2
	TagMsg3  = 3

	// SessionIDLen and NonceLen are fixed by spec §3.
	SessionIDLen = 2
	NonceLen     = 8
)

// --- wire shapes -----------------------------------------------------------

type msg1Wire struct {
	_          struct{} `cbor:",toarray"`
	Tag        int
	SessionIDU []byte
	NonceU     []byte
	GX         cbor.RawMessage
}

type msg2LeadingWire struct {
	_          struct{} `cbor:",toarray"`
	Tag        int
	SessionIDU []byte
	SessionIDV []byte
	NonceV     []byte
	GY         cbor.RawMessage
}

type msg2Wire struct {
	_           struct{} `cbor:",toarray"`
	Tag         int
	SessionIDU  []byte
	SessionIDV  []byte
	NonceV      []byte
	GY          cbor.RawMessage
	Ciphertext2 []byte
}

type msg3Wire struct {
	_           struct{} `cbor:",toarray"`
	Tag         int
	SessionIDV  []byte
	Ciphertext3 []byte
}

type errorWire struct {
	_          struct{} `cbor:",toarray"`
	Tag        int
	SessionID  []byte
	Diagnostic string
}

// --- decoded message types ---------------------------------------------

// Message1 is EDHOC MSG1 = [1, session_id_u, nonce_u, G_X].
type Message1 struct {
	Raw        []byte // exact wire bytes, as sent or received; never re-encoded
	SessionIDU []byte
	NonceU     []byte
	GX         cose.Key
}

// EncodeMessage1 builds and serializes MSG1.
func EncodeMessage1(sessionIDU, nonceU []byte, gx cose.Key) (*Message1, error) {
	gxRaw, err := gx.Marshal(codec.Marshal)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Marshal(msg1Wire{Tag: TagMsg1, SessionIDU: sessionIDU, NonceU: nonceU, GX: gxRaw})
	if err != nil {
		return nil, err
	}
	return &Message1{Raw: raw, SessionIDU: sessionIDU, NonceU: nonceU, GX: gx}, nil
}

// ParseMessage1 decodes and validates the shape of a received MSG1.
func ParseMessage1(raw []byte) (*Message1, error) {
	var w msg1Wire
	if err := codec.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEdhoc, err)
	}
	if w.Tag != TagMsg1 {
		return nil, fmt.Errorf("%w: expected tag %d, got %d", ErrMalformedEdhoc, TagMsg1, w.Tag)
	}
	if len(w.SessionIDU) != SessionIDLen || len(w.NonceU) != NonceLen {
		return nil, fmt.Errorf("%w: bad MSG1 field lengths", ErrMalformedEdhoc)
	}
	gx, err := cose.ParseKey(w.GX, codec.Unmarshal)
	if err != nil {
		return nil, err
	}
	return &Message1{Raw: append([]byte(nil), raw...), SessionIDU: w.SessionIDU, NonceU: w.NonceU, GX: gx}, nil
}

// Message2 is EDHOC MSG2 = [2, session_id_u, session_id_v, nonce_v, G_Y, ciphertext_2].
type Message2 struct {
	Raw         []byte
	SessionIDU  []byte
	SessionIDV  []byte
	NonceV      []byte
	GY          cose.Key
	gyRaw       cbor.RawMessage
	Ciphertext2 []byte
}

// EncodeMessage2 builds and serializes MSG2, and returns data_2 — the
// canonical bytes of the leading fields (everything but ciphertext_2) —
// which the caller needs to compute TH_2.
func EncodeMessage2(sessionIDU, sessionIDV, nonceV []byte, gy cose.Key, ciphertext2 []byte) (msg *Message2, data2 []byte, err error) {
	gyRaw, err := gy.Marshal(codec.Marshal)
	if err != nil {
		return nil, nil, err
	}
	data2, err = codec.Marshal(msg2LeadingWire{
		Tag: TagMsg2, SessionIDU: sessionIDU, SessionIDV: sessionIDV, NonceV: nonceV, GY: gyRaw,
	})
	if err != nil {
		return nil, nil, err
	}
	raw, err := codec.Marshal(msg2Wire{
		Tag: TagMsg2, SessionIDU: sessionIDU, SessionIDV: sessionIDV, NonceV: nonceV, GY: gyRaw,
		Ciphertext2: ciphertext2,
	})
	if err != nil {
		return nil, nil, err
	}
	return &Message2{
		Raw: raw, SessionIDU: sessionIDU, SessionIDV: sessionIDV, NonceV: nonceV,
		GY: gy, gyRaw: gyRaw, Ciphertext2: ciphertext2,
	}, data2, nil
}

// ParseMessage2 decodes MSG2 and reconstructs data_2 from the exact
// received bytes of its leading fields (no item is re-encoded: the raw
// bytes of the first five array items are copied verbatim under a
// five-element array header).
func ParseMessage2(raw []byte) (msg *Message2, data2 []byte, err error) {
	var w msg2Wire
	if err := codec.Unmarshal(raw, &w); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEdhoc, err)
	}
	if w.Tag != TagMsg2 {
		return nil, nil, fmt.Errorf("%w: expected tag %d, got %d", ErrMalformedEdhoc, TagMsg2, w.Tag)
	}
	if len(w.SessionIDU) != SessionIDLen || len(w.SessionIDV) != SessionIDLen || len(w.NonceV) != NonceLen {
		return nil, nil, fmt.Errorf("%w: bad MSG2 field lengths", ErrMalformedEdhoc)
	}
	gy, err := cose.ParseKey(w.GY, codec.Unmarshal)
	if err != nil {
		return nil, nil, err
	}
	var items []cbor.RawMessage
	if err := codec.Unmarshal(raw, &items); err != nil || len(items) != 6 {
		return nil, nil, fmt.Errorf("%w: bad MSG2 array", ErrMalformedEdhoc)
	}
	data2, err = codec.Marshal(items[:5])
	if err != nil {
		return nil, nil, err
	}
	msg = &Message2{
		Raw: append([]byte(nil), raw...), SessionIDU: w.SessionIDU, SessionIDV: w.SessionIDV,
		NonceV: w.NonceV, GY: gy, gyRaw: w.GY, Ciphertext2: w.Ciphertext2,
	}
	return msg, data2, nil
}

// Message3 is EDHOC MSG3 = [3, session_id_v, ciphertext_3].
type Message3 struct {
	Raw         []byte
	SessionIDV  []byte
	Ciphertext3 []byte
}

// EncodeMessage3 builds and serializes MSG3.
func EncodeMessage3(sessionIDV, ciphertext3 []byte) (*Message3, error) {
	raw, err := codec.Marshal(msg3Wire{Tag: TagMsg3, SessionIDV: sessionIDV, Ciphertext3: ciphertext3})
	if err != nil {
		return nil, err
	}
	return &Message3{Raw: raw, SessionIDV: sessionIDV, Ciphertext3: ciphertext3}, nil
}

// ParseMessage3 decodes and validates the shape of a received MSG3.
func ParseMessage3(raw []byte) (*Message3, error) {
	var w msg3Wire
	if err := codec.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEdhoc, err)
	}
	if w.Tag != TagMsg3 {
		return nil, fmt.Errorf("%w: expected tag %d, got %d", ErrMalformedEdhoc, TagMsg3, w.Tag)
	}
	if len(w.SessionIDV) != SessionIDLen {
		return nil, fmt.Errorf("%w: bad MSG3 field lengths", ErrMalformedEdhoc)
	}
	return &Message3{Raw: append([]byte(nil), raw...), SessionIDV: w.SessionIDV, Ciphertext3: w.Ciphertext3}, nil
}

// EncodeError builds and serializes an EDHOC-Error message (tag 0).
func EncodeError(sessionID []byte, diagnostic string) ([]byte, error) {
	return codec.Marshal(errorWire{Tag: TagError, SessionID: sessionID, Diagnostic: diagnostic})
}

// ParseError decodes an EDHOC-Error message.
func ParseError(raw []byte) (sessionID []byte, diagnostic string, err error) {
	var w errorWire
	if err := codec.Unmarshal(raw, &w); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedEdhoc, err)
	}
	if w.Tag != TagError {
		return nil, "", fmt.Errorf("%w: expected tag %d, got %d", ErrMalformedEdhoc, TagError, w.Tag)
	}
	return w.SessionID, w.Diagnostic, nil
}

// PeekTag decodes only the first element of a received EDHOC message to
// decide how to dispatch it, without assuming any particular message shape.
func PeekTag(raw []byte) (int, error) {
	var items []cbor.RawMessage
	if err := codec.Unmarshal(raw, &items); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedEdhoc, err)
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("%w: empty message", ErrMalformedEdhoc)
	}
	var tag int
	if err := codec.Unmarshal(items[0], &tag); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedEdhoc, err)
	}
	return tag, nil
}
