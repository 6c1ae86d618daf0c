// Package oscore implements the Object Security for Constrained RESTful
// Environments symmetric channel derived at the end of a successful EDHOC
// exchange: per-direction AEAD keys and a common IV, combined with a
// monotonic sender sequence number into a fresh nonce on every message.
package oscore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
)

// MasterSaltLength fixes the OSCORE master_salt at 8 bytes (see DESIGN.md
// Open Question (i)); MasterSecretLength is the AES-CCM-16-64-128 key size.
const (
	MasterSaltLength   = 8
	MasterSecretLength = 16

	senderKeyLength   = 16
	recipientKeyLength = 16
	commonIVLength    = 13

	oscoreAlgorithmID = cose.AlgorithmAESCCM1664128
)

var (
	// ErrReplay names a Partial IV that was already consumed from this
	// peer. Context does not track consumed Partial IVs, and Decrypt never
	// returns this error.
	ErrReplay = errors.New("oscore: replayed partial iv")

	// ErrSequenceExhausted signals that the monotonic sender sequence
	// counter would overflow, at which point the context must be retired
	// rather than reused (nonce reuse under AES-CCM is catastrophic).
	ErrSequenceExhausted = errors.New("oscore: sender sequence number exhausted")
)

// infoEntry is the CBOR array fed into HKDF-Expand for each derived key or
// IV, per RFC 8613 §3.2: [id, id_context, alg, type, L]. IDContext is left
// nil (never []byte{}) when no id_context is in use: fxamacker/cbor encodes
// a nil slice as the CBOR simple value null (0xf6), which is what §3.2.1
// requires there — an empty byte string (0x40) is a different info input
// and silently derives the wrong keys.
type infoEntry struct {
	_         struct{} `cbor:",toarray"`
	ID        []byte
	IDContext []byte
	Algorithm int
	Type      string
	Length    int
}

func deriveItem(masterSecret, masterSalt, id []byte, typ string, length int) ([]byte, error) {
	info, err := codec.Marshal(infoEntry{ID: id, IDContext: nil, Algorithm: oscoreAlgorithmID, Type: typ, Length: length})
	if err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, masterSecret, masterSalt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Context is one endpoint's view of an OSCORE security context: it knows
// its own sender_id/sender_key and its peer's recipient_id/recipient_key,
// plus the shared common_iv, and owns a strictly increasing sender sequence
// number.
type Context struct {
	SenderID   []byte
	RecipientID []byte

	senderKey    []byte
	recipientKey []byte
	commonIV     []byte

	senderSeq uint64 // accessed only via atomic
}

// Derive builds one endpoint's Context; the two ends of an EDHOC exchange
// each call it, with the IDs swapped, to get matching Contexts from their shared
// master_secret/master_salt and (local,peer) session IDs (spec §4.7: the
// Sender-ID/Recipient-ID pair is the two EDHOC session-IDs swapped).
func Derive(masterSecret, masterSalt, localID, peerID []byte) (*Context, error) {
	if len(masterSecret) != MasterSecretLength {
		return nil, fmt.Errorf("oscore: master_secret must be %d bytes, got %d", MasterSecretLength, len(masterSecret))
	}
	if len(masterSalt) != MasterSaltLength {
		return nil, fmt.Errorf("oscore: master_salt must be %d bytes, got %d", MasterSaltLength, len(masterSalt))
	}

	senderKey, err := deriveItem(masterSecret, masterSalt, localID, "Key", senderKeyLength)
	if err != nil {
		return nil, err
	}
	recipientKey, err := deriveItem(masterSecret, masterSalt, peerID, "Key", recipientKeyLength)
	if err != nil {
		return nil, err
	}
	commonIV, err := deriveItem(masterSecret, masterSalt, []byte{}, "IV", commonIVLength)
	if err != nil {
		return nil, err
	}

	return &Context{
		SenderID:     append([]byte(nil), localID...),
		RecipientID:  append([]byte(nil), peerID...),
		senderKey:    senderKey,
		recipientKey: recipientKey,
		commonIV:     commonIV,
	}, nil
}

// SenderKey and RecipientKey expose the derived per-direction AEAD keys,
// primarily for cross-checking against literal test vectors.
func (c *Context) SenderKey() []byte    { return append([]byte(nil), c.senderKey...) }
func (c *Context) RecipientKey() []byte { return append([]byte(nil), c.recipientKey...) }
func (c *Context) CommonIV() []byte     { return append([]byte(nil), c.commonIV...) }

// nonce builds the AES-CCM nonce for a given (id, seq) pair per RFC 8613
// §5.2: byte 0 is the length of id (the "flag byte"), bytes [1, n-5) hold
// id right-aligned and zero-padded on the left, and the final 5 bytes hold
// seq big-endian; the whole n-byte string is then XORed with the common IV.
func nonce(commonIV, id []byte, seq uint64) []byte {
	n := len(commonIV)
	piece := make([]byte, n)
	piece[0] = byte(len(id))

	idField := piece[1 : n-5]
	idOffset := len(idField) - len(id)
	copy(idField[idOffset:], id)

	seqBytes := piece[n-5:]
	seqBytes[0] = byte(seq >> 32)
	seqBytes[1] = byte(seq >> 24)
	seqBytes[2] = byte(seq >> 16)
	seqBytes[3] = byte(seq >> 8)
	seqBytes[4] = byte(seq)

	out := make([]byte, n)
	for i := range out {
		out[i] = commonIV[i] ^ piece[i]
	}
	return out
}

// Encrypt seals payload under the sender key, consuming the next sender
// sequence number as the Partial IV, and returns a serialized COSE_Encrypt0
// carrying that Partial IV in its unprotected header.
func (c *Context) Encrypt(payload, externalAAD []byte) ([]byte, error) {
	seq := atomic.AddUint64(&c.senderSeq, 1) - 1
	if seq>>40 != 0 {
		return nil, ErrSequenceExhausted
	}
	iv := nonce(c.commonIV, c.SenderID, seq)
	piv := encodePartialIV(seq)
	return cose.Encrypt(c.senderKey, iv, payload, externalAAD, map[interface{}]interface{}{
		cose.HeaderPartialIV: piv,
	})
}

// Decrypt opens a serialized COSE_Encrypt0 received from the peer, whose
// Partial IV (carried in its unprotected header) selects the nonce.
func (c *Context) Decrypt(serialized, externalAAD []byte) ([]byte, error) {
	piv, err := cose.ParsePartialIV(serialized)
	if err != nil {
		return nil, err
	}
	seq := decodePartialIV(piv)
	iv := nonce(c.commonIV, c.RecipientID, seq)
	return cose.Decrypt(serialized, c.recipientKey, iv, externalAAD)
}

func encodePartialIV(seq uint64) []byte {
	b := []byte{byte(seq >> 32), byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq)}
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

func decodePartialIV(b []byte) uint64 {
	var seq uint64
	for _, x := range b {
		seq = seq<<8 | uint64(x)
	}
	return seq
}
