package edhoc

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
)

// Key schedule label strings, used verbatim as the AlgorithmID field of the
// COSE_KDF_Context structure fed into HKDF-Expand (spec §4.5).
const (
	AESCCMAlgorithmID    = "AES-CCM-16-64-128"
	ivGenerationLabel    = "IV-GENERATION"
	oscoreSecretLabel    = "OSCORE Master Secret"
	oscoreSaltLabel      = "OSCORE Master Salt"
	messageKeyLen        = 16
	messageIVLen         = 13
	oscoreMasterKeyLen   = 16
	oscoreMasterSaltLen  = 8 // see DESIGN.md Open Question (i)
)

// kdfContext is COSE_KDF_Context as defined by RFC 8152 §11.2, specialized
// to the single-entity form EDHOC's key schedule uses: no PartyU/PartyV
// identifiers, only SuppPubInfo carrying the derived key length and the
// running transcript hash as "other".
type kdfContext struct {
	_          struct{} `cbor:",toarray"`
	AlgorithmID string
	PartyUInfo []interface{} // [nil, nil, nil]
	PartyVInfo []interface{} // [nil, nil, nil]
	SuppPubInfo suppPubInfo
}

type suppPubInfo struct {
	_          struct{} `cbor:",toarray"`
	KeyDataLen int
	Protected  []byte
	Other      []byte
}

func emptyParty() []interface{} {
	return []interface{}{nil, nil, nil}
}

// cborKDFContext canonically encodes the COSE_KDF_Context for the given
// algorithm label, output key length, and transcript hash. Matching
// original_source/lib/edhoc/util.py's cose_kdf_context, the length field
// carries the byte count directly rather than a bit count.
func cborKDFContext(algorithmID string, keyLenBytes int, th []byte) ([]byte, error) {
	ctx := kdfContext{
		AlgorithmID: algorithmID,
		PartyUInfo:  emptyParty(),
		PartyVInfo:  emptyParty(),
		SuppPubInfo: suppPubInfo{
			KeyDataLen: keyLenBytes,
			Protected:  []byte{},
			Other:      th,
		},
	}
	return codec.Marshal(ctx)
}

// expand runs HKDF-SHA-256 with no salt over prk (the ECDH shared secret,
// used directly as the HKDF PRK per spec §4.5) and the given info, producing
// outLen bytes.
func expand(sharedSecret, info []byte, outLen int) ([]byte, error) {
	r := hkdf.Expand(sha256.New, sharedSecret, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TranscriptHash2 computes TH_2 = SHA-256(MSG1.Raw || data_2).
func TranscriptHash2(msg1Raw, data2 []byte) []byte {
	h := sha256.New()
	h.Write(msg1Raw)
	h.Write(data2)
	return h.Sum(nil)
}

// TranscriptHash3 computes TH_3 = SHA-256(TH_2 || ciphertext_2).
func TranscriptHash3(th2, ciphertext2 []byte) []byte {
	h := sha256.New()
	h.Write(th2)
	h.Write(ciphertext2)
	return h.Sum(nil)
}

// TranscriptHash4 computes TH_4 = SHA-256(TH_3 || ciphertext_3).
func TranscriptHash4(th3, ciphertext3 []byte) []byte {
	h := sha256.New()
	h.Write(th3)
	h.Write(ciphertext3)
	return h.Sum(nil)
}

// MessageKeys holds the symmetric key material derived for one of the
// EDHOC-protected inner messages (MSG2 or MSG3's ciphertext envelope).
type MessageKeys struct {
	Key []byte
	IV  []byte
}

// DeriveMessageKeys derives (K, IV) for an EDHOC inner COSE_Encrypt0 envelope
// from the ECDH shared secret and the running transcript hash, per spec §4.5.
func DeriveMessageKeys(sharedSecret, transcriptHash []byte) (MessageKeys, error) {
	keyCtx, err := cborKDFContext(AESCCMAlgorithmID, messageKeyLen, transcriptHash)
	if err != nil {
		return MessageKeys{}, err
	}
	key, err := expand(sharedSecret, keyCtx, messageKeyLen)
	if err != nil {
		return MessageKeys{}, err
	}

	ivCtx, err := cborKDFContext(ivGenerationLabel, messageIVLen, transcriptHash)
	if err != nil {
		return MessageKeys{}, err
	}
	iv, err := expand(sharedSecret, ivCtx, messageIVLen)
	if err != nil {
		return MessageKeys{}, err
	}

	return MessageKeys{Key: key, IV: iv}, nil
}

// OscoreSeed holds the OSCORE master_secret/master_salt derived at the end
// of a successful EDHOC exchange (spec §4.7, §5).
type OscoreSeed struct {
	MasterSecret []byte
	MasterSalt   []byte
}

// DeriveOscoreSeed derives the OSCORE master_secret and master_salt from the
// ECDH shared secret and TH_4, per spec §4.7.
func DeriveOscoreSeed(sharedSecret, th4 []byte) (OscoreSeed, error) {
	secretCtx, err := cborKDFContext(oscoreSecretLabel, oscoreMasterKeyLen, th4)
	if err != nil {
		return OscoreSeed{}, err
	}
	secret, err := expand(sharedSecret, secretCtx, oscoreMasterKeyLen)
	if err != nil {
		return OscoreSeed{}, err
	}

	saltCtx, err := cborKDFContext(oscoreSaltLabel, oscoreMasterSaltLen, th4)
	if err != nil {
		return OscoreSeed{}, err
	}
	salt, err := expand(sharedSecret, saltCtx, oscoreMasterSaltLen)
	if err != nil {
		return OscoreSeed{}, err
	}

	return OscoreSeed{MasterSecret: secret, MasterSalt: salt}, nil
}
