// Package httputil collects the small helpers shared by the AS and RS HTTP
// surfaces: CBOR request/response plumbing and structured error logging,
// generalizing the sibling adapters/httphelper package the teacher's own
// main application used (not available in this module, see DESIGN.md).
package httputil

import (
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
)

const CBORType = "application/cbor"

// ReadCBORBody reads and CBOR-decodes the request body into v.
func ReadCBORBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if err := codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding CBOR body: %w", err)
	}
	return nil
}

// WriteCBOR canonically CBOR-encodes v and writes it as the response body
// with the given status code.
func WriteCBOR(w http.ResponseWriter, status int, v interface{}) {
	body, err := codec.Marshal(v)
	if err != nil {
		log.Errorf("encoding CBOR response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", CBORType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Errorf("writing response: %v", err)
	}
}

// ErrorResponse is the CBOR error body shape used by the AS's /token and
// /introspect endpoints (spec §6).
type ErrorResponse struct {
	Error string `cbor:"error"`
}

// WriteError logs err and writes it as a CBOR error body.
func WriteError(w http.ResponseWriter, status int, code string, err error) {
	if err != nil {
		log.Warnf("%s: %v", code, err)
	} else {
		log.Warn(code)
	}
	WriteCBOR(w, status, ErrorResponse{Error: code})
}

// Health returns a liveness handler that reports the given server
// identity string, mirroring the teacher's bare "<serverID> alive" probe.
// cmd/as and cmd/rs mount it on /readiness only; no /healthz route exists.
func Health(serverID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "%s alive", serverID)
	}
}

// RawBytesBody reads the raw request body without attempting to decode it,
// for endpoints (EDHOC message framing, OSCORE-wrapped bodies) that handle
// their own CBOR array framing rather than a labeled map.
func RawBytesBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return body, nil
}
