package rs

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/aceoauth/edhoc-gateway/internal/edhoc"
	"github.com/aceoauth/edhoc-gateway/internal/httputil"
	"github.com/aceoauth/edhoc-gateway/internal/metrics"
	"github.com/aceoauth/edhoc-gateway/internal/oscore"
	"github.com/aceoauth/edhoc-gateway/internal/token"
)

// kidHeader carries the hex-encoded client KID selecting which established
// OSCORE context protects a wrapped request/response.
const kidHeader = "X-Edhoc-Kid"

// inFlight tracks one responder-side EDHOC handshake between ProcessMsg1
// and ProcessMsg3. peerKid is filled in by the resolver closure the moment
// the peer's long-term key is looked up, since the Session itself does not
// expose which KID it resolved.
type inFlight struct {
	session *edhoc.Session
	peerKid []byte
}

// Server is the Resource Server's HTTP surface: out-of-band token
// registration, EDHOC responder framing, and OSCORE-gated application
// routes (spec §4.8, §6).
type Server struct {
	signKey     *ecdsa.PrivateKey
	kid         []byte
	asVerifyKey *ecdsa.PublicKey
	audience    string

	peers PeerStore

	mu       sync.Mutex
	sessions map[string]*inFlight        // keyed by session_id_v
	contexts map[string]*oscore.Context // keyed by peer kid
}

// NewServer constructs the RS with its signing identity, the AS's
// verification key (to validate incoming tokens), and its peer registry.
func NewServer(signKey *ecdsa.PrivateKey, kid []byte, asVerifyKey *ecdsa.PublicKey, peers PeerStore, audience string) *Server {
	return &Server{
		signKey: signKey, kid: kid, asVerifyKey: asVerifyKey, audience: audience,
		peers:    peers,
		sessions: make(map[string]*inFlight),
		contexts: make(map[string]*oscore.Context),
	}
}

// Routes mounts the RS endpoints onto r. handlers.go registers the
// application routes via Wrap.
func (s *Server) Routes(r chi.Router) {
	r.Post("/authz", s.handleAuthz)
	r.Post("/edhoc", s.handleEdhoc)
}

// handleAuthz accepts a client's PoP access token out-of-band (before or
// during EDHOC) and registers its bound KID, ahead of any EDHOC state
// being created for that peer (spec §8 scenario f).
func (s *Server) handleAuthz(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.RawBytesBody(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	claims, err := token.Verify(body, s.asVerifyKey, time.Now())
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			httputil.WriteError(w, http.StatusUnauthorized, "TokenExpired", err)
		} else {
			httputil.WriteError(w, http.StatusUnauthorized, "TokenInvalid", err)
		}
		return
	}
	if claims.Audience != s.audience {
		httputil.WriteError(w, http.StatusForbidden, "PolicyRejection", ErrPolicyRejection)
		return
	}

	popKey, err := claims.ConfirmedKey.ToECDSAPublicKey()
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "TokenInvalid", err)
		return
	}
	if err := s.peers.RegisterPeer(claims.ConfirmedKey.Kid, claims, popKey); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}

	log.Infof("registered peer kid=%x scope=%q", claims.ConfirmedKey.Kid, claims.Scope)
	w.WriteHeader(http.StatusCreated)
}

// handleEdhoc dispatches a raw EDHOC message (MSG1 or MSG3) by its leading
// CBOR array tag and drives the responder state machine.
func (s *Server) handleEdhoc(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.RawBytesBody(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "MalformedEdhoc", err)
		return
	}

	tag, err := edhoc.PeekTag(body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "MalformedEdhoc", err)
		return
	}

	switch tag {
	case 1:
		s.handleMsg1(w, body)
	case 3:
		s.handleMsg3(w, body)
	default:
		httputil.WriteError(w, http.StatusBadRequest, "MalformedEdhoc", fmt.Errorf("unexpected message tag %d", tag))
	}
}

func (s *Server) handleMsg1(w http.ResponseWriter, body []byte) {
	msg1, err := edhoc.ParseMessage1(body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "MalformedEdhoc", err)
		return
	}

	entry := &inFlight{}
	resolver := func(kid []byte) (*ecdsa.PublicKey, error) {
		popKey, err := s.peers.ResolvePeer(kid)
		if err != nil {
			return nil, edhoc.ErrUnknownPeer
		}
		entry.peerKid = append([]byte(nil), kid...)
		return popKey, nil
	}

	session := edhoc.NewSession(edhoc.RoleResponder, s.signKey, s.kid, resolver)
	if err := session.ProcessMsg1(msg1); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "MalformedEdhoc", err)
		return
	}
	entry.session = session

	var msg2 *edhoc.Message2
	for attempt := 0; attempt < 8; attempt++ {
		sessionIDV, err := randomSessionID()
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
			return
		}

		s.mu.Lock()
		_, taken := s.sessions[string(sessionIDV)]
		s.mu.Unlock()
		if taken {
			continue
		}

		msg2, err = session.RespondMsg2(msg1.GX, sessionIDV)
		if errors.Is(err, edhoc.ErrSessionIDCollision) {
			continue
		}
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "StateViolation", err)
			return
		}
		break
	}
	if msg2 == nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", errors.New("could not allocate a session id"))
		return
	}

	_, sessionIDV := session.SessionIDs()
	s.mu.Lock()
	s.sessions[string(sessionIDV)] = entry
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg2.Raw)
}

func (s *Server) handleMsg3(w http.ResponseWriter, body []byte) {
	msg3, err := edhoc.ParseMessage3(body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "MalformedEdhoc", err)
		return
	}

	s.mu.Lock()
	entry, ok := s.sessions[string(msg3.SessionIDV)]
	s.mu.Unlock()
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "StateViolation", ErrNoSession)
		return
	}

	start := time.Now()
	if err := entry.session.ProcessMsg3(msg3); err != nil {
		metrics.EdhocHandshakesTotal.WithLabelValues("failed").Inc()
		s.mu.Lock()
		delete(s.sessions, string(msg3.SessionIDV))
		s.mu.Unlock()
		httputil.WriteError(w, http.StatusBadRequest, "SignatureInvalid", err)
		return
	}

	seed, err := entry.session.OscoreSeed()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}
	sessionIDU, sessionIDV := entry.session.SessionIDs()
	oscoreCtx, err := oscore.Derive(seed.MasterSecret, seed.MasterSalt, sessionIDV, sessionIDU)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}

	metrics.EdhocHandshakesTotal.WithLabelValues("established").Inc()
	metrics.EdhocHandshakeDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.contexts[string(entry.peerKid)] = oscoreCtx
	delete(s.sessions, string(msg3.SessionIDV))
	s.mu.Unlock()

	log.Infof("EDHOC established with peer kid=%x", entry.peerKid)
	w.WriteHeader(http.StatusCreated)
}

func randomSessionID() ([]byte, error) {
	b := make([]byte, edhoc.SessionIDLen)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wrap gates handler behind an established OSCORE context: the caller's
// X-Edhoc-Kid header selects the context, scope must contain requiredScope
// as a space-separated token (spec §6 "RS HTTP surface"), the request body
// is OSCORE-decrypted before handler runs, and handler's returned plaintext
// is OSCORE-encrypted as the response body.
func (s *Server) Wrap(requiredScope string, handler func(plaintext []byte, ctx *oscore.Context) (int, []byte, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kidHex := r.Header.Get(kidHeader)
		kid, err := hex.DecodeString(kidHex)
		if err != nil || len(kid) == 0 {
			httputil.WriteError(w, http.StatusBadRequest, "UnknownKid", fmt.Errorf("missing or malformed %s header", kidHeader))
			return
		}

		s.mu.Lock()
		ctx, ok := s.contexts[string(kid)]
		s.mu.Unlock()
		if !ok {
			httputil.WriteError(w, http.StatusUnauthorized, "UnknownKid", ErrUnknownKid)
			return
		}

		claims, err := s.peers.GetClaims(kid)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "UnknownKid", err)
			return
		}
		if !scopeContains(claims.Scope, requiredScope) {
			httputil.WriteError(w, http.StatusForbidden, "PolicyRejection", ErrPolicyRejection)
			return
		}

		body, err := httputil.RawBytesBody(r)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "MalformedCose", err)
			return
		}

		plaintext, err := ctx.Decrypt(body, nil)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "DecryptionFailed", err)
			return
		}
		metrics.OscoreMessagesTotal.WithLabelValues("in").Inc()

		status, respPlaintext, err := handler(plaintext, ctx)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
			return
		}

		ciphertext, err := ctx.Encrypt(respPlaintext, nil)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
			return
		}
		metrics.OscoreMessagesTotal.WithLabelValues("out").Inc()

		w.Header().Set("Content-Type", "application/cbor")
		w.WriteHeader(status)
		_, _ = w.Write(ciphertext)
	}
}

func scopeContains(scope, required string) bool {
	for _, s := range strings.Fields(scope) {
		if s == required {
			return true
		}
	}
	return false
}
