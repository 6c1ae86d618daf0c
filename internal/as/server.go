package as

import (
	"crypto/ecdsa"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
	"github.com/aceoauth/edhoc-gateway/internal/httputil"
	"github.com/aceoauth/edhoc-gateway/internal/metrics"
	"github.com/aceoauth/edhoc-gateway/internal/token"
)

// DefaultTokenLifetime matches the 7200-second lifetime the original AS
// hands out (original_source/as/__init__.py _bind_token).
const DefaultTokenLifetime = 2 * time.Hour

// tokenRequest is the CBOR body of a POST /token request.
type tokenRequest struct {
	GrantType    string `cbor:"grant_type"`
	ClientID     string `cbor:"client_id"`
	ClientSecret string `cbor:"client_secret"`
	Aud          string `cbor:"aud"`
	Scope        string `cbor:"scope"`
	Cnf          struct {
		CoseKey []byte `cbor:"1,keyasint"`
	} `cbor:"cnf"`
}

type tokenResponse struct {
	AccessToken []byte `cbor:"access_token"`
	TokenType   string `cbor:"token_type"`
	Profile     string `cbor:"profile"`
	RSCnf       []byte `cbor:"rs_cnf,omitempty"`
}

type introspectRequest struct {
	Token         []byte `cbor:"token"`
	TokenTypeHint string `cbor:"token_type_hint,omitempty"`
}

type introspectResponse struct {
	Active bool   `cbor:"active"`
	Scope  string `cbor:"scope"`
	Aud    string `cbor:"aud"`
	Iss    string `cbor:"iss"`
	Exp    int64  `cbor:"exp"`
	Iat    int64  `cbor:"iat"`
	Cnf    struct {
		CoseKey []byte `cbor:"1,keyasint"`
	} `cbor:"cnf"`
}

// Server is the Authorization Server's HTTP surface: client verification,
// PoP-key binding, and token minting/introspection (spec §4.7, §6).
type Server struct {
	signKey *ecdsa.PrivateKey
	kid     []byte
	rsCnf   cose.Key // RS's long-term public key, advertised in rs_cnf

	clients ClientStore
	keys    KeyStore
	tokens  TokenStore

	issuer        string
	tokenLifetime time.Duration
}

// NewServer constructs the AS with its signing identity and backing stores.
func NewServer(signKey *ecdsa.PrivateKey, kid []byte, rsCnf cose.Key, clients ClientStore, keys KeyStore, tokens TokenStore, issuer string) *Server {
	return &Server{
		signKey: signKey, kid: kid, rsCnf: rsCnf,
		clients: clients, keys: keys, tokens: tokens,
		issuer: issuer, tokenLifetime: DefaultTokenLifetime,
	}
}

// SetTokenLifetime overrides the default access-token lifetime, used by
// cmd/as to apply the configured TOKEN_LIFETIME_MINUTES.
func (s *Server) SetTokenLifetime(d time.Duration) {
	s.tokenLifetime = d
}

// Routes mounts the AS endpoints onto r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/token", s.handleToken)
	r.Post("/introspect", s.handleIntrospect)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httputil.ReadCBORBody(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if req.GrantType == "" || req.ClientID == "" || req.ClientSecret == "" || req.Aud == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", nil)
		return
	}
	if req.GrantType != "client_credentials" {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported_grant_type", nil)
		return
	}

	ok, err := s.clients.CheckSecret(req.ClientID, req.ClientSecret)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "unauthorized_client", nil)
		return
	}

	popKey, err := cose.ParseKey(req.Cnf.CoseKey, codec.Unmarshal)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	tok, err := token.New(s.issuer, req.Aud, req.Scope, s.tokenLifetime)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}
	tok.Bind(popKey)

	if err := s.keys.AddKey(req.ClientID, popKey); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}
	if err := s.tokens.AddToken(tok.Claims.CTI, tok.Claims); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}

	signed, err := tok.SignAndExport(s.signKey, s.kid)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}

	rsCnfBytes, err := s.rsCnf.Marshal(codec.Marshal)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}

	metrics.TokensIssuedTotal.Inc()
	log.Infof("issued access token for client %q, aud %q", req.ClientID, req.Aud)

	httputil.WriteCBOR(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "pop",
		Profile:     "coap_oscore",
		RSCnf:       rsCnfBytes,
	})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if err := httputil.ReadCBORBody(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	claims, err := token.Parse(req.Token, &s.signKey.PublicKey)
	if err != nil {
		httputil.WriteCBOR(w, http.StatusCreated, introspectResponse{Active: false})
		return
	}

	active := time.Now().UTC().Before(claims.Expiry)

	cnfBytes, err := claims.ConfirmedKey.Marshal(codec.Marshal)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "invalid_request", err)
		return
	}

	resp := introspectResponse{
		Active: active,
		Scope:  claims.Scope,
		Aud:    claims.Audience,
		Iss:    claims.Issuer,
		Exp:    claims.Expiry.Unix(),
		Iat:    claims.IssuedAt.Unix(),
	}
	resp.Cnf.CoseKey = cnfBytes

	httputil.WriteCBOR(w, http.StatusCreated, resp)
}
