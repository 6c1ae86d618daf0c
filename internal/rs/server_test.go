package rs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
	"github.com/aceoauth/edhoc-gateway/internal/edhoc"
	"github.com/aceoauth/edhoc-gateway/internal/oscore"
	"github.com/aceoauth/edhoc-gateway/internal/token"
)

// newClientContext derives the initiator-side OSCORE context: the
// client's own session ID is its sender_id, the server's is its
// recipient_id (spec §4.7 "Sender-ID and Recipient-ID... swapped").
func newClientContext(seed edhoc.OscoreSeed, sessionIDU, sessionIDV []byte) (*oscore.Context, error) {
	return oscore.Derive(seed.MasterSecret, seed.MasterSalt, sessionIDU, sessionIDV)
}

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return sk
}

func newTestServer(t *testing.T) (*Server, *ecdsa.PrivateKey) {
	t.Helper()
	asKey := genKey(t)
	rsKey := genKey(t)
	srv := NewServer(rsKey, []byte("rs-kid-1"), &asKey.PublicKey, NewMemPeerStore(), "rs.example")
	return srv, asKey
}

func issueToken(t *testing.T, asKey *ecdsa.PrivateKey, clientKid []byte, scope string, lifetime time.Duration) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	popKey := genKey(t)
	popCoseKey, err := cose.FromECDSAPublicKey(&popKey.PublicKey, clientKid)
	if err != nil {
		t.Fatalf("FromECDSAPublicKey: %v", err)
	}

	tok, err := token.New("ace.as.example", "rs.example", scope, lifetime)
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	tok.Bind(popCoseKey)
	signed, err := tok.SignAndExport(asKey, []byte("as-kid-1"))
	if err != nil {
		t.Fatalf("SignAndExport: %v", err)
	}
	return signed, popKey
}

func router(srv *Server) http.Handler {
	r := chi.NewRouter()
	srv.Routes(r)
	srv.RoutesApp(r)
	return r
}

func doRaw(t *testing.T, h http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthzRejectsExpiredTokenBeforeEdhocState(t *testing.T) {
	srv, asKey := newTestServer(t)
	h := router(srv)

	signed, _ := issueToken(t, asKey, []byte("client-1"), "temperature_g", -1*time.Second)

	rr := doRaw(t, h, http.MethodPost, "/authz", signed, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	if _, err := srv.peers.GetClaims([]byte("client-1")); err == nil {
		t.Fatalf("expected no peer to be registered for an expired token")
	}
	if len(srv.sessions) != 0 {
		t.Fatalf("expected no EDHOC session state to have been created")
	}
}

func TestFullHandshakeAndResourceAccess(t *testing.T) {
	srv, asKey := newTestServer(t)
	h := router(srv)

	clientKid := []byte("client-1")
	signed, popKey := issueToken(t, asKey, clientKid, "temperature_g led_w", time.Hour)

	rr := doRaw(t, h, http.MethodPost, "/authz", signed, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("authz status = %d, body = %s", rr.Code, rr.Body.String())
	}

	resolveRS := func(kid []byte) (*ecdsa.PublicKey, error) {
		if string(kid) == "rs-kid-1" {
			return &srv.signKey.PublicKey, nil
		}
		return nil, edhoc.ErrUnknownPeer
	}
	client := edhoc.NewSession(edhoc.RoleInitiator, popKey, clientKid, resolveRS)

	msg1, err := client.StartInitiator()
	if err != nil {
		t.Fatalf("StartInitiator: %v", err)
	}
	rr = doRaw(t, h, http.MethodPost, "/edhoc", msg1.Raw, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("msg1 status = %d, body = %s", rr.Code, rr.Body.String())
	}

	parsedMsg2, data2, err := edhoc.ParseMessage2(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage2: %v", err)
	}
	msg3, err := client.ProcessMsg2(parsedMsg2, data2)
	if err != nil {
		t.Fatalf("client.ProcessMsg2: %v", err)
	}

	rr = doRaw(t, h, http.MethodPost, "/edhoc", msg3.Raw, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("msg3 status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if client.State() != edhoc.StateEstablished {
		t.Fatalf("client state = %s, want established", client.State())
	}

	seed, err := client.OscoreSeed()
	if err != nil {
		t.Fatalf("client.OscoreSeed: %v", err)
	}
	sessionIDU, sessionIDV := client.SessionIDs()
	clientCtx, err := newClientContext(seed, sessionIDU, sessionIDV)
	if err != nil {
		t.Fatalf("newClientContext: %v", err)
	}

	ciphertext, err := clientCtx.Encrypt(nil, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	rr = doRaw(t, h, http.MethodGet, "/temperature", ciphertext, map[string]string{kidHeader: hex.EncodeToString(clientKid)})
	if rr.Code != http.StatusOK {
		t.Fatalf("temperature status = %d, body = %s", rr.Code, rr.Body.String())
	}

	plaintext, err := clientCtx.Decrypt(rr.Body.Bytes(), nil)
	if err != nil {
		t.Fatalf("Decrypt response: %v", err)
	}
	if len(plaintext) == 0 {
		t.Fatalf("expected non-empty temperature reading")
	}
}

func TestResourceAccessRejectsMissingScope(t *testing.T) {
	srv, asKey := newTestServer(t)
	h := router(srv)

	clientKid := []byte("client-2")
	signed, popKey := issueToken(t, asKey, clientKid, "temperature_g", time.Hour)
	doRaw(t, h, http.MethodPost, "/authz", signed, nil)

	resolveRS := func(kid []byte) (*ecdsa.PublicKey, error) { return &srv.signKey.PublicKey, nil }
	client := edhoc.NewSession(edhoc.RoleInitiator, popKey, clientKid, resolveRS)
	msg1, err := client.StartInitiator()
	if err != nil {
		t.Fatalf("StartInitiator: %v", err)
	}
	rr := doRaw(t, h, http.MethodPost, "/edhoc", msg1.Raw, nil)
	parsedMsg2, data2, err := edhoc.ParseMessage2(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage2: %v", err)
	}
	msg3, err := client.ProcessMsg2(parsedMsg2, data2)
	if err != nil {
		t.Fatalf("client.ProcessMsg2: %v", err)
	}
	doRaw(t, h, http.MethodPost, "/edhoc", msg3.Raw, nil)

	seed, _ := client.OscoreSeed()
	sessionIDU, sessionIDV := client.SessionIDs()
	clientCtx, err := newClientContext(seed, sessionIDU, sessionIDV)
	if err != nil {
		t.Fatalf("newClientContext: %v", err)
	}
	cmdBytes, err := codec.Marshal(struct {
		LedValue int `cbor:"led_value"`
	}{LedValue: 1})
	if err != nil {
		t.Fatalf("Marshal led command: %v", err)
	}
	ciphertext, err := clientCtx.Encrypt(cmdBytes, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	rr = doRaw(t, h, http.MethodPost, "/led", ciphertext, map[string]string{kidHeader: hex.EncodeToString(clientKid)})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (missing led_w scope)", rr.Code)
	}
}
