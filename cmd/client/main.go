// Command client is a demonstration CLI that drives the full ACE client
// flow against a running AS+RS pair: request an access token, submit it to
// the RS out-of-band, run the EDHOC handshake, and make one OSCORE-protected
// resource request.
package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
	"github.com/aceoauth/edhoc-gateway/internal/edhoc"
	"github.com/aceoauth/edhoc-gateway/internal/oscore"
)

type cnfField struct {
	CoseKey []byte `cbor:"1,keyasint"`
}

type tokenRequest struct {
	GrantType    string   `cbor:"grant_type"`
	ClientID     string   `cbor:"client_id"`
	ClientSecret string   `cbor:"client_secret"`
	Aud          string   `cbor:"aud"`
	Scope        string   `cbor:"scope"`
	Cnf          cnfField `cbor:"cnf"`
}

type tokenResponse struct {
	AccessToken []byte `cbor:"access_token"`
	TokenType   string `cbor:"token_type"`
	Profile     string `cbor:"profile"`
	RSCnf       []byte `cbor:"rs_cnf,omitempty"`
}

func main() {
	var (
		asURL      = flag.String("as", "http://localhost:8080", "Authorization Server base URL")
		rsURL      = flag.String("rs", "http://localhost:8081", "Resource Server base URL")
		clientID   = flag.String("client-id", "ace_client_1", "ACE client_id")
		secret     = flag.String("client-secret", "", "ACE client_secret")
		audience   = flag.String("aud", "rs.example", "requested audience")
		scope      = flag.String("scope", "temperature_g", "requested scope")
	)
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})

	clientKid := []byte(*clientID)
	popKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("generating PoP key: %v", err)
	}

	signed, rsPub, err := requestToken(*asURL, *clientID, *secret, *audience, *scope, clientKid, popKey)
	if err != nil {
		log.Fatalf("requesting token: %v", err)
	}
	log.Info("access token issued")

	if err := submitToken(*rsURL, signed); err != nil {
		log.Fatalf("submitting token to RS: %v", err)
	}
	log.Info("token submitted to RS")

	resolveRS := func(kid []byte) (*ecdsa.PublicKey, error) {
		return rsPub, nil
	}
	session := edhoc.NewSession(edhoc.RoleInitiator, popKey, clientKid, resolveRS)

	clientCtx, err := runHandshake(*rsURL, session)
	if err != nil {
		log.Fatalf("EDHOC handshake: %v", err)
	}
	log.Info("EDHOC handshake established, OSCORE context derived")

	if err := fetchResource(*rsURL, clientCtx, clientKid); err != nil {
		log.Fatalf("resource request: %v", err)
	}
}

func requestToken(asURL, clientID, secret, aud, scope string, clientKid []byte, popKey *ecdsa.PrivateKey) ([]byte, *ecdsa.PublicKey, error) {
	popCoseKey, err := cose.FromECDSAPublicKey(&popKey.PublicKey, clientKid)
	if err != nil {
		return nil, nil, err
	}
	coseKeyBytes, err := popCoseKey.Marshal(codec.Marshal)
	if err != nil {
		return nil, nil, err
	}

	req := tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     clientID,
		ClientSecret: secret,
		Aud:          aud,
		Scope:        scope,
		Cnf:          cnfField{CoseKey: coseKeyBytes},
	}
	body, err := codec.Marshal(req)
	if err != nil {
		return nil, nil, err
	}

	resp, err := http.Post(asURL+"/token", "application/cbor", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("AS /token returned %d: %s", resp.StatusCode, respBody)
	}

	var tokResp tokenResponse
	if err := codec.Unmarshal(respBody, &tokResp); err != nil {
		return nil, nil, err
	}

	rsCnf, err := cose.ParseKey(tokResp.RSCnf, codec.Unmarshal)
	if err != nil {
		return nil, nil, err
	}
	rsPub, err := rsCnf.ToECDSAPublicKey()
	if err != nil {
		return nil, nil, err
	}

	return tokResp.AccessToken, rsPub, nil
}

func submitToken(rsURL string, signedToken []byte) error {
	resp, err := http.Post(rsURL+"/authz", "application/cbor", bytes.NewReader(signedToken))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("RS /authz returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

func runHandshake(rsURL string, session *edhoc.Session) (*oscore.Context, error) {
	msg1, err := session.StartInitiator()
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(rsURL+"/edhoc", "application/cbor", bytes.NewReader(msg1.Raw))
	if err != nil {
		return nil, err
	}
	msg2Raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RS /edhoc (msg1) returned %d: %s", resp.StatusCode, msg2Raw)
	}

	msg2, data2, err := edhoc.ParseMessage2(msg2Raw)
	if err != nil {
		return nil, err
	}
	msg3, err := session.ProcessMsg2(msg2, data2)
	if err != nil {
		return nil, err
	}

	resp, err = http.Post(rsURL+"/edhoc", "application/cbor", bytes.NewReader(msg3.Raw))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("RS /edhoc (msg3) returned %d: %s", resp.StatusCode, body)
	}

	seed, err := session.OscoreSeed()
	if err != nil {
		return nil, err
	}
	sessionIDU, sessionIDV := session.SessionIDs()
	return oscore.Derive(seed.MasterSecret, seed.MasterSalt, sessionIDU, sessionIDV)
}

func fetchResource(rsURL string, ctx *oscore.Context, clientKid []byte) error {
	ciphertext, err := ctx.Encrypt(nil, nil)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodGet, rsURL+"/temperature", bytes.NewReader(ciphertext))
	if err != nil {
		return err
	}
	req.Header.Set("X-Edhoc-Kid", hex.EncodeToString(clientKid))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /temperature returned %d: %s", resp.StatusCode, respBody)
	}

	plaintext, err := ctx.Decrypt(respBody, nil)
	if err != nil {
		return err
	}
	log.Infof("temperature reading: %s", plaintext)
	return nil
}
