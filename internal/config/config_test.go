package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfigFile(t *testing.T, dir string, cfg map[string]interface{}) {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal test config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), b, 0o600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
}

func base64PKCS8Key(t *testing.T) string {
	t.Helper()
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(sk)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeTestConfigFile(t, dir, map[string]interface{}{
		"issuer":       "ace.as.example",
		"audience":     "rs.example",
		"asSigningKey": base64PKCS8Key(t),
		"rsSigningKey": base64PKCS8Key(t),
		"asKid":        "as-kid-1",
		"rsKid":        "rs-kid-1",
		"clients":      map[string]string{"ace_client_1": "secret"},
	})

	var c Config
	if err := c.Load(dir, "config.json"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.ASAddr != defaultASAddr || c.RSAddr != defaultRSAddr {
		t.Fatalf("expected default addresses, got AS=%q RS=%q", c.ASAddr, c.RSAddr)
	}
	if c.TokenLifetimeMinutes != defaultTokenLifetimeMinutes {
		t.Fatalf("TokenLifetimeMinutes = %d, want %d", c.TokenLifetimeMinutes, defaultTokenLifetimeMinutes)
	}
	if c.ASSigningKey() == nil || c.RSSigningKey() == nil {
		t.Fatalf("expected both signing keys to parse")
	}
	if c.DBParams().MaxOpenConns != defaultDbMaxOpenConns {
		t.Fatalf("MaxOpenConns = %d, want default %d", c.DBParams().MaxOpenConns, defaultDbMaxOpenConns)
	}
}

func TestLoadRejectsMissingSigningKey(t *testing.T) {
	dir := t.TempDir()
	writeTestConfigFile(t, dir, map[string]interface{}{
		"issuer":   "ace.as.example",
		"audience": "rs.example",
	})

	var c Config
	if err := c.Load(dir, "config.json"); err == nil {
		t.Fatalf("expected Load to fail without signing keys configured")
	}
}
