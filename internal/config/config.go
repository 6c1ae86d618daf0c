// Package config loads the AS/RS services' runtime configuration, the way
// teacher's own config.go loads the ubirch-backend identity service's
// settings: from environment variables when present, otherwise from a JSON
// file in a configurable directory.
package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

const (
	defaultASAddr = ":8080"
	defaultRSAddr = ":8081"

	defaultTokenLifetimeMinutes = 120

	defaultDbMaxOpenConns    = 10
	defaultDbMaxIdleConns    = 10
	defaultDbConnMaxLifetime = 10
	defaultDbConnMaxIdleTime = 1
)

// Config carries everything cmd/as and cmd/rs need to stand up their HTTP
// surfaces: listen addresses, long-term signing identities (base64-encoded
// PKCS#8 DER), and client secrets. There is no separate verification-key
// field: a partner service's verification key is the public half of its
// signing key here.
type Config struct {
	ASAddr string `json:"asAddr" envconfig:"AS_ADDR"`
	RSAddr string `json:"rsAddr" envconfig:"RS_ADDR"`

	Issuer   string `json:"issuer" envconfig:"ISSUER"`     // AS issuer string placed in iss claims
	Audience string `json:"audience" envconfig:"AUDIENCE"` // RS audience string

	ASSigningKeyBase64 string `json:"asSigningKey" envconfig:"AS_SIGNING_KEY"` // base64 PKCS#8 DER
	ASKid              string `json:"asKid" envconfig:"AS_KID"`

	RSSigningKeyBase64 string `json:"rsSigningKey" envconfig:"RS_SIGNING_KEY"` // base64 PKCS#8 DER
	RSKid              string `json:"rsKid" envconfig:"RS_KID"`

	// Clients maps client_id to client_secret, mirroring teacher's
	// Tokens map[uuid.UUID]string identity-token table.
	Clients map[string]string `json:"clients"`

	TokenLifetimeMinutes int `json:"tokenLifetimeMinutes" envconfig:"TOKEN_LIFETIME_MINUTES"`

	PostgresDSN       string `json:"postgresDSN" envconfig:"POSTGRES_DSN"`
	DbMaxOpenConns    string `json:"dbMaxOpenConns" envconfig:"DB_MAX_OPEN_CONNS"`
	DbMaxIdleConns    string `json:"dbMaxIdleConns" envconfig:"DB_MAX_IDLE_CONNS"`
	DbConnMaxLifetime string `json:"dbConnMaxLifetime" envconfig:"DB_CONN_MAX_LIFETIME"`
	DbConnMaxIdleTime string `json:"dbConnMaxIdleTime" envconfig:"DB_CONN_MAX_IDLE_TIME"`

	Debug         bool `json:"debug" envconfig:"DEBUG"`
	LogTextFormat bool `json:"logTextFormat" envconfig:"LOG_TEXT_FORMAT"`

	configDir string

	asSigningKey *ecdsa.PrivateKey
	rsSigningKey *ecdsa.PrivateKey
	dbParams     DatabaseParams
}

// DatabaseParams mirrors teacher's connection-pool tuning knobs for the
// optional Postgres-backed AS registries (internal/as/pgstore).
type DatabaseParams struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Load reads the configuration from UBIRCH_SECRET-style env-var detection:
// if AS_SIGNING_KEY is set in the environment, Load reads everything from
// env vars; otherwise it reads filename from configDir.
func (c *Config) Load(configDir, filename string) error {
	c.configDir = configDir

	var err error
	if os.Getenv("AS_SIGNING_KEY") != "" {
		err = c.loadEnv()
	} else {
		err = c.loadFile(filename)
	}
	if err != nil {
		return err
	}

	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if c.LogTextFormat {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000 -0700"})
	}

	c.setDefaults()

	if err := c.parseSigningKeys(); err != nil {
		return err
	}

	return c.setDbParams()
}

func (c *Config) loadEnv() error {
	log.Infof("loading configuration from environment variables")
	return envconfig.Process("", c)
}

func (c *Config) loadFile(filename string) error {
	configFile := filepath.Join(c.configDir, filename)
	log.Infof("loading configuration from file: %s", configFile)

	fileHandle, err := os.Open(configFile)
	if err != nil {
		return err
	}
	defer fileHandle.Close()

	return json.NewDecoder(fileHandle).Decode(c)
}

func (c *Config) setDefaults() {
	if c.ASAddr == "" {
		c.ASAddr = defaultASAddr
	}
	if c.RSAddr == "" {
		c.RSAddr = defaultRSAddr
	}
	if c.TokenLifetimeMinutes == 0 {
		c.TokenLifetimeMinutes = defaultTokenLifetimeMinutes
	}
}

// TokenLifetime returns the configured access-token lifetime as a
// time.Duration.
func (c *Config) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeMinutes) * time.Minute
}

// ASSigningKey returns the parsed AS long-term ECDSA signing key.
func (c *Config) ASSigningKey() *ecdsa.PrivateKey { return c.asSigningKey }

// RSSigningKey returns the parsed RS long-term ECDSA signing key.
func (c *Config) RSSigningKey() *ecdsa.PrivateKey { return c.rsSigningKey }

func (c *Config) parseSigningKeys() error {
	asKey, err := decodeECDSAKey(c.ASSigningKeyBase64)
	if err != nil {
		return fmt.Errorf("parsing AS signing key: %w", err)
	}
	c.asSigningKey = asKey

	rsKey, err := decodeECDSAKey(c.RSSigningKeyBase64)
	if err != nil {
		return fmt.Errorf("parsing RS signing key: %w", err)
	}
	c.rsSigningKey = rsKey

	return nil
}

func decodeECDSAKey(b64 string) (*ecdsa.PrivateKey, error) {
	if b64 == "" {
		return nil, fmt.Errorf("signing key not set")
	}
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS8: %w", err)
	}
	sk, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA")
	}
	if sk.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key curve must be P-256")
	}
	return sk, nil
}

func (c *Config) setDbParams() error {
	if c.DbMaxOpenConns == "" {
		c.dbParams.MaxOpenConns = defaultDbMaxOpenConns
	} else {
		i, err := strconv.Atoi(c.DbMaxOpenConns)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter MaxOpenConns: %v", err)
		}
		c.dbParams.MaxOpenConns = i
	}

	if c.DbMaxIdleConns == "" {
		c.dbParams.MaxIdleConns = defaultDbMaxIdleConns
	} else {
		i, err := strconv.Atoi(c.DbMaxIdleConns)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter MaxIdleConns: %v", err)
		}
		c.dbParams.MaxIdleConns = i
	}

	if c.DbConnMaxLifetime == "" {
		c.dbParams.ConnMaxLifetime = defaultDbConnMaxLifetime * time.Minute
	} else {
		i, err := strconv.Atoi(c.DbConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter ConnMaxLifetime: %v", err)
		}
		c.dbParams.ConnMaxLifetime = time.Duration(i) * time.Minute
	}

	if c.DbConnMaxIdleTime == "" {
		c.dbParams.ConnMaxIdleTime = defaultDbConnMaxIdleTime * time.Minute
	} else {
		i, err := strconv.Atoi(c.DbConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter ConnMaxIdleTime: %v", err)
		}
		c.dbParams.ConnMaxIdleTime = time.Duration(i) * time.Minute
	}

	return nil
}

// DBParams returns the parsed database connection-pool tuning parameters.
func (c *Config) DBParams() DatabaseParams { return c.dbParams }
