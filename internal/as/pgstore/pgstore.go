// Package pgstore is a Postgres-backed alternative to internal/as's
// in-memory ClientStore/KeyStore/TokenStore, wired in when PostgresDSN is
// configured, grounded on teacher's database.go DatabaseManager.
package pgstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/lib/pq" // registers the "postgres" driver via its init()
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
	"github.com/aceoauth/edhoc-gateway/internal/token"
)

const driverName = "postgres"

const (
	tableClients = iota
	tableKeys
	tableTokens
)

var createTable = map[int]string{
	tableClients: `CREATE TABLE IF NOT EXISTS clients(
		client_id VARCHAR(255) NOT NULL PRIMARY KEY,
		client_secret VARCHAR(255) NOT NULL);`,
	tableKeys: `CREATE TABLE IF NOT EXISTS pop_keys(
		client_id VARCHAR(255) NOT NULL PRIMARY KEY,
		cose_key BYTEA NOT NULL);`,
	tableTokens: `CREATE TABLE IF NOT EXISTS tokens(
		cti BYTEA NOT NULL PRIMARY KEY,
		issuer VARCHAR(255) NOT NULL,
		audience VARCHAR(255) NOT NULL,
		scope TEXT NOT NULL,
		issued_at BIGINT NOT NULL,
		expiry BIGINT NOT NULL,
		cose_key BYTEA NOT NULL);`,
}

// Store is a Postgres-backed implementation of internal/as's ClientStore,
// KeyStore, and TokenStore interfaces.
type Store struct {
	db *sql.DB
}

// Open connects to dataSourceName and bootstraps the client/key/token
// tables, mirroring teacher's NewSqlDatabaseInfo.
func Open(dataSourceName string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	if err := db.Ping(); err != nil {
		return nil, err
	}

	log.Info("preparing postgres-backed AS registries")

	for _, stmt := range createTable {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("pgstore: creating table: %w", err)
		}
	}

	collector := sqlstats.NewStatsCollector("as_registries", db)
	if err := prometheus.Register(collector); err != nil {
		log.Warnf("pgstore: registering connection-pool collector: %v", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) isConnectionAvailable(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		if pqErr.Code == "53300" || pqErr.Code == "53400" {
			time.Sleep(100 * time.Millisecond)
			return true
		}
	}
	return false
}

// --- ClientStore ---------------------------------------------------------

func (s *Store) RegisterClient(clientID, clientSecret string) error {
	_, err := s.db.Exec(`INSERT INTO clients (client_id, client_secret) VALUES ($1, $2)`, clientID, clientSecret)
	if err != nil {
		if s.isConnectionAvailable(err) {
			return s.RegisterClient(clientID, clientSecret)
		}
		return err
	}
	return nil
}

func (s *Store) CheckSecret(clientID, clientSecret string) (bool, error) {
	var stored string
	err := s.db.QueryRow(`SELECT client_secret FROM clients WHERE client_id = $1`, clientID).Scan(&stored)
	if err != nil {
		if s.isConnectionAvailable(err) {
			return s.CheckSecret(clientID, clientSecret)
		}
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return stored == clientSecret, nil
}

// --- KeyStore -------------------------------------------------------------

func (s *Store) AddKey(clientID string, key cose.Key) error {
	keyBytes, err := key.Marshal(codec.Marshal)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO pop_keys (client_id, cose_key) VALUES ($1, $2)
		ON CONFLICT (client_id) DO UPDATE SET cose_key = EXCLUDED.cose_key`, clientID, keyBytes)
	if err != nil {
		if s.isConnectionAvailable(err) {
			return s.AddKey(clientID, key)
		}
		return err
	}
	return nil
}

func (s *Store) GetKey(clientID string) (cose.Key, error) {
	var keyBytes []byte
	err := s.db.QueryRow(`SELECT cose_key FROM pop_keys WHERE client_id = $1`, clientID).Scan(&keyBytes)
	if err != nil {
		if s.isConnectionAvailable(err) {
			return s.GetKey(clientID)
		}
		return cose.Key{}, err
	}
	return cose.ParseKey(keyBytes, codec.Unmarshal)
}

// --- TokenStore -----------------------------------------------------------

func (s *Store) AddToken(cti []byte, claims token.Claims) error {
	keyBytes, err := claims.ConfirmedKey.Marshal(codec.Marshal)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO tokens (cti, issuer, audience, scope, issued_at, expiry, cose_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cti, claims.Issuer, claims.Audience, claims.Scope, claims.IssuedAt.Unix(), claims.Expiry.Unix(), keyBytes)
	if err != nil {
		if s.isConnectionAvailable(err) {
			return s.AddToken(cti, claims)
		}
		return err
	}
	return nil
}

func (s *Store) GetToken(cti []byte) (token.Claims, error) {
	var (
		issuer, audience, scope string
		issuedAt, expiry        int64
		keyBytes                []byte
	)
	err := s.db.QueryRow(`SELECT issuer, audience, scope, issued_at, expiry, cose_key FROM tokens WHERE cti = $1`, cti).
		Scan(&issuer, &audience, &scope, &issuedAt, &expiry, &keyBytes)
	if err != nil {
		if s.isConnectionAvailable(err) {
			return s.GetToken(cti)
		}
		return token.Claims{}, err
	}

	popKey, err := cose.ParseKey(keyBytes, codec.Unmarshal)
	if err != nil {
		return token.Claims{}, err
	}

	return token.Claims{
		Issuer:       issuer,
		Audience:     audience,
		Scope:        scope,
		IssuedAt:     time.Unix(issuedAt, 0).UTC(),
		Expiry:       time.Unix(expiry, 0).UTC(),
		CTI:          cti,
		ConfirmedKey: popKey,
	}, nil
}
