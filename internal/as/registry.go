// Package as implements the Authorization Server: client credential
// checking, PoP key and token bookkeeping, and the /token and /introspect
// HTTP endpoints (spec §4.7, §6).
package as

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/aceoauth/edhoc-gateway/internal/cose"
	"github.com/aceoauth/edhoc-gateway/internal/token"
)

var (
	// ErrExists is returned when attempting to register an entry that is
	// already present.
	ErrExists = errors.New("as: entry already exists")

	// ErrNotExist is returned when looking up an entry that has not been
	// registered.
	ErrNotExist = errors.New("as: entry does not exist")
)

// ClientStore checks client_id/client_secret pairs presented at the /token
// endpoint.
type ClientStore interface {
	RegisterClient(clientID, clientSecret string) error
	CheckSecret(clientID, clientSecret string) (bool, error)
}

// KeyStore remembers the PoP key most recently bound to a client, so it can
// be looked up independently of any one issued token. It has no operation
// to remove a key.
type KeyStore interface {
	AddKey(clientID string, key cose.Key) error
	GetKey(clientID string) (cose.Key, error)
}

// TokenStore remembers issued tokens by CTI. The /introspect endpoint does
// not consult it: it verifies the presented token's signature and expiry.
type TokenStore interface {
	AddToken(cti []byte, claims token.Claims) error
	GetToken(cti []byte) (token.Claims, error)
}

// MemClientStore is an in-memory, mutex-guarded ClientStore.
type MemClientStore struct {
	mu      sync.RWMutex
	clients map[string]string // client_id -> client_secret
}

// NewMemClientStore builds an empty in-memory client store.
func NewMemClientStore() *MemClientStore {
	return &MemClientStore{clients: make(map[string]string)}
}

func (s *MemClientStore) RegisterClient(clientID, clientSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; ok {
		return ErrExists
	}
	s.clients[clientID] = clientSecret
	return nil
}

func (s *MemClientStore) CheckSecret(clientID, clientSecret string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.clients[clientID]
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(clientSecret)) == 1, nil
}

// MemKeyStore is an in-memory, mutex-guarded KeyStore.
type MemKeyStore struct {
	mu   sync.RWMutex
	keys map[string]cose.Key
}

// NewMemKeyStore builds an empty in-memory key store.
func NewMemKeyStore() *MemKeyStore {
	return &MemKeyStore{keys: make(map[string]cose.Key)}
}

func (s *MemKeyStore) AddKey(clientID string, key cose.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[clientID] = key
	return nil
}

func (s *MemKeyStore) GetKey(clientID string) (cose.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[clientID]
	if !ok {
		return cose.Key{}, ErrNotExist
	}
	return k, nil
}

// MemTokenStore is an in-memory, mutex-guarded TokenStore.
type MemTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]token.Claims
}

// NewMemTokenStore builds an empty in-memory token store.
func NewMemTokenStore() *MemTokenStore {
	return &MemTokenStore{tokens: make(map[string]token.Claims)}
}

func (s *MemTokenStore) AddToken(cti []byte, claims token.Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(cti)
	if _, ok := s.tokens[key]; ok {
		return ErrExists
	}
	s.tokens[key] = claims
	return nil
}

func (s *MemTokenStore) GetToken(cti []byte) (token.Claims, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tokens[string(cti)]
	if !ok {
		return token.Claims{}, ErrNotExist
	}
	return c, nil
}
