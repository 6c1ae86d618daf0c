// Package rs implements the Resource Server: accepting a PoP access token
// out-of-band, running the EDHOC responder side keyed by that token's
// bound KID, and gating application handlers behind the resulting OSCORE
// context (spec §4.8).
package rs

import (
	"crypto/ecdsa"
	"sync"

	"github.com/aceoauth/edhoc-gateway/internal/token"
)

// PeerStore maps a client's long-term KID to the access token it presented
// and the proof-of-possession key bound to that token, mirroring the
// AS's ClientStore/KeyStore/TokenStore split (spec §9 "Mutable registries").
type PeerStore interface {
	RegisterPeer(kid []byte, claims token.Claims, popKey *ecdsa.PublicKey) error
	ResolvePeer(kid []byte) (*ecdsa.PublicKey, error)
	GetClaims(kid []byte) (token.Claims, error)
	RemovePeer(kid []byte) error
}

type peerEntry struct {
	claims token.Claims
	popKey *ecdsa.PublicKey
}

// MemPeerStore is an in-memory, mutex-guarded PeerStore. A later
// RegisterPeer call for the same KID replaces the earlier entry: a client
// re-authorizing with a fresh token is expected to supersede, not
// duplicate-reject, its previous registration.
type MemPeerStore struct {
	mu    sync.RWMutex
	peers map[string]peerEntry
}

// NewMemPeerStore builds an empty in-memory peer store.
func NewMemPeerStore() *MemPeerStore {
	return &MemPeerStore{peers: make(map[string]peerEntry)}
}

func (s *MemPeerStore) RegisterPeer(kid []byte, claims token.Claims, popKey *ecdsa.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[string(kid)] = peerEntry{claims: claims, popKey: popKey}
	return nil
}

func (s *MemPeerStore) ResolvePeer(kid []byte) (*ecdsa.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.peers[string(kid)]
	if !ok {
		return nil, ErrNotExist
	}
	return e.popKey, nil
}

func (s *MemPeerStore) GetClaims(kid []byte) (token.Claims, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.peers[string(kid)]
	if !ok {
		return token.Claims{}, ErrNotExist
	}
	return e.claims, nil
}

func (s *MemPeerStore) RemovePeer(kid []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[string(kid)]; !ok {
		return ErrNotExist
	}
	delete(s.peers, string(kid))
	return nil
}
