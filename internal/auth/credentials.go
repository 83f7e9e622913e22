package auth

import (
	"errors"
	"math/big"
	"sync"
)

// ErrCredentialNotFound is returned by a CredentialStore that has no entry
// for the requested username.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is what a passive handshake needs to verify a user.
type Credential struct {
	// Username is the canonical name. If empty, the requested name is used.
	Username string
	Salt     []byte
	Verifier *big.Int
}

// CredentialStore looks up stored verifiers by username.
//
// Lookup returns ErrCredentialNotFound (possibly wrapped) when the user is
// unknown. Any other error is treated as a store failure.
type CredentialStore interface {
	Lookup(username string, data []byte) (*Credential, error)
}

// MemoryStore is a thread-safe in-memory CredentialStore.
type MemoryStore struct {
	entries map[string]Credential
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Credential),
	}
}

// Add stores cred under username, replacing any existing entry.
func (s *MemoryStore) Add(username string, cred Credential) {
	if cred.Username == "" {
		cred.Username = username
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[username] = cred
}

// Register derives a fresh salt and verifier for username and password in
// the keySize group and stores them.
func (s *MemoryStore) Register(username, password string, keySize int) error {
	salt, verifier, err := PasswordVerifier(username, password, keySize)
	if err != nil {
		return err
	}
	s.Add(username, Credential{Username: username, Salt: salt, Verifier: verifier})
	return nil
}

// Lookup implements CredentialStore.
func (s *MemoryStore) Lookup(username string, _ []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.entries[username]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

// Count returns the number of stored credentials.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
