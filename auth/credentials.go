// ABOUTME: Process-wide credential storage for the bearer token attached to every backend request.
// ABOUTME: KeyringStore persists in the OS keyring; MemoryStore backs tests and ephemeral sessions.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name credentials are filed under.
const DefaultService = "kiwi"

// Store holds the bearer credential. Token returns "" with a nil error when
// no credential is stored.
type Store interface {
	Token() (string, error)
	SetToken(token string) error
	Clear() error
}

// KeyringStore keeps the credential in the operating system keyring.
type KeyringStore struct {
	Service string
	User    string
}

// NewKeyringStore returns a keyring-backed store for the given account name.
func NewKeyringStore(user string) *KeyringStore {
	return &KeyringStore{Service: DefaultService, User: user}
}

func (s *KeyringStore) Token() (string, error) {
	token, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return token, nil
}

func (s *KeyringStore) SetToken(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	if err := keyring.Set(s.Service, s.User, token); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *KeyringStore) Clear() error {
	err := keyring.Delete(s.Service, s.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns a store pre-loaded with token (may be empty).
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) SetToken(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}
