package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAlreadyExists   = errors.New("username already exists")
)

// AccountStore is the persistence substrate for accounts. Insert must check
// for an existing username and insert as a single atomic step.
type AccountStore interface {
	Get(ctx context.Context, username string) (Account, error)
	Insert(ctx context.Context, account Account) error
}

type InMemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{accounts: make(map[string]Account)}
}

func (s *InMemoryAccountStore) Get(_ context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *InMemoryAccountStore) Insert(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Username]; ok {
		return ErrAlreadyExists
	}
	s.accounts[account.Username] = account
	return nil
}
