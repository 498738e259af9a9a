package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
)

// Credentials registers accounts and verifies passwords against them.
// KDF work always happens outside the account store's critical section.
type Credentials struct {
	accounts AccountStore
	params   Params
	nowFunc  func() time.Time

	dummySalt []byte
	dummyHash []byte
}

func NewCredentials(accounts AccountStore, params Params) (*Credentials, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("kdf params: %w", err)
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	dummy, err := params.Derive(mustID(16), salt)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		accounts:  accounts,
		params:    params,
		nowFunc:   time.Now,
		dummySalt: salt,
		dummyHash: dummy,
	}, nil
}

func (c *Credentials) Register(ctx context.Context, username, password string) (Account, error) {
	salt, err := newSalt()
	if err != nil {
		return Account{}, err
	}
	hash, err := c.params.Derive(password, salt)
	if err != nil {
		return Account{}, err
	}

	a := Account{
		Username:  username,
		Salt:      salt,
		Hash:      hash,
		CreatedAt: c.nowFunc().UTC(),
		Params:    c.params,
	}
	if err := c.accounts.Insert(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return Account{}, ErrAlreadyExists
		}
		return Account{}, fmt.Errorf("store account: %w", err)
	}
	return a, nil
}

// Verify reports whether password matches the stored credential. An unknown
// username is checked against a dummy hash so both failure paths cost one KDF
// run; the error return is reserved for substrate failures.
func (c *Credentials) Verify(ctx context.Context, username, password string) (bool, error) {
	a, err := c.accounts.Get(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return false, fmt.Errorf("lookup account: %w", err)
		}
		candidate, _ := c.params.Derive(password, c.dummySalt)
		subtle.ConstantTimeCompare(candidate, c.dummyHash)
		return false, nil
	}

	candidate, err := a.Params.Derive(password, a.Salt)
	if err != nil {
		return false, fmt.Errorf("derive credential for %q: %w", a.Username, err)
	}
	return subtle.ConstantTimeCompare(candidate, a.Hash) == 1, nil
}

func (c *Credentials) Lookup(ctx context.Context, username string) (Account, error) {
	return c.accounts.Get(ctx, username)
}
