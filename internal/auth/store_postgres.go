package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresAccountStore relies on the accounts table created by the
// migrations package; the primary key on username is the uniqueness check.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) (*PostgresAccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresAccountStore{db: db}, nil
}

func (s *PostgresAccountStore) Get(ctx context.Context, username string) (Account, error) {
	if strings.TrimSpace(username) == "" {
		return Account{}, ErrAccountNotFound
	}

	var a Account
	const q = `SELECT username, salt, hash, algorithm, iterations, key_length, created_at FROM accounts WHERE username = $1`
	err := s.db.QueryRowContext(ctx, q, username).
		Scan(&a.Username, &a.Salt, &a.Hash, &a.Algorithm, &a.Iterations, &a.KeyLength, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (s *PostgresAccountStore) Insert(ctx context.Context, a Account) error {
	if a.Username == "" || len(a.Salt) == 0 || len(a.Hash) == 0 {
		return fmt.Errorf("username, salt, and hash are required")
	}

	const q = `
INSERT INTO accounts (username, salt, hash, algorithm, iterations, key_length, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (username) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, a.Username, a.Salt, a.Hash, a.Algorithm, a.Iterations, a.KeyLength, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert account rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}
