package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"

	DefaultIterations = 150_000
	DefaultKeyLength  = 32

	saltLength = 16
)

var ErrUnsupportedAlgorithm = errors.New("unsupported kdf algorithm")

// Params are the PBKDF2 inputs other than password and salt.
type Params struct {
	Algorithm  string `json:"alg"`
	Iterations int    `json:"iterations"`
	KeyLength  int    `json:"dklen"`
}

func DefaultParams() Params {
	return Params{
		Algorithm:  AlgorithmSHA256,
		Iterations: DefaultIterations,
		KeyLength:  DefaultKeyLength,
	}
}

func (p Params) Validate() error {
	if _, err := p.hashFunc(); err != nil {
		return err
	}
	if p.Iterations <= 0 {
		return fmt.Errorf("kdf iterations must be > 0")
	}
	if p.KeyLength < 16 {
		return fmt.Errorf("kdf key length must be >= 16")
	}
	return nil
}

// Derive is deterministic for identical password, salt and params.
func (p Params) Derive(password string, salt []byte) ([]byte, error) {
	h, err := p.hashFunc()
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(password), salt, p.Iterations, p.KeyLength, h), nil
}

func (p Params) hashFunc() (func() hash.Hash, error) {
	switch p.Algorithm {
	case AlgorithmSHA256:
		return sha256.New, nil
	case AlgorithmSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, p.Algorithm)
	}
}

func newSalt() ([]byte, error) {
	b := make([]byte, saltLength)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return b, nil
}
