package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileAccountStore keeps accounts in a JSON array on disk. The layout matches
// the legacy users.json file (base64 salt/hash, alg, iterations, dklen), so an
// existing file can be opened directly. Stories embedded in legacy records are
// kept verbatim until ClearLegacyStories is called.
type FileAccountStore struct {
	path string

	mu       sync.RWMutex
	accounts map[string]Account
	order    []string
	legacy   map[string]json.RawMessage
}

// fileRecord is one element of the on-disk array.
type fileRecord struct {
	Account
	Stories json.RawMessage `json:"stories,omitempty"`
}

func NewFileAccountStore(path string) (*FileAccountStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("account state file path is required")
	}

	s := &FileAccountStore{
		path:     path,
		accounts: make(map[string]Account),
		legacy:   make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileAccountStore) Get(_ context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *FileAccountStore) Insert(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Username]; ok {
		return ErrAlreadyExists
	}
	s.accounts[account.Username] = account
	s.order = append(s.order, account.Username)
	if err := s.persistLocked(); err != nil {
		delete(s.accounts, account.Username)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	return nil
}

func (s *FileAccountStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read account store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded []fileRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode account store file: %w", err)
	}
	for _, rec := range decoded {
		a := rec.Account
		if strings.TrimSpace(a.Username) == "" {
			continue
		}
		if _, dup := s.accounts[a.Username]; dup {
			continue
		}
		if a.Algorithm == "" {
			a.Params = DefaultParams()
		}
		s.accounts[a.Username] = a
		s.order = append(s.order, a.Username)
		if hasStories(rec.Stories) {
			s.legacy[a.Username] = rec.Stories
		}
	}
	return nil
}

// LegacyStories returns the raw stories arrays found in legacy records, keyed
// by username.
func (s *FileAccountStore) LegacyStories() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(s.legacy))
	for name, raw := range s.legacy {
		out[name] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// ClearLegacyStories drops the embedded stories and rewrites the file. Call it
// only once the stories have been stored elsewhere.
func (s *FileAccountStore) ClearLegacyStories() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.legacy) == 0 {
		return nil
	}
	prev := s.legacy
	s.legacy = make(map[string]json.RawMessage)
	if err := s.persistLocked(); err != nil {
		s.legacy = prev
		return err
	}
	return nil
}

func hasStories(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("[]"))
}

func (s *FileAccountStore) persistLocked() error {
	out := make([]fileRecord, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, fileRecord{Account: s.accounts[name], Stories: s.legacy[name]})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir account store dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write account store file: %w", err)
	}
	return nil
}
