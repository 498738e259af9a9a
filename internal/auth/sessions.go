package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenBytes = 32

// SessionManager issues and resolves opaque bearer tokens. Resolve reports
// ok=false for unknown, expired and invalidated tokens alike.
type SessionManager interface {
	Create(ctx context.Context, username string) (Session, error)
	Resolve(ctx context.Context, token string) (Session, bool, error)
	Invalidate(ctx context.Context, token string) error
}

// MemorySessions keeps sessions in process. Expiry is a fixed window from
// creation; expired entries are purged lazily on Resolve and by Sweep.
type MemorySessions struct {
	ttl     time.Duration
	nowFunc func() time.Time
	store   SessionStore

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessions(ttl time.Duration, store SessionStore) (*MemorySessions, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	return &MemorySessions{
		ttl:      ttl,
		nowFunc:  time.Now,
		store:    store,
		sessions: make(map[string]Session),
	}, nil
}

func (m *MemorySessions) Create(ctx context.Context, username string) (Session, error) {
	token, err := generateToken(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}

	now := m.nowFunc()
	sess := Session{
		ID:        uuid.NewString(),
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = sess
	if err := m.persistLocked(ctx); err != nil {
		delete(m.sessions, token)
		return Session{}, err
	}
	return sess, nil
}

func (m *MemorySessions) Resolve(ctx context.Context, token string) (Session, bool, error) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false, nil
	}

	if sess.expired(m.nowFunc()) {
		m.mu.Lock()
		delete(m.sessions, token)
		_ = m.persistLocked(ctx)
		m.mu.Unlock()
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (m *MemorySessions) Invalidate(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return nil
	}
	delete(m.sessions, token)
	return m.persistLocked(ctx)
}

// Sweep purges expired sessions and returns how many were removed.
func (m *MemorySessions) Sweep(ctx context.Context) int {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, sess := range m.sessions {
		if sess.expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		_ = m.persistLocked(ctx)
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *MemorySessions) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be > 0")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Load replaces the in-process table with the snapshot from the store,
// dropping sessions that expired while the process was down.
func (m *MemorySessions) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	state, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}

	now := m.nowFunc()
	for token, sess := range state {
		if sess.expired(now) {
			delete(state, token)
		}
	}

	m.mu.Lock()
	m.sessions = state
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemorySessions) persistLocked(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, m.sessions); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

func generateToken(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token length too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func mustID(n int) string {
	id, err := generateToken(n)
	if err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return id
}
