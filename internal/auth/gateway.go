package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakInput          = errors.New("username and password are required")
)

// Gateway is the authentication boundary: every protected operation resolves
// its caller through CurrentUser.
type Gateway struct {
	credentials *Credentials
	sessions    SessionManager
	log         *zap.Logger

	minUsernameLen int
	minPasswordLen int
}

type GatewayConfig struct {
	MinUsernameLength int
	MinPasswordLength int
	Logger            *zap.Logger
}

func NewGateway(credentials *Credentials, sessions SessionManager, cfg GatewayConfig) (*Gateway, error) {
	if credentials == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		credentials:    credentials,
		sessions:       sessions,
		log:            log,
		minUsernameLen: max(cfg.MinUsernameLength, 1),
		minPasswordLen: max(cfg.MinPasswordLength, 1),
	}, nil
}

// Register creates an account. It does not log the user in.
func (g *Gateway) Register(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)
	if len(username) < g.minUsernameLen || len(password) < g.minPasswordLen {
		return Account{}, ErrWeakInput
	}
	return g.credentials.Register(ctx, username, password)
}

// Login returns ErrInvalidCredentials for both unknown users and wrong
// passwords.
func (g *Gateway) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	ok, err := g.credentials.Verify(ctx, username, password)
	if err != nil {
		return Session{}, fmt.Errorf("verify credentials: %w", err)
	}
	if !ok {
		return Session{}, ErrInvalidCredentials
	}

	sess, err := g.sessions.Create(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Logout is a no-op for tokens that are already invalid.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return g.sessions.Invalidate(ctx, token)
}

func (g *Gateway) CurrentSession(ctx context.Context, token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	sess, ok, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		g.log.Warn("resolve session failed", zap.Error(err))
		return Session{}, false
	}
	if !ok {
		return Session{}, false
	}

	if _, err := g.credentials.Lookup(ctx, sess.Username); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_ = g.sessions.Invalidate(ctx, token)
			return Session{}, false
		}
		g.log.Warn("lookup session account failed", zap.String("session_id", sess.ID), zap.Error(err))
		return Session{}, false
	}
	return sess, true
}

func (g *Gateway) CurrentUser(ctx context.Context, token string) (string, bool) {
	sess, ok := g.CurrentSession(ctx, token)
	if !ok {
		return "", false
	}
	return sess.Username, true
}
