package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "session:"

// RedisSessions stores each session under its own key with a TTL equal to
// the session lifetime, so Redis does the expiry sweeping.
type RedisSessions struct {
	client  redis.Cmdable
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewRedisSessions(client redis.Cmdable, ttl time.Duration) (*RedisSessions, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	return &RedisSessions{client: client, ttl: ttl, nowFunc: time.Now}, nil
}

func (r *RedisSessions) Create(ctx context.Context, username string) (Session, error) {
	token, err := generateToken(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}

	now := r.nowFunc()
	sess := Session{
		ID:        uuid.NewString(),
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisSessionPrefix+token, b, r.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (r *RedisSessions) Resolve(ctx context.Context, token string) (Session, bool, error) {
	if token == "" {
		return Session{}, false, nil
	}
	b, err := r.client.Get(ctx, redisSessionPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	// Key TTL and ExpiresAt can disagree by clock skew between hosts.
	if sess.expired(r.nowFunc()) {
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (r *RedisSessions) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := r.client.Del(ctx, redisSessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
