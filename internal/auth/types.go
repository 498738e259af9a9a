package auth

import "time"

// Account is a registered user. KDF parameters are frozen at registration so
// later accounts can adopt stronger defaults without invalidating older ones.
type Account struct {
	Username  string    `json:"username"`
	Salt      []byte    `json:"salt"`
	Hash      []byte    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	Params
}

type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
