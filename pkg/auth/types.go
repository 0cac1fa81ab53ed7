package auth

import (
	"context"
	"time"
)

// DefaultSessionDuration is how long an issued session stays valid.
const DefaultSessionDuration = 2 * time.Hour

// Account is a login identity. Accounts are never hard deleted.
type Account struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Arrested     bool      `json:"arrested"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is an issued bearer session. Only the SHA-256 of the token is kept.
type Session struct {
	TokenHash string    `json:"-"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CredentialStore persists accounts.
type CredentialStore interface {
	CreateAccount(ctx context.Context, username, passwordHash string) error
	GetAccount(ctx context.Context, username string) (*Account, error)
	SetPasswordHash(ctx context.Context, username, passwordHash string) error
	SetArrested(ctx context.Context, username string, arrested bool) error
	// IsArrested returns true together with any lookup error.
	IsArrested(ctx context.Context, username string) (bool, error)
}

// SessionStore persists sessions and the revocation set.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	// ResolveSession returns the owner of the newest unrevoked, unexpired
	// session for tokenHash, or ErrSessionNotFound.
	ResolveSession(ctx context.Context, tokenHash string, now time.Time) (string, error)
	RevokeToken(ctx context.Context, tokenHash string, revokedAt time.Time) error
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}
