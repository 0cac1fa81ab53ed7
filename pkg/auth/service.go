package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures an Authenticator.
type Options struct {
	SessionDuration time.Duration
	// AllowLegacyPasswords accepts plaintext rows at login and rewrites them
	// as bcrypt hashes on the first match. Off by default; run
	// "gatehouse-admin migrate-passwords" instead.
	AllowLegacyPasswords bool
	Hasher               *PasswordHasher
	Tokens               *TokenGenerator
	Now                  func() time.Time
	Logger               logrus.FieldLogger
}

// Authenticator runs the login flow: rate limiter, password verifier, token
// issuer, session write. It also resolves and revokes tokens.
type Authenticator struct {
	credentials CredentialStore
	sessions    SessionStore
	limiter     AttemptLimiter
	hasher      *PasswordHasher
	tokens      *TokenGenerator
	duration    time.Duration
	allowLegacy bool
	now         func() time.Time
	log         logrus.FieldLogger
}

// NewAuthenticator wires the stores and limiter together.
func NewAuthenticator(credentials CredentialStore, sessions SessionStore, limiter AttemptLimiter, opts Options) *Authenticator {
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = DefaultSessionDuration
	}
	if opts.Hasher == nil {
		opts.Hasher = NewPasswordHasher(0)
	}
	if opts.Tokens == nil {
		opts.Tokens = NewTokenGenerator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if limiter == nil {
		limiter = NewMemoryLimiter(DefaultLimiterConfig(), opts.Now)
	}

	return &Authenticator{
		credentials: credentials,
		sessions:    sessions,
		limiter:     limiter,
		hasher:      opts.Hasher,
		tokens:      opts.Tokens,
		duration:    opts.SessionDuration,
		allowLegacy: opts.AllowLegacyPasswords,
		now:         opts.Now,
		log:         opts.Logger,
	}
}

// NormalizeUsername is applied to every username before it reaches the
// stores or the limiter, so "alice" and " alice " are one account and one
// limiter key.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// Register creates an account with a freshly hashed password.
func (a *Authenticator) Register(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	if username == "" {
		return InvalidInput("username")
	}
	if password == "" {
		return InvalidInput("password")
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return InvalidInput("password")
	}

	if err := a.credentials.CreateAccount(ctx, username, hash); err != nil {
		if KindOf(err) == KindDatabase {
			a.log.WithError(err).WithField("username", username).Error("failed to create account")
		}
		return err
	}

	a.log.WithField("username", username).Info("account created")
	return nil
}

// SetPassword replaces an account's password.
func (a *Authenticator) SetPassword(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	if password == "" {
		return InvalidInput("password")
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return InvalidInput("password")
	}
	return a.credentials.SetPasswordHash(ctx, username, hash)
}

// VerifyPassword compares password with the stored hash for username.
//
// The comparison always runs; the limiter only gates the result. Attempts
// against unknown usernames are counted too, and report RateLimited once the
// key is over its cap. A match on a legacy plaintext row (when allowed)
// rewrites it as a bcrypt hash.
func (a *Authenticator) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	username = NormalizeUsername(username)

	account, err := a.credentials.GetAccount(ctx, username)
	if err != nil {
		if KindOf(err) == KindDatabase {
			a.log.WithError(err).WithField("username", username).Error("failed to load account")
			return false, err
		}
		if limitErr := a.allow(ctx, username); limitErr != nil {
			return false, limitErr
		}
		return false, err
	}

	match, legacy := a.hasher.Compare(account.PasswordHash, password, a.allowLegacy)
	if legacy && !a.allowLegacy {
		a.log.WithField("username", username).Warn("account has a legacy plaintext password; run gatehouse-admin migrate-passwords")
	}

	if err := a.allow(ctx, username); err != nil {
		return false, err
	}

	if match && legacy {
		a.upgradeLegacy(ctx, username, password)
	}

	return match, nil
}

// allow records one attempt for username.
func (a *Authenticator) allow(ctx context.Context, username string) error {
	allowed, err := a.limiter.Allow(ctx, username)
	if err != nil {
		a.log.WithError(err).WithField("username", username).Error("login limiter failed")
		return DatabaseError("login limiter", err)
	}
	if !allowed {
		return RateLimited(username)
	}
	return nil
}

func (a *Authenticator) upgradeLegacy(ctx context.Context, username, password string) {
	hash, err := a.hasher.Hash(password)
	if err == nil {
		err = a.credentials.SetPasswordHash(ctx, username, hash)
	}
	if err != nil {
		a.log.WithError(err).WithField("username", username).Error("failed to upgrade legacy password")
		return
	}
	a.log.WithField("username", username).Info("upgraded legacy password to bcrypt")
}

// Login verifies credentials and issues a session token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = NormalizeUsername(username)
	ok, err := a.VerifyPassword(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, InvalidPassword(username)
	}

	arrested, err := a.credentials.IsArrested(ctx, username)
	if err != nil {
		a.log.WithError(err).WithField("username", username).Error("failed to check arrested status")
		return nil, AccountArrested(username)
	}
	if arrested {
		return nil, AccountArrested(username)
	}

	token, tokenHash, err := a.tokens.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := a.now()
	session := &Session{
		TokenHash: tokenHash,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(a.duration),
	}
	if err := a.sessions.CreateSession(ctx, session); err != nil {
		a.log.WithError(err).WithField("username", username).Error("failed to store session")
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"username": username,
		"token":    TokenPrefix(token),
	}).Info("session issued")

	return &LoginResult{
		Token:     token,
		Username:  username,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// ResolveToken returns the username owning a valid token.
func (a *Authenticator) ResolveToken(ctx context.Context, token string) (string, error) {
	if token == "" || a.tokens.ValidateTokenFormat(token) != nil {
		return "", SessionNotFound()
	}
	return a.sessions.ResolveSession(ctx, HashToken(token), a.now())
}

// VerifyToken reports whether token is issued, unexpired, and unrevoked.
func (a *Authenticator) VerifyToken(ctx context.Context, token string) (bool, error) {
	_, err := a.ResolveToken(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Revoke adds token to the revocation set. Revoking twice is a no-op.
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return InvalidInput("token")
	}
	if err := a.sessions.RevokeToken(ctx, HashToken(token), a.now()); err != nil {
		a.log.WithError(err).Error("failed to revoke token")
		return err
	}
	a.log.WithField("token", TokenPrefix(token)).Info("token revoked")
	return nil
}
