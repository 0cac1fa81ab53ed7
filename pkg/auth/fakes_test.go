package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*Account
	sessions    []*Session
	revoked     map[string]time.Time
	arrestedErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string]*Account),
		revoked:  make(map[string]time.Time),
	}
}

func (s *memoryStore) CreateAccount(ctx context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[username]; ok {
		return ExistingUser(username)
	}
	s.accounts[username] = &Account{Username: username, PasswordHash: passwordHash}
	return nil
}

func (s *memoryStore) GetAccount(ctx context.Context, username string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, UserNotFound(username)
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) SetPasswordHash(ctx context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return UserNotFound(username)
	}
	a.PasswordHash = passwordHash
	return nil
}

func (s *memoryStore) SetArrested(ctx context.Context, username string, arrested bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return UserNotFound(username)
	}
	a.Arrested = arrested
	return nil
}

func (s *memoryStore) IsArrested(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arrestedErr != nil {
		return true, s.arrestedErr
	}
	a, ok := s.accounts[username]
	if !ok {
		return true, UserNotFound(username)
	}
	return a.Arrested, nil
}

func (s *memoryStore) ListLegacyAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Account
	for _, a := range s.accounts {
		if !IsPasswordHash(a.PasswordHash) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions = append(s.sessions, &cp)
	return nil
}

func (s *memoryStore) ResolveSession(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[tokenHash]; ok {
		return "", SessionNotFound()
	}
	for i := len(s.sessions) - 1; i >= 0; i-- {
		sess := s.sessions[i]
		if sess.TokenHash == tokenHash && !sess.Expired(now) {
			return sess.Username, nil
		}
	}
	return "", SessionNotFound()
}

func (s *memoryStore) RevokeToken(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[tokenHash]; !ok {
		s.revoked[tokenHash] = revokedAt
	}
	return nil
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("connection refused")
}
