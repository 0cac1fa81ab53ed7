package rbac

import (
	"context"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

type fakeBackend struct {
	mu         sync.Mutex
	sessions   map[string]string
	arrested   map[string]bool
	grants     map[string]map[Permission]bool
	resolveErr error
	arrestErr  error
	grantErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]string),
		arrested: make(map[string]bool),
		grants:   make(map[string]map[Permission]bool),
	}
}

func (f *fakeBackend) ResolveToken(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	username, ok := f.sessions[token]
	if !ok {
		return "", auth.SessionNotFound()
	}
	return username, nil
}

func (f *fakeBackend) IsArrested(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arrestErr != nil {
		return true, f.arrestErr
	}
	return f.arrested[username], nil
}

func (f *fakeBackend) GetPermission(ctx context.Context, username string, permission Permission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return false, f.grantErr
	}
	allowed, ok := f.grants[username][permission]
	if !ok {
		return DefaultPermissionValue, nil
	}
	return allowed, nil
}

func (f *fakeBackend) grant(username string, p Permission, allowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grants[username] == nil {
		f.grants[username] = make(map[Permission]bool)
	}
	f.grants[username][p] = allowed
}
