package contextkeys

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID on empty context = %q, want empty", got)
	}
	if got := GetUsername(ctx); got != "" {
		t.Errorf("GetUsername on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUsername(ctx, "alice")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID = %q, want req-1", got)
	}
	if got := GetUsername(ctx); got != "alice" {
		t.Errorf("GetUsername = %q, want alice", got)
	}

	// Wrong type under the key is ignored
	ctx = context.WithValue(ctx, UsernameKey, 42)
	if got := GetUsername(ctx); got != "" {
		t.Errorf("GetUsername with non-string value = %q, want empty", got)
	}
}

func TestClientIP(t *testing.T) {
	ctx := context.Background()
	if got := GetClientIP(ctx); got != "" {
		t.Errorf("GetClientIP on empty context = %q, want empty", got)
	}

	ctx = WithClientIP(ctx, "198.51.100.7")
	if got := GetClientIP(ctx); got != "198.51.100.7" {
		t.Errorf("GetClientIP = %q, want 198.51.100.7", got)
	}
}
