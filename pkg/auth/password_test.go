package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret123")
	require.NoError(t, err)
	assert.True(t, IsPasswordHash(hash))
	assert.NotEqual(t, "secret123", hash)

	match, legacy := h.Compare(hash, "secret123", false)
	assert.True(t, match)
	assert.False(t, legacy)

	match, _ = h.Compare(hash, "wrong", false)
	assert.False(t, match)
}

func TestPasswordHasher_SaltsEachHash(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestPasswordHasher_EmptyPassword(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	_, err := h.Hash("")
	assert.Error(t, err)
}

func TestPasswordHasher_TooLong(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("x", 100))
	assert.Error(t, err)
}

func TestPasswordHasher_Legacy(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	match, legacy := h.Compare("plaintext", "plaintext", false)
	assert.False(t, match, "legacy rows must not match when legacy is disabled")
	assert.True(t, legacy)

	match, legacy = h.Compare("plaintext", "plaintext", true)
	assert.True(t, match)
	assert.True(t, legacy)

	match, _ = h.Compare("plaintext", "other", true)
	assert.False(t, match)
}

func TestIsPasswordHash(t *testing.T) {
	assert.True(t, IsPasswordHash("$2a$10$abcdefghijklmnopqrstuv"))
	assert.True(t, IsPasswordHash("$2b$12$abcdefghijklmnopqrstuv"))
	assert.True(t, IsPasswordHash("$2y$10$abcdefghijklmnopqrstuv"))
	assert.False(t, IsPasswordHash("secret123"))
	assert.False(t, IsPasswordHash("$1$md5crypt"))
	assert.False(t, IsPasswordHash(""))
}
