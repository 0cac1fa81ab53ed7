package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptPrefixes are the modular-crypt prefixes produced by bcrypt
// implementations. Anything else stored in password_hash is legacy plaintext.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// PasswordHasher hashes and compares passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a hasher. A cost of zero uses bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare checks plaintext against a stored value. legacy is true when the
// stored value is not a bcrypt hash; such values only match when allowLegacy
// is set, in which case they are compared as plaintext in constant time.
func (h *PasswordHasher) Compare(stored, plaintext string, allowLegacy bool) (match bool, legacy bool) {
	if stored == "" || plaintext == "" {
		return false, false
	}
	if IsPasswordHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext)) == nil, false
	}
	if !allowLegacy {
		return false, true
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(plaintext)) == 1, true
}

// IsPasswordHash reports whether stored carries a bcrypt prefix.
func IsPasswordHash(stored string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(stored, prefix) {
			return true
		}
	}
	return false
}
