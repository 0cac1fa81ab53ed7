package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// TokenMarker is the constant first segment of every session token.
	TokenMarker = "gh"

	tokenSeparator = "."

	// Random bytes per segment: 16 + 8 + 8 = 256 bits.
	primarySegmentBytes   = 16
	secondarySegmentBytes = 8
)

var segmentSizes = []int{primarySegmentBytes, secondarySegmentBytes, secondarySegmentBytes}

// TokenGenerator generates and validates session tokens.
//
// Format: gh.<base64url(16 bytes)>.<base64url(8 bytes)>.<base64url(8 bytes)>
// Each segment is read independently from the random source.
type TokenGenerator struct {
	random io.Reader
}

// NewTokenGenerator creates a generator backed by crypto/rand.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{random: rand.Reader}
}

// GenerateToken creates a new token and the hash used to store it.
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, err error) {
	parts := make([]string, 0, len(segmentSizes)+1)
	parts = append(parts, TokenMarker)

	for _, size := range segmentSizes {
		segment := make([]byte, size)
		if _, err := io.ReadFull(tg.random, segment); err != nil {
			return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		parts = append(parts, base64.RawURLEncoding.EncodeToString(segment))
	}

	token = strings.Join(parts, tokenSeparator)
	return token, HashToken(token), nil
}

// ValidateTokenFormat checks the marker and segment sizes of a token.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	parts := strings.Split(token, tokenSeparator)
	if len(parts) != len(segmentSizes)+1 {
		return fmt.Errorf("token must have %d segments", len(segmentSizes)+1)
	}
	if parts[0] != TokenMarker {
		return fmt.Errorf("token must start with %q", TokenMarker+tokenSeparator)
	}

	for i, size := range segmentSizes {
		decoded, err := base64.RawURLEncoding.DecodeString(parts[i+1])
		if err != nil {
			return fmt.Errorf("invalid token encoding: %w", err)
		}
		if len(decoded) != size {
			return fmt.Errorf("token segment %d has %d bytes, want %d", i+1, len(decoded), size)
		}
	}

	return nil
}

// HashToken computes the SHA-256 hex digest of a token for storage and lookup.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// TokenPrefix returns a short, non-secret identifier for logs.
func TokenPrefix(token string) string {
	parts := strings.SplitN(token, tokenSeparator, 3)
	if len(parts) < 2 || parts[0] != TokenMarker {
		return ""
	}
	if len(parts[1]) > 6 {
		return TokenMarker + tokenSeparator + parts[1][:6]
	}
	return TokenMarker + tokenSeparator + parts[1]
}
