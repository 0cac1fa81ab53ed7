// Package auth provides account credentials, session tokens, and the login
// flow for gatehouse.
//
// # Overview
//
// A login passes through four steps:
//
//	limiter   -> at most 5 attempts per username per 300s (sliding window)
//	verifier  -> bcrypt comparison against the stored hash
//	issuer    -> gh.<16 bytes>.<8 bytes>.<8 bytes>, base64url, crypto/rand
//	sessions  -> SHA-256(token) stored with expires_at = now + 2h
//
// The comparison always runs even when the limiter denies the attempt; the
// limiter only gates the final answer.
//
// # Usage
//
//	authn := auth.NewAuthenticator(store, store, auth.NewMemoryLimiter(auth.DefaultLimiterConfig(), nil), auth.Options{})
//	res, err := authn.Login(ctx, "alice", "secret123")
//	switch auth.KindOf(err) {
//	case auth.KindUserNotFound:   // 404
//	case auth.KindInvalidPassword: // 401
//	case auth.KindRateLimited:    // 429
//	}
//
//	username, err := authn.ResolveToken(ctx, res.Token)
//	authn.Revoke(ctx, res.Token)
//
// # Legacy Passwords
//
// Rows whose password_hash lacks a bcrypt prefix are legacy plaintext. The
// live path rejects them unless Options.AllowLegacyPasswords is set, in which
// case a successful comparison rewrites the row as bcrypt. The supported path
// is the offline "gatehouse-admin migrate-passwords" command, which calls
// MigrateLegacyPasswords.
//
// # Rate Limiting
//
// MemoryLimiter is process local. RedisLimiter keeps the same window in a
// Redis sorted set per username so every instance sees the same history.
package auth
