package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// CreateSession stores an issued session keyed by its token hash.
func (s *Store) CreateSession(ctx context.Context, session *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, username, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, session.TokenHash, session.Username, toMillis(session.CreatedAt), toMillis(session.ExpiresAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return auth.UserNotFound(session.Username)
		}
		return auth.DatabaseError("create session", err)
	}
	return nil
}

// ResolveSession returns the owner of the newest session for tokenHash that
// is neither expired at now nor revoked.
func (s *Store) ResolveSession(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var username string
	err := s.db.QueryRowContext(ctx, `
		SELECT s.username
		FROM sessions s
		WHERE s.token_hash = $1
		  AND s.expires_at > $2
		  AND NOT EXISTS (
			SELECT 1 FROM revoked_tokens r WHERE r.token_hash = s.token_hash
		  )
		ORDER BY s.created_at DESC
		LIMIT 1
	`, tokenHash, toMillis(now)).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.SessionNotFound()
	}
	if err != nil {
		return "", auth.DatabaseError("resolve session", err)
	}
	return username, nil
}

// RevokeToken adds tokenHash to the revocation set. Revocations are
// permanent and idempotent.
func (s *Store) RevokeToken(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_hash, revoked_at)
		VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, toMillis(revokedAt))
	if err != nil {
		return auth.DatabaseError("revoke token", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions expired at now and returns how many
// were removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= $1", toMillis(now))
	if err != nil {
		return 0, auth.DatabaseError("purge sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, auth.DatabaseError("purge sessions", err)
	}
	if n > 0 {
		s.log.WithField("count", n).Debug("purged expired sessions")
	}
	return n, nil
}

// CountActiveSessions returns how many sessions for username are live at now.
func (s *Store) CountActiveSessions(ctx context.Context, username string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sessions s
		WHERE s.username = $1
		  AND s.expires_at > $2
		  AND NOT EXISTS (
			SELECT 1 FROM revoked_tokens r WHERE r.token_hash = s.token_hash
		  )
	`, username, toMillis(now)).Scan(&count)
	if err != nil {
		return 0, auth.DatabaseError("count sessions", err)
	}
	return count, nil
}
