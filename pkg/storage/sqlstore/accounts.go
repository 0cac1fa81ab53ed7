package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// bcrypt hash prefixes; anything else in password_hash is legacy plaintext.
var bcryptPrefixes = []string{"$2a$%", "$2b$%", "$2y$%"}

// CreateAccount inserts a new account, failing with ExistingUser if the
// username is taken.
func (s *Store) CreateAccount(ctx context.Context, username, passwordHash string) error {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, password_hash, arrested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, username, passwordHash, false, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ExistingUser(username)
		}
		return auth.DatabaseError("create account", err)
	}
	return nil
}

// GetAccount loads an account by username.
func (s *Store) GetAccount(ctx context.Context, username string) (*auth.Account, error) {
	var (
		account   auth.Account
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, arrested, created_at, updated_at
		FROM accounts
		WHERE username = $1
	`, username).Scan(&account.Username, &account.PasswordHash, &account.Arrested, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.UserNotFound(username)
	}
	if err != nil {
		return nil, auth.DatabaseError("get account", err)
	}

	account.CreatedAt = fromMillis(createdAt)
	account.UpdatedAt = fromMillis(updatedAt)
	return &account, nil
}

// SetPasswordHash replaces the stored hash.
func (s *Store) SetPasswordHash(ctx context.Context, username, passwordHash string) error {
	return s.updateAccount(ctx, "set password", username,
		"UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE username = $3",
		passwordHash, toMillis(s.now()), username)
}

// SetArrested sets or clears the arrested flag.
func (s *Store) SetArrested(ctx context.Context, username string, arrested bool) error {
	return s.updateAccount(ctx, "set arrested", username,
		"UPDATE accounts SET arrested = $1, updated_at = $2 WHERE username = $3",
		arrested, toMillis(s.now()), username)
}

func (s *Store) updateAccount(ctx context.Context, op, username, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return auth.DatabaseError(op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return auth.DatabaseError(op, err)
	}
	if rows == 0 {
		return auth.UserNotFound(username)
	}
	return nil
}

// IsArrested reports the arrested flag. Any failure, including a missing
// account, reports true alongside the error.
func (s *Store) IsArrested(ctx context.Context, username string) (bool, error) {
	var arrested bool
	err := s.db.QueryRowContext(ctx,
		"SELECT arrested FROM accounts WHERE username = $1", username,
	).Scan(&arrested)
	if errors.Is(err, sql.ErrNoRows) {
		return true, auth.UserNotFound(username)
	}
	if err != nil {
		return true, auth.DatabaseError("is arrested", err)
	}
	return arrested, nil
}

// ListLegacyAccounts returns accounts whose password_hash is not bcrypt.
func (s *Store) ListLegacyAccounts(ctx context.Context) ([]*auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, arrested, created_at, updated_at
		FROM accounts
		WHERE password_hash NOT LIKE $1
		  AND password_hash NOT LIKE $2
		  AND password_hash NOT LIKE $3
		ORDER BY username
	`, bcryptPrefixes[0], bcryptPrefixes[1], bcryptPrefixes[2])
	if err != nil {
		return nil, auth.DatabaseError("list legacy accounts", err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		var (
			account   auth.Account
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&account.Username, &account.PasswordHash, &account.Arrested, &createdAt, &updatedAt); err != nil {
			return nil, auth.DatabaseError("list legacy accounts", err)
		}
		account.CreatedAt = fromMillis(createdAt)
		account.UpdatedAt = fromMillis(updatedAt)
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.DatabaseError("list legacy accounts", err)
	}
	return accounts, nil
}
