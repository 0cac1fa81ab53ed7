package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// SetPermission grants or denies one permission. The grant row is upserted.
func (s *Store) SetPermission(ctx context.Context, username string, permission rbac.Permission, allowed bool) error {
	if !permission.Valid() {
		return auth.UnknownPermission(string(permission))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_grants (username, permission, allowed, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username, permission)
		DO UPDATE SET allowed = excluded.allowed, updated_at = excluded.updated_at
	`, username, string(permission), allowed, toMillis(s.now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return auth.UserNotFound(username)
		}
		return auth.DatabaseError("set permission", err)
	}
	return nil
}

// GetPermission returns the stored grant, or rbac.DefaultPermissionValue
// when no row exists.
func (s *Store) GetPermission(ctx context.Context, username string, permission rbac.Permission) (bool, error) {
	if !permission.Valid() {
		return false, auth.UnknownPermission(string(permission))
	}

	var allowed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT allowed FROM permission_grants
		WHERE username = $1 AND permission = $2
	`, username, string(permission)).Scan(&allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.DefaultPermissionValue, nil
	}
	if err != nil {
		return false, auth.DatabaseError("get permission", err)
	}
	return allowed, nil
}

// ListPermissions returns the stored grants for username. With fill set,
// every known permission appears, missing ones at the default value.
func (s *Store) ListPermissions(ctx context.Context, username string, fill bool) (map[rbac.Permission]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT permission, allowed FROM permission_grants
		WHERE username = $1
	`, username)
	if err != nil {
		return nil, auth.DatabaseError("list permissions", err)
	}
	defer rows.Close()

	grants := make(map[rbac.Permission]bool)
	for rows.Next() {
		var (
			name    string
			allowed bool
		)
		if err := rows.Scan(&name, &allowed); err != nil {
			return nil, auth.DatabaseError("list permissions", err)
		}
		permission := rbac.Permission(name)
		if !permission.Valid() {
			s.log.WithFields(logrus.Fields{
				"username":   username,
				"permission": name,
			}).Warn("ignoring grant for unknown permission")
			continue
		}
		grants[permission] = allowed
	}
	if err := rows.Err(); err != nil {
		return nil, auth.DatabaseError("list permissions", err)
	}

	if fill {
		grants = rbac.FillDefaults(grants)
	}
	return grants, nil
}
