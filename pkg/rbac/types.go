package rbac

import (
	"sort"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Permission is a named boolean capability granted per user. Each one gates
// a route group.
type Permission string

const (
	PermissionAdmin        Permission = "admin"
	PermissionCentralFiles Permission = "central_files"
	PermissionProfiles     Permission = "profiles"
	PermissionFinance      Permission = "finance"
	PermissionFileServer   Permission = "file_server"
	PermissionBulletin     Permission = "bulletin"
	PermissionSignalRoutes Permission = "signal_routes"
)

// DefaultPermissionValue is the value of a permission with no grant row.
// Ungranted means denied.
const DefaultPermissionValue = false

var allPermissions = []Permission{
	PermissionAdmin,
	PermissionCentralFiles,
	PermissionProfiles,
	PermissionFinance,
	PermissionFileServer,
	PermissionBulletin,
	PermissionSignalRoutes,
}

// AllPermissions returns the fixed permission set.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// Valid reports whether p belongs to the fixed set.
func (p Permission) Valid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission validates a permission name.
func ParsePermission(name string) (Permission, error) {
	p := Permission(strings.TrimSpace(name))
	if !p.Valid() {
		return "", auth.UnknownPermission(name)
	}
	return p, nil
}

// FillDefaults sets DefaultPermissionValue for every permission of the fixed
// set missing from grants. Explicit grants are never overwritten.
func FillDefaults(grants map[Permission]bool) map[Permission]bool {
	if grants == nil {
		grants = make(map[Permission]bool, len(allPermissions))
	}
	for _, p := range allPermissions {
		if _, ok := grants[p]; !ok {
			grants[p] = DefaultPermissionValue
		}
	}
	return grants
}

// SortedPermissions returns the keys of grants in name order.
func SortedPermissions(grants map[Permission]bool) []Permission {
	out := make([]Permission, 0, len(grants))
	for p := range grants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
