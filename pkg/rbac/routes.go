package rbac

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"
)

// DefaultExemptRoutes are reachable without a session. Entries ending in
// "*" match by prefix.
var DefaultExemptRoutes = []string{
	"/",
	"/login",
	"/register",
	"/favicon.ico",
	"/robots.txt",
	"/static/*",
	"/api/login",
	"/api/register",
	"/api/verify-token",
	"/api/logout",
}

// CanonicalRoute normalizes a route template or path: surrounding space and
// any trailing slash are removed, a leading slash is ensured, and the root
// stays "/".
func CanonicalRoute(route string) string {
	route = strings.TrimSpace(route)
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	for len(route) > 1 && strings.HasSuffix(route, "/") {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}

// ExemptList matches routes that bypass authentication.
type ExemptList struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewExemptList builds a list from entries. "/static/*" matches
// "/static/app.css" and "/static" itself.
func NewExemptList(entries []string) ExemptList {
	list := ExemptList{exact: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasSuffix(entry, "*") {
			prefix := strings.TrimSuffix(entry, "*")
			list.prefixes = append(list.prefixes, prefix)
			list.exact[CanonicalRoute(prefix)] = struct{}{}
			continue
		}
		list.exact[CanonicalRoute(entry)] = struct{}{}
	}
	return list
}

// Match reports whether route is exempt.
func (l ExemptList) Match(route string) bool {
	if route == "" {
		return false
	}
	if _, ok := l.exact[CanonicalRoute(route)]; ok {
		return true
	}
	for _, prefix := range l.prefixes {
		if strings.HasPrefix(route, prefix) {
			return true
		}
	}
	return false
}

// RouteTable maps canonical route templates to the permission they require.
// It is built once at startup and never mutated.
type RouteTable struct {
	routes map[string]Permission
	public map[string]struct{}
}

type routeFile struct {
	Routes map[string]string `json:"routes" yaml:"routes"`
	Public []string          `json:"public" yaml:"public"`
}

// NewRouteTable validates and canonicalizes routes. public lists templates
// reachable by any authenticated, non-arrested user.
func NewRouteTable(routes map[string]Permission, public []string) (*RouteTable, error) {
	t := &RouteTable{
		routes: make(map[string]Permission, len(routes)),
		public: make(map[string]struct{}, len(public)),
	}

	for tpl, perm := range routes {
		if !perm.Valid() {
			return nil, fmt.Errorf("route %s: unknown permission %q", tpl, perm)
		}
		key := CanonicalRoute(tpl)
		if existing, ok := t.routes[key]; ok && existing != perm {
			return nil, fmt.Errorf("route %s declared twice with %q and %q", key, existing, perm)
		}
		t.routes[key] = perm
	}

	for _, tpl := range public {
		key := CanonicalRoute(tpl)
		if _, ok := t.routes[key]; ok {
			return nil, fmt.Errorf("route %s is both public and permission-gated", key)
		}
		t.public[key] = struct{}{}
	}

	return t, nil
}

// ParseRouteTable decodes a route file. format is "json" or "yaml".
func ParseRouteTable(data []byte, format string) (*RouteTable, error) {
	var file routeFile

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse route table: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse route table: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported route table format: %s", format)
	}

	routes := make(map[string]Permission, len(file.Routes))
	for tpl, name := range file.Routes {
		perm, err := ParsePermission(name)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", tpl, err)
		}
		routes[tpl] = perm
	}

	return NewRouteTable(routes, file.Public)
}

// LoadRouteTable reads a route file, picking the format from its extension.
func LoadRouteTable(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return ParseRouteTable(data, format)
}

// Lookup returns the permission declared for a template.
func (t *RouteTable) Lookup(template string) (Permission, bool) {
	if t == nil {
		return "", false
	}
	perm, ok := t.routes[CanonicalRoute(template)]
	return perm, ok
}

// IsPublic reports whether a template only needs an authenticated session.
func (t *RouteTable) IsPublic(template string) bool {
	if t == nil {
		return false
	}
	_, ok := t.public[CanonicalRoute(template)]
	return ok
}

// Declared reports whether a template is public or permission-gated.
func (t *RouteTable) Declared(template string) bool {
	_, gated := t.Lookup(template)
	return gated || t.IsPublic(template)
}

// Templates returns every gated template in sorted order.
func (t *RouteTable) Templates() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.routes))
	for tpl := range t.routes {
		out = append(out, tpl)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of gated templates.
func (t *RouteTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// UndeclaredRouteError lists router templates missing from the table.
type UndeclaredRouteError struct {
	Templates []string
}

func (e *UndeclaredRouteError) Error() string {
	return fmt.Sprintf("routes without a declared permission: %s", strings.Join(e.Templates, ", "))
}

// Validate walks every route registered on router and fails if any template
// is neither exempt nor declared.
func (t *RouteTable) Validate(router *mux.Router, exempt ExemptList) error {
	seen := make(map[string]struct{})
	var missing []string

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			// Subrouters without a path template
			return nil
		}
		key := CanonicalRoute(tpl)
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}

		if exempt.Match(tpl) || t.Declared(key) {
			return nil
		}
		missing = append(missing, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk routes: %w", err)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &UndeclaredRouteError{Templates: missing}
	}
	return nil
}
