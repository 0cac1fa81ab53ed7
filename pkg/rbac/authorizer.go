package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/sirupsen/logrus"
)

// State is a step of the per-request authorization state machine:
//
//	UNAUTHENTICATED -> TOKEN_RESOLVED -> ARRESTED_CHECKED -> PERMISSION_CHECKED -> ALLOWED | DENIED
//
// Any step may short-circuit to DENIED. Exempt routes go straight to ALLOWED.
type State int

const (
	StateUnauthenticated State = iota
	StateTokenResolved
	StateArrestedChecked
	StatePermissionChecked
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateTokenResolved:
		return "token_resolved"
	case StateArrestedChecked:
		return "arrested_checked"
	case StatePermissionChecked:
		return "permission_checked"
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// UndeclaredPolicy decides requests for routes absent from the table.
type UndeclaredPolicy string

const (
	UndeclaredDeny  UndeclaredPolicy = "deny"
	UndeclaredAllow UndeclaredPolicy = "allow"
)

// ParseUndeclaredPolicy accepts "deny" or "allow"; empty means deny.
func ParseUndeclaredPolicy(s string) (UndeclaredPolicy, error) {
	switch UndeclaredPolicy(s) {
	case "", UndeclaredDeny:
		return UndeclaredDeny, nil
	case UndeclaredAllow:
		return UndeclaredAllow, nil
	default:
		return "", fmt.Errorf("invalid undeclared route policy %q (must be deny or allow)", s)
	}
}

// Denial reasons returned to clients.
const (
	ReasonAuthRequired       = "Authentication required"
	ReasonInvalidSession     = "Invalid or expired session"
	ReasonArrested           = "Account is arrested"
	ReasonUndeclaredRoute    = "Route has no declared permission"
	ReasonInsufficient       = "Insufficient permissions"
	ReasonPermissionCheckErr = "Permission check failed"
)

// Route identifies the request target. Template is the router path template
// and takes precedence; Path is the raw request path.
type Route struct {
	Template string
	Path     string
}

func (r Route) key() string {
	if r.Template != "" {
		return r.Template
	}
	return r.Path
}

// Decision is the outcome of Authorize. Stage is the last state reached
// before the decision was made.
type Decision struct {
	Allowed    bool
	Status     int
	Reason     string
	Stage      State
	Username   string
	Permission Permission
}

// State returns StateAllowed or StateDenied.
func (d Decision) State() State {
	if d.Allowed {
		return StateAllowed
	}
	return StateDenied
}

// SessionResolver maps a bearer token to its owner.
type SessionResolver interface {
	ResolveToken(ctx context.Context, token string) (string, error)
}

// ArrestChecker reports whether an account is arrested. It returns true
// together with any lookup error.
type ArrestChecker interface {
	IsArrested(ctx context.Context, username string) (bool, error)
}

// GrantReader reads a single permission grant.
type GrantReader interface {
	GetPermission(ctx context.Context, username string, permission Permission) (bool, error)
}

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	Table            *RouteTable
	Exempt           ExemptList
	UndeclaredPolicy UndeclaredPolicy
	Logger           logrus.FieldLogger
	Metrics          *observability.Metrics
}

// Authorizer decides every inbound request.
type Authorizer struct {
	sessions SessionResolver
	arrests  ArrestChecker
	grants   GrantReader
	table    *RouteTable
	exempt   ExemptList
	policy   UndeclaredPolicy
	log      logrus.FieldLogger
	metrics  *observability.Metrics
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(sessions SessionResolver, arrests ArrestChecker, grants GrantReader, cfg AuthorizerConfig) *Authorizer {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.UndeclaredPolicy == "" {
		cfg.UndeclaredPolicy = UndeclaredDeny
	}
	if cfg.Table == nil {
		cfg.Table = &RouteTable{routes: map[string]Permission{}, public: map[string]struct{}{}}
	}
	return &Authorizer{
		sessions: sessions,
		arrests:  arrests,
		grants:   grants,
		table:    cfg.Table,
		exempt:   cfg.Exempt,
		policy:   cfg.UndeclaredPolicy,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Table returns the route table in use.
func (a *Authorizer) Table() *RouteTable {
	return a.table
}

// Exempt returns the exempt list in use.
func (a *Authorizer) Exempt() ExemptList {
	return a.exempt
}

// Authorize runs the state machine for one request.
func (a *Authorizer) Authorize(ctx context.Context, token string, route Route) Decision {
	var tokens []string
	if token != "" {
		tokens = []string{token}
	}
	return a.AuthorizeAny(ctx, tokens, route)
}

// AuthorizeAny is Authorize over several candidate tokens. The first one
// that resolves to a session is used, so a stale cookie does not hide a
// valid Authorization header.
func (a *Authorizer) AuthorizeAny(ctx context.Context, tokens []string, route Route) Decision {
	d := a.authorize(ctx, tokens, route)
	a.metrics.RecordAuthzDecision(d.Allowed, d.Stage.String())
	return d
}

func (a *Authorizer) authorize(ctx context.Context, tokens []string, route Route) Decision {
	log := a.log.WithField("route", route.key())

	if a.exempt.Match(route.key()) {
		return Decision{Allowed: true, Status: http.StatusOK, Stage: StateUnauthenticated}
	}

	// UNAUTHENTICATED
	if len(tokens) == 0 {
		return deny(http.StatusUnauthorized, ReasonAuthRequired, StateUnauthenticated, "")
	}
	username, ok := a.resolveFirst(ctx, log, tokens)
	if !ok {
		return deny(http.StatusUnauthorized, ReasonInvalidSession, StateUnauthenticated, "")
	}

	// TOKEN_RESOLVED
	log = log.WithField("username", username)
	arrested, err := a.arrests.IsArrested(ctx, username)
	if err != nil {
		log.WithError(err).Error("arrested lookup failed")
		arrested = true
	}
	if arrested {
		return deny(http.StatusForbidden, ReasonArrested, StateTokenResolved, username)
	}

	// ARRESTED_CHECKED
	tpl := CanonicalRoute(route.key())
	if a.table.IsPublic(tpl) {
		return Decision{Allowed: true, Status: http.StatusOK, Stage: StateArrestedChecked, Username: username}
	}

	perm, declared := a.table.Lookup(tpl)
	if !declared {
		if a.policy == UndeclaredAllow {
			log.Warn("allowing request to route with no declared permission")
			return Decision{Allowed: true, Status: http.StatusOK, Stage: StateArrestedChecked, Username: username}
		}
		log.Warn("denying request to route with no declared permission")
		return deny(http.StatusForbidden, ReasonUndeclaredRoute, StateArrestedChecked, username)
	}

	allowed, err := a.grants.GetPermission(ctx, username, perm)
	if err != nil {
		log.WithError(err).WithField("permission", perm).Error("permission lookup failed")
		d := deny(http.StatusInternalServerError, ReasonPermissionCheckErr, StateArrestedChecked, username)
		d.Permission = perm
		return d
	}

	// PERMISSION_CHECKED
	if !allowed {
		d := deny(http.StatusForbidden, ReasonInsufficient, StatePermissionChecked, username)
		d.Permission = perm
		return d
	}

	return Decision{
		Allowed:    true,
		Status:     http.StatusOK,
		Stage:      StatePermissionChecked,
		Username:   username,
		Permission: perm,
	}
}

func (a *Authorizer) resolveFirst(ctx context.Context, log logrus.FieldLogger, tokens []string) (string, bool) {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		username, err := a.sessions.ResolveToken(ctx, token)
		if err == nil {
			return username, true
		}
		if !errors.Is(err, auth.ErrSessionNotFound) {
			log.WithError(err).Error("session lookup failed")
		}
	}
	return "", false
}

func deny(status int, reason string, stage State, username string) Decision {
	return Decision{
		Status:   status,
		Reason:   reason,
		Stage:    stage,
		Username: username,
	}
}
