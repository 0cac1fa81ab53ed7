package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the handlers need beyond the Authenticator.
type Store interface {
	GetAccount(ctx context.Context, username string) (*auth.Account, error)
	SetArrested(ctx context.Context, username string, arrested bool) error
	SetPermission(ctx context.Context, username string, permission rbac.Permission, allowed bool) error
	ListPermissions(ctx context.Context, username string, fill bool) (map[rbac.Permission]bool, error)
	CountActiveSessions(ctx context.Context, username string, now time.Time) (int, error)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Dependencies wires a Server.
type Dependencies struct {
	Authenticator *auth.Authenticator
	Authorizer    *rbac.Authorizer
	Store         Store
	// BotScorer is optional; nil disables bot scoring.
	BotScorer *middleware.BotScorer
	// Proxies resolves client addresses for bot scoring and audit events;
	// nil trusts no forwarding headers.
	Proxies *middleware.ProxyResolver
	Metrics *observability.Metrics
	Logger  logrus.FieldLogger
	// Audit receives login and admin events; nil discards them.
	Audit audit.Logger
	// AuditReader serves GET /api/audit; nil leaves the route unregistered.
	AuditReader audit.Reader

	CookieName   string
	CookieSecure bool
	// RetryAfter is reported on 429 responses; normally the limiter window.
	RetryAfter time.Duration
	// StrictRoutes fails NewServer when a registered route is neither
	// exempt, public, nor declared in the route table.
	StrictRoutes bool

	ProfileCacheSize int
	ProfileCacheTTL  time.Duration

	// Registrars add routes (feature modules) under the same authorization.
	Registrars []RouteRegistrar
	Now        func() time.Time
}

// Server is the gatehouse HTTP API.
type Server struct {
	authn        *auth.Authenticator
	authz        *rbac.Authorizer
	store        Store
	profiles     *ProfileCache
	metrics      *observability.Metrics
	log          logrus.FieldLogger
	auditLog     audit.Logger
	auditReader  audit.Reader
	cookieName   string
	cookieSecure bool
	retryAfter   time.Duration
	now          func() time.Time

	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and validates it against the route table.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Authenticator == nil || deps.Authorizer == nil || deps.Store == nil {
		return nil, fmt.Errorf("authenticator, authorizer, and store are required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.CookieName == "" {
		deps.CookieName = rbac.DefaultCookieName
	}
	if deps.RetryAfter <= 0 {
		deps.RetryAfter = auth.DefaultLimiterConfig().Window
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	if deps.Proxies == nil {
		deps.Proxies = &middleware.ProxyResolver{}
	}

	s := &Server{
		authn:        deps.Authenticator,
		authz:        deps.Authorizer,
		store:        deps.Store,
		profiles:     NewProfileCache(deps.ProfileCacheSize, deps.ProfileCacheTTL, deps.Metrics),
		metrics:      deps.Metrics,
		log:          deps.Logger,
		auditLog:     deps.Audit,
		auditReader:  deps.AuditReader,
		cookieName:   deps.CookieName,
		cookieSecure: deps.CookieSecure,
		retryAfter:   deps.RetryAfter,
		now:          deps.Now,
		router:       mux.NewRouter(),
	}

	s.setupRoutes()
	for _, registrar := range deps.Registrars {
		registrar.RegisterRoutes(s.router)
	}

	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	s.router.Use(rbac.NewMiddleware(deps.Authorizer, deps.CookieName).Handler)

	if err := deps.Authorizer.Table().Validate(s.router, deps.Authorizer.Exempt()); err != nil {
		if deps.StrictRoutes {
			return nil, err
		}
		deps.Logger.WithError(err).Warn("router has routes missing from the route table")
	}

	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.RequestIDMiddleware,
		deps.Proxies.Middleware,
		httputil.LoggingMiddleware(deps.Logger),
	}
	if deps.BotScorer != nil {
		chain = append(chain, deps.BotScorer.Handler)
	}
	s.handler = httputil.Chain(chain...)(s.router)

	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Pages
	s.router.HandleFunc("/", s.index).Methods("GET")
	s.router.HandleFunc("/login", s.loginPage).Methods("GET")
	s.router.HandleFunc("/robots.txt", s.robots).Methods("GET")

	// Session routes
	s.router.HandleFunc("/api/register", s.register).Methods("POST")
	s.router.HandleFunc("/api/login", s.login).Methods("POST")
	s.router.HandleFunc("/api/verify-token", s.verifyToken).Methods("POST")
	s.router.HandleFunc("/api/logout", s.logout).Methods("POST")
	s.router.HandleFunc("/api/me", s.me).Methods("GET")

	// Admin routes
	s.router.HandleFunc("/api/permissions", s.setPermission).Methods("POST")
	s.router.HandleFunc("/api/permissions/{username}", s.listPermissions).Methods("GET")
	s.router.HandleFunc("/api/accounts/{username}/arrest", s.setArrested).Methods("POST")
	s.router.HandleFunc("/api/accounts/{username}/password", s.resetPassword).Methods("POST")
	s.router.HandleFunc("/api/sessions/revoke", s.revokeSession).Methods("POST")
	if s.auditReader != nil {
		s.router.HandleFunc("/api/audit", s.listAudit).Methods("GET")
	}

	// Profiles
	s.router.HandleFunc("/api/accounts/{username}", s.getProfile).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// DefaultRouteTable declares the permission for every built-in route and
// the feature route groups.
func DefaultRouteTable() *rbac.RouteTable {
	table, err := rbac.NewRouteTable(map[string]rbac.Permission{
		"/api/permissions":                  rbac.PermissionAdmin,
		"/api/permissions/{username}":       rbac.PermissionAdmin,
		"/api/accounts/{username}/arrest":   rbac.PermissionAdmin,
		"/api/accounts/{username}/password": rbac.PermissionAdmin,
		"/api/sessions/revoke":              rbac.PermissionAdmin,
		"/api/audit":                        rbac.PermissionAdmin,
		"/api/accounts/{username}":          rbac.PermissionProfiles,
		"/central_files":                    rbac.PermissionCentralFiles,
		"/profiles":                         rbac.PermissionProfiles,
		"/finance":                          rbac.PermissionFinance,
		"/file_server":                      rbac.PermissionFileServer,
		"/bulletin":                         rbac.PermissionBulletin,
		"/signal_routes":                    rbac.PermissionSignalRoutes,
	}, []string{"/api/me"})
	if err != nil {
		panic(err)
	}
	return table
}
