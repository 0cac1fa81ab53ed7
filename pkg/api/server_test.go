package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// featureRoutes stands in for a feature module mounted behind the
// central_files permission.
type featureRoutes struct{}

func (featureRoutes) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/central_files", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, map[string]string{"user": contextkeys.GetUsername(r.Context())})
	}).Methods("GET")
}

type apiFixture struct {
	t          *testing.T
	server     *Server
	store      *sqlstore.Store
	authn      *auth.Authenticator
	clock      *testClock
	metrics    *observability.Metrics
	hook       *test.Hook
	auditLog   *audit.DBLogger
	adminToken string
}

func newAPIFixture(t *testing.T, mutate func(*Dependencies)) *apiFixture {
	t.Helper()
	ctx := context.Background()

	cfg := storage.DefaultConfig()
	cfg.DSN = ":memory:"
	db, err := sqlstore.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, hook := test.NewNullLogger()
	require.NoError(t, sqlstore.Migrate(ctx, db, logger))

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := sqlstore.New(db, sqlstore.WithClock(clock.Now), sqlstore.WithLogger(logger))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	authn := auth.NewAuthenticator(store, store,
		auth.NewMemoryLimiter(auth.DefaultLimiterConfig(), clock.Now),
		auth.Options{
			Hasher: auth.NewPasswordHasher(bcrypt.MinCost),
			Now:    clock.Now,
			Logger: logger,
		})

	authz := rbac.NewAuthorizer(authn, store, store, rbac.AuthorizerConfig{
		Table:   DefaultRouteTable(),
		Exempt:  rbac.NewExemptList(rbac.DefaultExemptRoutes),
		Logger:  logger,
		Metrics: metrics,
	})

	auditLog, err := audit.NewDBLogger(db, 0)
	require.NoError(t, err)

	deps := Dependencies{
		Authenticator: authn,
		Authorizer:    authz,
		Store:         store,
		Metrics:       metrics,
		Logger:        logger,
		Audit:         auditLog,
		AuditReader:   auditLog,
		StrictRoutes:  true,
		Registrars:    []RouteRegistrar{featureRoutes{}},
		Now:           clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}

	server, err := NewServer(deps)
	require.NoError(t, err)

	f := &apiFixture{
		t:        t,
		server:   server,
		store:    store,
		authn:    authn,
		clock:    clock,
		metrics:  metrics,
		hook:     hook,
		auditLog: auditLog,
	}

	require.NoError(t, authn.Register(ctx, "admin", "admin-secret"))
	require.NoError(t, store.SetPermission(ctx, "admin", rbac.PermissionAdmin, true))
	require.NoError(t, store.SetPermission(ctx, "admin", rbac.PermissionProfiles, true))
	f.adminToken = f.login("admin", "admin-secret")

	return f
}

func (f *apiFixture) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(username, password string) string {
	f.t.Helper()
	rec := f.do("POST", "/api/login", credentialsRequest{Username: username, Password: password}, "")
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())

	var result auth.LoginResult
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result.Token
}

func (f *apiFixture) register(username, password string) {
	f.t.Helper()
	rec := f.do("POST", "/api/register", credentialsRequest{Username: username, Password: password}, "")
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *apiFixture) verified(token string) bool {
	f.t.Helper()
	rec := f.do("POST", "/api/verify-token", tokenRequest{Token: token}, "")
	require.Equal(f.t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["verified"]
}

func TestServer_LoginVerifyRevoke(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("alice", "wonderland")

	token := f.login("alice", "wonderland")
	assert.True(t, f.verified(token))

	rec := f.do("POST", "/api/sessions/revoke", tokenRequest{Token: token}, f.adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.verified(token))

	rec = f.do("GET", "/api/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TokensRevokedTotal))

	for _, entry := range f.hook.AllEntries() {
		msg, _ := entry.String()
		assert.NotContains(t, msg, token, "raw tokens never reach the logs")
	}
}

func TestServer_LoginResponseAndCookie(t *testing.T) {
	f := newAPIFixture(t, func(d *Dependencies) { d.CookieSecure = true })
	f.register("alice", "wonderland")

	rec := f.do("POST", "/api/login", credentialsRequest{Username: "alice", Password: "wonderland"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result auth.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "alice", result.Username)
	assert.True(t, result.ExpiresAt.Equal(f.clock.Now().Add(2*time.Hour)))
	assert.NoError(t, auth.NewTokenGenerator().ValidateTokenFormat(result.Token))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, rbac.DefaultCookieName, cookies[0].Name)
	assert.Equal(t, result.Token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	f.server.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)

	var profile Profile
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &profile))
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, 1, profile.ActiveSessions)
	assert.Len(t, profile.Permissions, len(rbac.AllPermissions()))
	assert.NotEmpty(t, me.Header().Get(httputil.RequestIDHeader))

	req = httptest.NewRequest("POST", "/api/logout", nil)
	req.AddCookie(cookies[0])
	out := httptest.NewRecorder()
	f.server.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNoContent, out.Code)
	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Empty(t, cleared[0].Value)
	assert.True(t, cleared[0].MaxAge < 0)

	assert.False(t, f.verified(result.Token))
}

func TestServer_LoginErrors(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("alice", "wonderland")

	rec := f.do("POST", "/api/login", credentialsRequest{Username: "nobody", Password: "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"User not found"}`, rec.Body.String())

	rec = f.do("POST", "/api/login", credentialsRequest{Username: "alice", Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid password"}`, rec.Body.String())

	rec = f.do("POST", "/api/login", credentialsRequest{Username: "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString("{not json"))
	bad := httptest.NewRecorder()
	f.server.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, bad.Body.String())

	rec = f.do("POST", "/api/register", credentialsRequest{Username: "alice", Password: "again"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LoginAttemptsTotal.WithLabelValues("user_not_found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LoginAttemptsTotal.WithLabelValues("invalid_password")))
}

func TestServer_BobRateLimited(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("bob", "builder")

	for i := 0; i < 5; i++ {
		rec := f.do("POST", "/api/login", credentialsRequest{Username: "bob", Password: "wrong"}, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := f.do("POST", "/api/login", credentialsRequest{Username: "bob", Password: "builder"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many login attempts"}`, rec.Body.String())

	f.clock.Advance(301 * time.Second)
	token := f.login("bob", "builder")
	assert.True(t, f.verified(token))
}

func TestServer_CentralFilesPermission(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("alice", "wonderland")
	token := f.login("alice", "wonderland")

	rec := f.do("GET", "/central_files", nil, token)
	assert.Equal(t, http.StatusForbidden, rec.Code, "missing grant defaults to false")

	rec = f.do("POST", "/api/permissions", map[string]interface{}{
		"username": "alice", "permission": "central_files", "value": true,
	}, f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do("GET", "/central_files", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"alice"}`, rec.Body.String())

	rec = f.do("POST", "/api/permissions", map[string]interface{}{
		"username": "alice", "permission": "central_files", "value": false,
	}, f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/central_files", nil, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Insufficient permissions"}`, rec.Body.String())

	rec = f.do("GET", "/central_files", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_ArrestedAccount(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("alice", "wonderland")
	token := f.login("alice", "wonderland")

	require.NoError(t, f.store.SetPermission(context.Background(), "alice", rbac.PermissionCentralFiles, true))
	assert.Equal(t, http.StatusOK, f.do("GET", "/central_files", nil, token).Code)

	rec := f.do("POST", "/api/accounts/alice/arrest", map[string]bool{"arrested": true}, f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/central_files", "/api/me"} {
		rec = f.do("GET", path, nil, token)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.JSONEq(t, `{"error":"Account is arrested"}`, rec.Body.String())
	}

	rec = f.do("POST", "/api/login", credentialsRequest{Username: "alice", Password: "wonderland"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Account is arrested"}`, rec.Body.String())

	rec = f.do("POST", "/api/accounts/alice/arrest", map[string]bool{"arrested": false}, f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, f.do("GET", "/central_files", nil, token).Code)
}

func TestServer_AdminEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("alice", "wonderland")
	aliceToken := f.login("alice", "wonderland")

	t.Run("non admin is forbidden", func(t *testing.T) {
		rec := f.do("GET", "/api/permissions/alice", nil, aliceToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("permissions are default filled", func(t *testing.T) {
		rec := f.do("GET", "/api/permissions/alice", nil, f.adminToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Username    string          `json:"username"`
			Permissions map[string]bool `json:"permissions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.Username)
		assert.Len(t, resp.Permissions, len(rbac.AllPermissions()))
		for name, allowed := range resp.Permissions {
			assert.False(t, allowed, name)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		rec := f.do("GET", "/api/permissions/ghost", nil, f.adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do("POST", "/api/accounts/ghost/arrest", map[string]bool{"arrested": true}, f.adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown permission", func(t *testing.T) {
		rec := f.do("POST", "/api/permissions", map[string]interface{}{
			"username": "alice", "permission": "launch_missiles", "value": true,
		}, f.adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Unknown permission"}`, rec.Body.String())
	})

	t.Run("value is required", func(t *testing.T) {
		rec := f.do("POST", "/api/permissions", map[string]interface{}{
			"username": "alice", "permission": "finance",
		}, f.adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("password reset", func(t *testing.T) {
		rec := f.do("POST", "/api/accounts/alice/password", map[string]string{"password": "looking-glass"}, f.adminToken)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do("POST", "/api/login", credentialsRequest{Username: "alice", Password: "wonderland"}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		f.login("alice", "looking-glass")
	})
}

func TestServer_ProfileCache(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register("alice", "wonderland")

	get := func() Profile {
		rec := f.do("GET", "/api/accounts/alice", nil, f.adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var p Profile
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		return p
	}

	assert.False(t, get().Arrested)
	assert.False(t, get().Arrested)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CacheHitsTotal.WithLabelValues("profile")))

	rec := f.do("POST", "/api/accounts/alice/arrest", map[string]bool{"arrested": true}, f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, get().Arrested, "admin writes invalidate the cached profile")

	rec = f.do("GET", "/api/accounts/ghost", nil, f.adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExemptAndPublicRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)

	for _, path := range []string{"/", "/login", "/robots.txt"} {
		rec := f.do("GET", path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := f.do("POST", "/api/verify-token", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"verified":false}`, rec.Body.String())

	rec = f.do("POST", "/api/verify-token", nil, f.adminToken)
	assert.JSONEq(t, `{"verified":true}`, rec.Body.String(), "falls back to the Authorization header")

	rec = f.do("POST", "/api/logout", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do("GET", "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, rec.Body.String())
}

func TestServer_StaleCookieWithValidHeader(t *testing.T) {
	f := newAPIFixture(t, nil)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{"GET", "/api/me", http.StatusOK},
		{"POST", "/api/verify-token", http.StatusOK},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.AddCookie(&http.Cookie{Name: rbac.DefaultCookieName, Value: "gh_stale"})
		req.Header.Set("Authorization", "Bearer "+f.adminToken)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.path)
		if tc.path == "/api/verify-token" {
			assert.JSONEq(t, `{"verified":true}`, rec.Body.String())
		}
	}
}

type undeclaredRoutes struct{}

func (undeclaredRoutes) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
}

func TestNewServer_StrictRoutes(t *testing.T) {
	ctx := context.Background()
	cfg := storage.DefaultConfig()
	cfg.DSN = ":memory:"
	db, err := sqlstore.Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()
	logger, hook := test.NewNullLogger()
	require.NoError(t, sqlstore.Migrate(ctx, db, logger))
	store := sqlstore.New(db, sqlstore.WithLogger(logger))

	authn := auth.NewAuthenticator(store, store, nil, auth.Options{Logger: logger})
	authz := rbac.NewAuthorizer(authn, store, store, rbac.AuthorizerConfig{
		Table:  DefaultRouteTable(),
		Exempt: rbac.NewExemptList(rbac.DefaultExemptRoutes),
		Logger: logger,
	})

	deps := Dependencies{
		Authenticator: authn,
		Authorizer:    authz,
		Store:         store,
		Logger:        logger,
		StrictRoutes:  true,
		Registrars:    []RouteRegistrar{undeclaredRoutes{}},
	}

	_, err = NewServer(deps)
	var undeclared *rbac.UndeclaredRouteError
	require.True(t, errors.As(err, &undeclared))
	assert.Equal(t, []string{"/reports/{id}"}, undeclared.Templates)

	deps.StrictRoutes = false
	server, err := NewServer(deps)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, "router has routes missing from the route table", hook.LastEntry().Message)

	_, err = NewServer(Dependencies{})
	assert.Error(t, err)
}

func TestDefaultRouteTable_CoversBuiltinRoutes(t *testing.T) {
	table := DefaultRouteTable()

	perm, ok := table.Lookup("/api/permissions/{username}")
	assert.True(t, ok)
	assert.Equal(t, rbac.PermissionAdmin, perm)

	perm, ok = table.Lookup("/central_files")
	assert.True(t, ok)
	assert.Equal(t, rbac.PermissionCentralFiles, perm)

	assert.True(t, table.IsPublic("/api/me"))
}

func TestServer_BotScorerInChain(t *testing.T) {
	logger, _ := test.NewNullLogger()
	scorer, err := middleware.NewBotScorer(middleware.DefaultBotConfig(), middleware.WithBotLogger(logger))
	require.NoError(t, err)

	f := newAPIFixture(t, func(d *Dependencies) { d.BotScorer = scorer })

	// The fixture already logged the admin in through POST /api/login from
	// the default httptest address.
	rec := f.do("GET", "/login", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Access denied"}`, rec.Body.String())

	rec = f.do("GET", "/robots.txt", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutesFile_MatchesDefaultRouteTable(t *testing.T) {
	file, err := rbac.LoadRouteTable("../../configs/routes.yaml")
	require.NoError(t, err)

	builtin := DefaultRouteTable()
	assert.Equal(t, builtin.Templates(), file.Templates())
	for _, tpl := range builtin.Templates() {
		want, wantOK := builtin.Lookup(tpl)
		got, gotOK := file.Lookup(tpl)
		assert.Equal(t, wantOK, gotOK, tpl)
		assert.Equal(t, want, got, tpl)
	}
	assert.True(t, file.IsPublic("/api/me"))
}
