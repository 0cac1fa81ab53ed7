package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// index handles GET /
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"service": "gatehouse",
		"status":  "ok",
	})
}

// loginPage handles GET /login
func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"message": "POST /api/login with a JSON body {\"username\", \"password\"}",
	})
}

// robots handles GET /robots.txt
func (s *Server) robots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("User-agent: *\nDisallow: /api/\n"))
}

// register handles POST /api/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Username = auth.NormalizeUsername(req.Username)
	if !httputil.RequireNonEmpty(w, req.Username, "username") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	if err := s.authn.Register(r.Context(), req.Username, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.record(r, audit.NewEvent(r, audit.EventTypeRegister, audit.StatusSuccess, req.Username))

	httputil.WriteCreated(w, map[string]string{"username": req.Username})
}

// login handles POST /api/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Username = auth.NormalizeUsername(req.Username)
	if !httputil.RequireNonEmpty(w, req.Username, "username") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	result, err := s.authn.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.metrics.RecordLogin(auth.KindOf(err).String())
		observability.FromContext(r.Context()).WithField("username", req.Username).
			WithField("outcome", auth.KindOf(err).String()).Info("login failed")
		if auth.KindOf(err) != auth.KindDatabase {
			s.record(r, audit.NewEvent(r, audit.EventTypeLoginFailed, loginFailureStatus(err), req.Username).
				With("reason", auth.KindOf(err).String()))
		}
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordLogin("success")
	s.record(r, audit.NewEvent(r, audit.EventTypeLogin, audit.StatusSuccess, req.Username).
		With("token", auth.TokenPrefix(result.Token)))

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    result.Token,
		Path:     "/",
		Expires:  result.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	httputil.WriteSuccess(w, result)
}

// verifyToken handles POST /api/verify-token. The token comes from the body
// or, if absent there, from the cookie or Authorization header.
func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}
	candidates := []string{req.Token}
	if req.Token == "" {
		candidates = rbac.ExtractTokens(r, s.cookieName)
	}

	verified := false
	for _, token := range candidates {
		ok, err := s.authn.VerifyToken(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if ok {
			verified = true
			break
		}
	}

	httputil.WriteSuccess(w, map[string]bool{"verified": verified})
}

// logout handles POST /api/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	// Both the cookie and the Authorization header token are the caller's.
	for _, token := range rbac.ExtractTokens(r, s.cookieName) {
		if err := s.authn.Revoke(r.Context(), token); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.metrics.RecordTokenRevoked()
		s.record(r, audit.NewEvent(r, audit.EventTypeLogout, audit.StatusSuccess, "").
			With("token", auth.TokenPrefix(token)))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteNoContent(w)
}

// loginFailureStatus is denied for arrested or rate-limited accounts and
// failure otherwise.
func loginFailureStatus(err error) audit.Status {
	switch auth.KindOf(err) {
	case auth.KindAccountArrested, auth.KindRateLimited:
		return audit.StatusDenied
	}
	return audit.StatusFailure
}

// me handles GET /api/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.writeProfile(w, r, contextkeys.GetUsername(r.Context()))
}
