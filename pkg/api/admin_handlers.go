package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// setPermission handles POST /api/permissions
func (s *Server) setPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Permission string `json:"permission"`
		Value      *bool  `json:"value"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") || !httputil.RequireNonEmpty(w, req.Permission, "permission") {
		return
	}
	if req.Value == nil {
		httputil.WriteBadRequest(w, "value is required")
		return
	}

	permission, err := rbac.ParsePermission(req.Permission)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.SetPermission(r.Context(), req.Username, permission, *req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.profiles.Invalidate(req.Username)

	s.record(r, audit.NewEvent(r, audit.EventTypePermissionSet, audit.StatusSuccess, req.Username).
		With("permission", permission.String()).
		With("value", *req.Value))

	httputil.WriteSuccess(w, map[string]interface{}{
		"username":   req.Username,
		"permission": permission,
		"value":      *req.Value,
	})
}

// listPermissions handles GET /api/permissions/{username}
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	if _, err := s.store.GetAccount(r.Context(), username); err != nil {
		s.writeError(w, r, err)
		return
	}

	grants, err := s.store.ListPermissions(r.Context(), username, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"username":    username,
		"permissions": grants,
	})
}

// setArrested handles POST /api/accounts/{username}/arrest
func (s *Server) setArrested(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	var req struct {
		Arrested *bool `json:"arrested"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Arrested == nil {
		httputil.WriteBadRequest(w, "arrested is required")
		return
	}

	if err := s.store.SetArrested(r.Context(), username, *req.Arrested); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.profiles.Invalidate(username)

	eventType := audit.EventTypeAccountArrest
	if !*req.Arrested {
		eventType = audit.EventTypeAccountRelease
	}
	s.record(r, audit.NewEvent(r, eventType, audit.StatusSuccess, username))

	httputil.WriteSuccess(w, map[string]interface{}{
		"username": username,
		"arrested": *req.Arrested,
	})
}

// resetPassword handles POST /api/accounts/{username}/password
func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	if err := s.authn.SetPassword(r.Context(), username, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.record(r, audit.NewEvent(r, audit.EventTypePasswordReset, audit.StatusSuccess, username))
	httputil.WriteNoContent(w)
}

// revokeSession handles POST /api/sessions/revoke
func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") {
		return
	}

	if err := s.authn.Revoke(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordTokenRevoked()

	s.record(r, audit.NewEvent(r, audit.EventTypeSessionRevoke, audit.StatusSuccess, "").
		With("token", auth.TokenPrefix(req.Token)))
	httputil.WriteNoContent(w)
}

// getProfile handles GET /api/accounts/{username}
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}
	s.writeProfile(w, r, username)
}

func (s *Server) writeProfile(w http.ResponseWriter, r *http.Request, username string) {
	if profile, ok := s.profiles.Get(username); ok {
		httputil.WriteSuccess(w, profile)
		return
	}

	ctx := r.Context()
	account, err := s.store.GetAccount(ctx, username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	grants, err := s.store.ListPermissions(ctx, username, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	active, err := s.store.CountActiveSessions(ctx, username, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	profile := &Profile{
		Username:       account.Username,
		Arrested:       account.Arrested,
		CreatedAt:      account.CreatedAt,
		UpdatedAt:      account.UpdatedAt,
		Permissions:    grants,
		ActiveSessions: active,
	}
	s.profiles.Add(profile)

	httputil.WriteSuccess(w, profile)
}

// record hands event to the audit logger. A failed write is logged and
// does not fail the request.
func (s *Server) record(r *http.Request, event *audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.auditLog.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("event_type", string(event.Type)).Error("failed to record audit event")
	}
}

// listAudit handles GET /api/audit
func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format, err := audit.ParseExportFormat(q.Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid format")
		return
	}

	filter := audit.Filter{
		Actor:  q.Get("actor"),
		Target: q.Get("target"),
		Type:   audit.EventType(q.Get("type")),
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				httputil.WriteBadRequest(w, "Invalid "+name)
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteBadRequest(w, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	events, err := s.auditReader.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, auth.DatabaseError("query audit events", err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := audit.Export(w, events, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to write audit export")
	}
}
