package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// statusFor maps an auth error kind to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch auth.KindOf(err) {
	case auth.KindUserNotFound:
		return http.StatusNotFound, "User not found"
	case auth.KindInvalidPassword:
		return http.StatusUnauthorized, "Invalid password"
	case auth.KindExistingUser:
		return http.StatusConflict, "User already exists"
	case auth.KindAccountArrested:
		return http.StatusUnauthorized, "Account is arrested"
	case auth.KindRateLimited:
		return http.StatusTooManyRequests, "Too many login attempts"
	case auth.KindSessionNotFound:
		return http.StatusUnauthorized, "Invalid session"
	case auth.KindUnknownPermission:
		return http.StatusBadRequest, "Unknown permission"
	case auth.KindInvalidInput:
		return http.StatusBadRequest, "Invalid input"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError writes err as {"error": msg}. Server errors are logged and
// never echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)

	switch status {
	case http.StatusInternalServerError:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	case http.StatusTooManyRequests:
		httputil.WriteTooManyRequests(w, msg, s.retryAfter)
	case http.StatusNotFound:
		httputil.WriteNotFound(w, msg)
	case http.StatusConflict:
		httputil.WriteConflict(w, msg)
	case http.StatusUnauthorized:
		httputil.WriteUnauthorized(w, msg)
	case http.StatusBadRequest:
		var e *auth.Error
		if errors.As(err, &e) && e.Kind == auth.KindInvalidInput && e.Identifier != "" {
			msg = "Invalid " + e.Identifier
		}
		httputil.WriteBadRequest(w, msg)
	default:
		httputil.WriteErrorMessage(w, status, msg)
	}
}
