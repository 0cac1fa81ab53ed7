package rbac

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/sirupsen/logrus"
)

// DefaultCookieName is the session cookie set at login.
const DefaultCookieName = "gatehouse_session"

// ExtractTokens returns the candidate session tokens in precedence order:
// the named cookie, then the Authorization header ("Bearer <token>" or the
// raw token). Duplicates and empty values are dropped.
func ExtractTokens(r *http.Request, cookieName string) []string {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	var tokens []string
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		tokens = append(tokens, cookie.Value)
	}
	if header := headerToken(r); header != "" && (len(tokens) == 0 || tokens[0] != header) {
		tokens = append(tokens, header)
	}
	return tokens
}

func headerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// Middleware enforces Authorizer decisions on a gorilla/mux router.
type Middleware struct {
	authz      *Authorizer
	cookieName string
}

// NewMiddleware creates the authorization middleware.
func NewMiddleware(authz *Authorizer, cookieName string) *Middleware {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Middleware{authz: authz, cookieName: cookieName}
}

// Handler is meant for router.Use so the matched route template is known.
// Allowed requests carry the username in their context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := Route{
			Template: httputil.RouteTemplate(r),
			Path:     r.URL.Path,
		}

		decision := m.authz.AuthorizeAny(r.Context(), ExtractTokens(r, m.cookieName), route)
		if !decision.Allowed {
			observability.FromContext(r.Context()).WithFields(logrus.Fields{
				"route":  route.key(),
				"stage":  decision.Stage.String(),
				"status": decision.Status,
			}).Debug("request denied")
			httputil.WriteErrorMessage(w, decision.Status, decision.Reason)
			return
		}

		if decision.Username != "" {
			r = r.WithContext(contextkeys.WithUsername(r.Context(), decision.Username))
		}
		next.ServeHTTP(w, r)
	})
}
