package audit

import (
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeLogin       EventType = "auth.login"
	EventTypeLoginFailed EventType = "auth.login_failed"
	EventTypeLogout      EventType = "auth.logout"
	EventTypeRegister    EventType = "auth.register"

	// Admin events
	EventTypePermissionSet  EventType = "admin.permission_set"
	EventTypeAccountArrest  EventType = "admin.account_arrest"
	EventTypeAccountRelease EventType = "admin.account_release"
	EventTypePasswordReset  EventType = "admin.password_reset"
	EventTypeSessionRevoke  EventType = "admin.session_revoke"
)

// Status represents the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is a single audit log entry. Actor is the account that acted;
// Target is the account acted upon.
type Event struct {
	ID        string                 `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	Status    Status                 `json:"status"`
	Actor     string                 `json:"actor,omitempty"`
	Target    string                 `json:"target,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event from an inbound request. The actor is the
// authenticated username on the request context, if any.
func NewEvent(r *http.Request, eventType EventType, status Status, target string) *Event {
	event := &Event{
		Type:   eventType,
		Status: status,
		Target: target,
	}
	if r != nil {
		ctx := r.Context()
		event.Actor = contextkeys.GetUsername(ctx)
		event.RequestID = contextkeys.GetRequestID(ctx)
		event.IPAddress = middleware.ClientIP(r)
	}
	return event
}

// With adds a metadata key and returns the event.
func (e *Event) With(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Actor  string
	Target string
	Type   EventType
	Since  time.Time
	Until  time.Time
	Limit  int
}

// DefaultLimit caps a query without an explicit Limit.
const DefaultLimit = 100

// MaxLimit is the largest Limit honored.
const MaxLimit = 1000

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	}
	return f.Limit
}
