// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithUsername(ctx, "alice")
//	username := contextkeys.GetUsername(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware (pkg/httputil/middleware.go)
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UsernameKey contains the authenticated username
	// Set by: rbac.Middleware after the Authorizer allows a request
	// Used by: Logger, admin handlers
	// Type: string
	UsernameKey Key = "username"

	// LoggerKey contains logrus.FieldLogger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"

	// ClientIPKey contains the resolved client address
	// Set by: middleware.ProxyResolver.Middleware
	// Used by: BotScorer, audit events
	// Type: string
	ClientIPKey Key = "client_ip"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUsername adds the authenticated username to the context
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UsernameKey, username)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUsername retrieves the authenticated username from context
func GetUsername(ctx context.Context) string {
	if username, ok := ctx.Value(UsernameKey).(string); ok {
		return username
	}
	return ""
}

// WithClientIP adds the resolved client address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved client address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
