// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteUnauthorized(w, "Invalid or expired session")
//	httputil.WriteTooManyRequests(w, "Too many login attempts", 300*time.Second)
//
// Error bodies are always {"error": "<message>"}.
//
// # Request Parsing
//
//	var req loginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	username, ok := httputil.ParsePathStringOrError(w, r, "username")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
