// Package httputil provides HTTP helpers shared by the bodystore handlers:
// JSON error responses, path and header parsing, and middleware.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteNotFoundError(w, "body not found")
//	httputil.WriteBadGateway(w, "storage backend unavailable")
//
// Error bodies have the form {"error": "...", "request_id": "..."}.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
//
// RequestIDMiddleware honors an incoming X-Request-ID header and otherwise
// generates a UUID. LoggingMiddleware stores a request scoped logger in the
// context, see observability.FromContext.
package httputil
