// Package api exposes the body store over HTTP.
//
// # Endpoints
//
//	PUT  /api/messages/{id}/body   queue a body, 202 once admitted
//	GET  /api/messages/{id}/body   stream a stored body
//	HEAD /api/messages/{id}/body   headers only
//	GET  /api/stats                write path statistics
//
// A PUT takes its content type from the Content-Type header. Expiry comes
// from X-Body-Expires-At (RFC 3339) or X-Body-TTL (Go duration, e.g. "72h"),
// falling back to the configured default retention. PUT answers 503 once the
// writer is stopping and 405 when the backend is read-only.
//
// GET and HEAD answer 200 with Content-Type, Content-Length and ETag, 304
// when If-None-Match matches the ETag, 404 for missing or expired bodies and
// 502 when the backend fails.
package api
