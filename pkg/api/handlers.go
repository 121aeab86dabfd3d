package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/httputil"
	"github.com/platinummonkey/bodystore/pkg/observability"
)

// AcceptedResponse acknowledges an admitted write.
type AcceptedResponse struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) requestLogger(r *http.Request) logrus.FieldLogger {
	ctx := r.Context()
	if _, ok := ctx.Value(observability.LoggerKey).(logrus.FieldLogger); !ok {
		ctx = observability.WithLogger(ctx, s.logger)
	}
	return observability.FromContext(ctx)
}

// putBody queues a body for persistence. It answers once the body is
// admitted, not once it is stored.
func (s *Server) putBody(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		w.Header().Set("Allow", "GET, HEAD")
		httputil.WriteMethodNotAllowed(w, "storage backend is read-only")
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	expiresAt, err := s.expiry(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteRequestTooLarge(w, fmt.Sprintf("body exceeds %d bytes", maxErr.Limit))
			return
		}
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	err = s.writer.Write(r.Context(), id, r.Header.Get("Content-Type"), body, expiresAt)
	switch {
	case err == nil:
	case errors.Is(err, bodies.ErrEngineStopped):
		httputil.WriteServiceUnavailable(w, "body writer is shutting down")
		return
	case errors.Is(err, bodies.ErrInvalidItem):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteServiceUnavailable(w, "timed out waiting for ingress capacity")
		return
	default:
		s.requestLogger(r).WithError(err).WithField("body_id", id).Error("Failed to queue body")
		httputil.WriteInternalError(w, errors.New("failed to queue body"))
		return
	}

	resp := AcceptedResponse{ID: id, Status: "accepted"}
	if !expiresAt.IsZero() {
		resp.ExpiresAt = &expiresAt
	}
	httputil.WriteJSON(w, http.StatusAccepted, resp)
}

// expiry resolves the expiry of a write. An explicit timestamp wins over a
// TTL, and both win over the default retention.
func (s *Server) expiry(r *http.Request) (time.Time, error) {
	at, err := httputil.ParseHeaderTime(r, HeaderExpiresAt)
	if err != nil {
		return time.Time{}, err
	}
	if !at.IsZero() {
		return at.UTC(), nil
	}

	ttl, err := httputil.ParseHeaderDuration(r, HeaderTTL)
	if err != nil {
		return time.Time{}, err
	}
	if ttl == 0 {
		ttl = s.config.DefaultRetention
	}
	if ttl == 0 {
		return time.Time{}, nil
	}
	return s.now().Add(ttl).UTC(), nil
}

// getBody serves GET and HEAD for a stored body.
func (s *Server) getBody(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	result, err := s.reader.Fetch(r.Context(), id)
	if err != nil {
		s.requestLogger(r).WithError(err).WithField("body_id", id).Error("Failed to fetch body")
		httputil.WriteBadGateway(w, "storage backend unavailable")
		return
	}
	if !result.Found {
		httputil.WriteNotFoundError(w, "body not found")
		return
	}
	defer result.Body.Close()

	if result.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(result.ETag))
		if httputil.MatchesETag(r.Header.Get("If-None-Match"), result.ETag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", result.ContentType)
	if result.BodySize >= 0 {
		w.Header().Set("Content-Length", strconv.Itoa(result.BodySize))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, result.Body); err != nil {
		s.requestLogger(r).WithError(err).WithField("body_id", id).Warn("Body stream interrupted")
	}
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.stats())
}
