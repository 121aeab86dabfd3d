package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bodystore/pkg/bodies"
)

// Header names understood by the body endpoints.
const (
	HeaderExpiresAt = "X-Body-Expires-At"
	HeaderTTL       = "X-Body-TTL"
)

// Config holds handler settings.
type Config struct {
	// DefaultRetention applies to writes without an expiry header. Zero
	// keeps such bodies forever.
	DefaultRetention time.Duration
	// MaxBodyBytes bounds accepted request bodies.
	MaxBodyBytes int64
}

// StatsFunc reports a snapshot of the write path.
type StatsFunc func() bodies.Stats

// Server represents our API server
type Server struct {
	reader bodies.Reader
	writer bodies.Writer
	stats  StatsFunc
	config Config
	router *mux.Router
	logger logrus.FieldLogger
	now    func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithWriter enables the write endpoint. Without a writer the server is
// read-only and PUT answers 405.
func WithWriter(writer bodies.Writer) Option {
	return func(s *Server) {
		s.writer = writer
	}
}

// WithStats exposes write path statistics on /api/stats.
func WithStats(stats StatsFunc) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

// WithLogger sets the fallback logger used when a request carries none.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new API server
func NewServer(reader bodies.Reader, config Config, opts ...Option) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 10 << 20
	}

	s := &Server{
		reader: reader,
		config: config,
		router: mux.NewRouter(),
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/messages/{id}/body", s.putBody).Methods(http.MethodPut)
	s.router.HandleFunc("/api/messages/{id}/body", s.getBody).Methods(http.MethodGet, http.MethodHead)

	if s.stats != nil {
		s.router.HandleFunc("/api/stats", s.getStats).Methods(http.MethodGet)
	}
}

// Router returns the underlying router so callers can mount extra routes
// and middleware.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ReadOnly reports whether the write endpoint is disabled.
func (s *Server) ReadOnly() bool {
	return s.writer == nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
