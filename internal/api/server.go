// Package api provides the HTTP API server and handlers for the tag vote service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tagvoteapp/tagvote-server/internal/metrics"
	"github.com/tagvoteapp/tagvote-server/internal/ratelimit"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// Options configures the optional parts of the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// MetricsPath mounts the Prometheus handler when non-empty and Metrics is set.
	MetricsPath string
	// VoteLimiter bounds vote writes per user; nil disables limiting.
	VoteLimiter *ratelimit.KeyedRateLimiter
	// Index is reported by the health check; nil marks search as degraded.
	Index IndexStats
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store      store.Store
	services   *Services
	sseManager *sse.Manager
	metrics    *metrics.Metrics
	opts       Options
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st store.Store, services *Services, sseManager *sse.Manager, m *metrics.Metrics, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		store:      st,
		services:   services,
		sseManager: sseManager,
		metrics:    m,
		opts:       opts,
		router:     chi.NewRouter(),
		logger:     logger,
	}

	s.setupMiddleware()
	s.setupAPI()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	s.router.Use(middleware.Compress(5))
	s.router.Use(authMiddleware(s.services.Tokens))
}

// setupAPI creates the huma API on top of the chi router.
func (s *Server) setupAPI() {
	humaConfig := huma.DefaultConfig("TagVote API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerTagRoutes()
	s.registerVoteRoutes()
	s.registerModerationRoutes()

	// The event stream and metrics are plain handlers outside huma.
	s.router.Get("/api/v1/events", sse.NewHandler(s.sseManager, s.resolveStreamCaller, s.logger).ServeHTTP)

	if s.opts.MetricsPath != "" && s.metrics != nil {
		s.router.Handle(s.opts.MetricsPath, s.metrics.Handler())
	}
}

// bearer is the security requirement shared by authenticated operations.
var bearer = []map[string][]string{{"bearer": {}}}
