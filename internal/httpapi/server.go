// Package httpapi serves the monitor API of a node: health, the topic
// catalog, admin statistics and the prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// defaultSecretKey is only meant for local development
const defaultSecretKey = "ecal-mon-dev-secret-change-me"

const topicsPath = "/api/v1/topics/"

// Server represents the HTTP API server
type Server struct {
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	gatherer   prometheus.Gatherer
	server     *http.Server
	log        *logrus.Entry
}

// Config holds server configuration
type Config struct {
	Port      string
	SecretKey string
	NoAuth    bool
	TokenTTL  time.Duration

	// Gatherer backs /metrics; nil leaves the endpoint out
	Gatherer prometheus.Gatherer

	Logger *logrus.Entry
}

// NewServer creates a new HTTP API server over monitor
func NewServer(monitor Monitor, config Config) *Server {
	log := config.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "httpapi")

	secretKey := config.SecretKey
	if secretKey == "" {
		log.Warn("No monitor secret configured, using the development key")
		secretKey = defaultSecretKey
	}

	jwtAuth := NewJWTAuth(secretKey, config.TokenTTL)
	s := &Server{
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(monitor, jwtAuth),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, log),
		gatherer:   config.Gatherer,
		log:        log,
	}

	s.server = &http.Server{
		Addr:              ":" + config.Port,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("Monitor API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}
	get := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handler(w, r)
		}
	}

	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))
	mux.Handle("/api/v1/health", withMiddleware(get(s.handlers.Health)))

	mux.Handle("/api/v1/topics", withMiddleware(s.middleware.AuthRequired(get(s.handlers.ListTopics))))
	mux.Handle(topicsPath, withMiddleware(s.middleware.AuthRequired(get(s.handleTopicByName))))

	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(get(s.handlers.AdminGetStats))))

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("/", withMiddleware(s.handleRoot))
	return mux
}

// handleTopicByName extracts the topic name from /api/v1/topics/{name}
func (s *Server) handleTopicByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, topicsPath)
	if name == "" {
		writeError(w, "Topic name required", http.StatusBadRequest)
		return
	}
	s.handlers.GetTopic(w, r, name)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	endpoints := map[string]interface{}{
		"auth": map[string]string{
			"login": "POST /api/v1/auth/login",
		},
		"topics": map[string]string{
			"list": "GET /api/v1/topics",
			"get":  "GET /api/v1/topics/{name}",
		},
		"admin": map[string]string{
			"stats": "GET /api/v1/admin/stats",
		},
		"health": "GET /api/v1/health",
	}
	if s.gatherer != nil {
		endpoints["metrics"] = "GET /metrics"
	}

	writeJSON(w, map[string]interface{}{
		"service":        "ecal monitor API",
		"version":        "1.0.0",
		"description":    "Read-only view of the publishers and subscribers seen by this node",
		"endpoints":      endpoints,
		"authentication": "Bearer JWT token required for topic and admin endpoints",
	}, http.StatusOK)
}
