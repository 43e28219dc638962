package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/auth"
	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/recurve"
	"github.com/joaquinllenado/recurve-ai/pkg/config"
)

const maxBodyBytes = 1 << 20

// Server represents the HTTP API server
type Server struct {
	agent   *recurve.Agent
	auth    *auth.Manager
	config  *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	routes  map[string]bool
}

// NewServer creates a new API server
func NewServer(agent *recurve.Agent, authManager *auth.Manager, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		agent:   agent,
		auth:    authManager,
		config:  cfg,
		metrics: m,
		logger:  logger.Named("api"),
		routes:  make(map[string]bool),
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	s.handle(mux, "/api/health", s.handleHealth)

	// Strategy lifecycle
	s.handle(mux, "/api/product", s.handleProduct)
	s.handle(mux, "/api/strategy", s.handleStrategy)
	s.handle(mux, "/api/strategy/evolve", s.handleEvolve)
	s.handle(mux, "/api/strategies", s.handleStrategies)

	// Leads and validation
	s.handle(mux, "/api/companies", s.handleCompanies)
	s.handle(mux, "/api/validate", s.handleValidate)
	s.handle(mux, "/api/seed", s.handleSeed)
	s.handle(mux, "/api/reset", s.handleReset)

	// Scout
	s.handle(mux, "/api/scout/trigger", s.handleScoutTrigger)
	s.handle(mux, "/api/scout/state", s.handleScoutState)

	// Knowledge graph and audit trail
	s.handle(mux, "/api/graph", s.handleGraph)
	s.handle(mux, "/api/lessons", s.handleLessons)
	s.handle(mux, "/api/pivots", s.handlePivots)

	// Events (real-time updates)
	s.handle(mux, "/api/events", s.handleGetEvents)
	s.handle(mux, "/api/events/stream", s.handleEventStream)
	s.handle(mux, "/api/ws/feed", s.handleFeedSocket)

	s.handle(mux, "/api/logs", s.handleLogsRecent)

	mux.Handle("/metrics", promhttp.Handler())
	s.routes["/metrics"] = true

	// Apply middleware
	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware(auth.Policy{Public: isPublic, Admin: isAdmin}, handler)
	}
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	return handler
}

func (s *Server) handle(mux *http.ServeMux, path string, h http.HandlerFunc) {
	mux.HandleFunc(path, h)
	s.routes[path] = true
}

func isPublic(r *http.Request) bool {
	return r.URL.Path == "/api/health" || r.URL.Path == "/metrics"
}

func isAdmin(r *http.Request) bool {
	return r.URL.Path == "/api/reset" || r.URL.Path == "/api/seed"
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// loggingMiddleware logs HTTP requests and records request metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		path := r.URL.Path
		if !s.routes[path] {
			path = "other"
		}
		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), elapsed.Seconds())
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
			zap.String("remote", r.RemoteAddr))
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.config.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return allowed
		}
	}
	return ""
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to encode response", zap.Error(err))
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondFault maps err to its status code and kind.
func (s *Server) respondFault(w http.ResponseWriter, err error) {
	status := faults.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Error(err), zap.Int("status", status))
	}
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  faults.Kind(err),
	})
}

// parseJSON parses JSON request body. An empty body leaves v untouched
// when allowEmpty is set.
func (s *Server) parseJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) methodAllowed(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, name string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return fallback
}
