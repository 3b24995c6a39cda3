package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pquerna/ffjson/ffjson"
	"github.com/rs/zerolog/log"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/replicator"
	"github.com/cohenjo/migration-stream/pkg/state"
)

// MigrationControl is the part of the migration controller the API drives
type MigrationControl interface {
	Pause()
	Resume()
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
	Status() replicator.Status
	Mappings() []models.SourceToDestination
	MigrationState() state.State
}

// Options configures the HTTP API server
type Options struct {
	Config    config.ServerConfig
	Migration MigrationControl
	// Metrics serves /metrics; the route is absent when nil
	Metrics http.Handler
	// Events feeds /api/v1/state/events; the route is absent when nil
	Events      *state.Broadcaster
	Version     string
	CORSOrigins []string
}

// Server is the HTTP control surface of a running migration
type Server struct {
	httpServer    *http.Server
	healthService *HealthService
	migration     MigrationControl
	events        *state.Broadcaster
	version       string
}

// NewServer creates a new HTTP API server
func NewServer(opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.CORSOrigins == nil {
		opts.CORSOrigins = []string{"*"}
	}

	healthService := NewHealthService(opts.Version)
	healthService.RegisterChecker(NewDatabaseChecker(true, opts.Migration.Ping))
	healthService.RegisterChecker(NewMigrationChecker(opts.Migration.MigrationState))

	server := &Server{
		healthService: healthService,
		migration:     opts.Migration,
		events:        opts.Events,
		version:       opts.Version,
	}

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(opts.Config.Host, strconv.Itoa(opts.Config.Port)),
		Handler:      server.createMux(opts),
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}

	log.Info().
		Str("address", server.httpServer.Addr).
		Bool("metrics_enabled", opts.Metrics != nil).
		Bool("events_enabled", opts.Events != nil).
		Msg("HTTP API server created")

	return server
}

// createMux creates the HTTP multiplexer with all routes and middleware
func (s *Server) createMux(opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", NewHealthHandler(s.healthService))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("GET /api/v1/migration", s.handleMigration)
	mux.HandleFunc("POST /api/v1/migration/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/migration/resume", s.handleResume)
	mux.HandleFunc("POST /api/v1/migration/stop", s.handleStop)
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/state/{namespace}", s.handleCollectionState)
	if s.events != nil {
		mux.HandleFunc("GET /api/v1/state/events", s.handleEvents)
	}

	mux.HandleFunc("GET /{$}", s.handleRoot)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler, opts.CORSOrigins)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Stop; it returns nil after a graceful stop
func (s *Server) Start() error {
	log.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "migration-stream",
		"version":   s.version,
		"status":    s.migration.Status(),
		"timestamp": time.Now(),
		"endpoints": map[string]string{
			"health":    "GET /health",
			"metrics":   "GET /metrics",
			"migration": "GET /api/v1/migration",
			"pause":     "POST /api/v1/migration/pause",
			"resume":    "POST /api/v1/migration/resume",
			"stop":      "POST /api/v1/migration/stop",
			"state":     "GET /api/v1/state",
			"namespace": "GET /api/v1/state/{db.collection}",
			"events":    "GET /api/v1/state/events",
		},
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status_code", wrapped.statusCode).
			Dur("duration", time.Since(startTime)).
			Msg("HTTP request")
	})
}

// recoveryMiddleware recovers from panics
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered in HTTP handler")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriterWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack hands the connection over to the websocket upgrader
func (rw *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	data, err := ffjson.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
	ffjson.Pool(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message, Timestamp: time.Now()})
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
