package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server exposes the Prometheus endpoint on a dedicated port
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on port serving path
func NewServer(port int, path string, telemetry *TelemetryManager) *Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, telemetry.Handler())

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Stop is called
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.server.Addr).
		Msg("Starting metrics server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
