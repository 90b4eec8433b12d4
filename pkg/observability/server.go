package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server exposes the ops surface: health probes and Prometheus metrics.
// It runs on its own port, separate from any user-facing transport.
type Server struct {
	httpServer *http.Server
}

// NewServer wires the ops endpoints around the given health checker
func NewServer(port int, health *HealthChecker) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.Handler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", health.ReadinessHandler())
	mux.Handle("/metrics", MetricsHandler())

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving until Shutdown or a listener error
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
