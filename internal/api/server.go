package api

import (
	"context"
	"net/http"
	"time"
)

// Server is the HTTP front of tinymail: JSON API, tracking callbacks,
// health and metrics.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer wraps a router built by SetupRoutes. readTimeout of zero
// defaults to 30s.
func NewServer(addr string, handler http.Handler, readTimeout time.Duration) *Server {
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	return &Server{
		handler: handler,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
