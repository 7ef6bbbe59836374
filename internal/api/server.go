package api

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the HTTP server around the handler set.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer builds the server with all routes registered.
func NewServer(h *Handlers) *Server {
	return &Server{handler: setupRoutes(h)}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// The read timeout is generous to support large file uploads. The
		// write timeout stays unset: progress streams hold the response
		// open for the life of a task.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
