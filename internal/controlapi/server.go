// Package controlapi serves the agent's local HTTP control API.
package controlapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"robotagent/internal/controlapi/handlers"
	"robotagent/internal/controlapi/middleware"
)

// Options configures the control API server.
type Options struct {
	// InputRateLimit is the per-job input rate in requests per second. 0 disables limiting.
	InputRateLimit float64
	InputRateBurst int
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the control API.
type Server struct {
	httpServer *http.Server
}

// New creates a new control API server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	limitMW := middleware.NewRateLimiter(opts.InputRateLimit, opts.InputRateBurst).Middleware()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /jobs/{id}/tunnel", h.AttachTunnel)
	mux.Handle("POST /jobs/{id}/input", limitMW(http.HandlerFunc(h.SendInput)))
	mux.HandleFunc("GET /jobs/{id}/output", h.StreamOutput)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the server's routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
