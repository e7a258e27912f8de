package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"robotagent/internal/registry"
	"robotagent/internal/tunnel"
)

type mockEngine struct {
	pingErr error
}

func (m *mockEngine) Ping(ctx context.Context) error {
	return m.pingErr
}

type fixture struct {
	registry *registry.Registry
	tunnels  *tunnel.Service
	engine   *mockEngine
	handlers *Handlers
	mux      *http.ServeMux
}

// newFixture wires handlers to a real registry and a tunnel service without a publisher.
func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(8, logger)
	tun := tunnel.New(reg, nil, nil, logger)
	engine := &mockEngine{}
	h := New(reg, tun, engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /jobs/{id}/tunnel", h.AttachTunnel)
	mux.HandleFunc("POST /jobs/{id}/input", h.SendInput)
	mux.HandleFunc("GET /jobs/{id}/output", h.StreamOutput)

	return &fixture{registry: reg, tunnels: tun, engine: engine, handlers: h, mux: mux}
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 2*time.Second)
}
