// Package handlers contains HTTP handlers for the agent's local control API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"robotagent/internal/registry"
	"robotagent/internal/relay"
	"robotagent/pkg/api"
)

// JobRegistry is the read side of the job registry.
type JobRegistry interface {
	Lookup(jobID string) (registry.Record, bool)
	List() []registry.Record
	Count() map[registry.Status]int
}

// Tunnels attaches clients to jobs and moves their bytes.
type Tunnels interface {
	Attach(ctx context.Context, jobID, clientID string) (bool, error)
	Send(ctx context.Context, jobID string, data []byte) error
	Watch(jobID string) (*relay.Subscription, error)
}

// Pinger reports whether the container engine is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	registry JobRegistry
	tunnels  Tunnels
	engine   Pinger
	logger   *slog.Logger
}

// New creates a new Handlers instance.
func New(reg JobRegistry, tunnels Tunnels, engine Pinger, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{registry: reg, tunnels: tunnels, engine: engine, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func toStatusResponse(rec registry.Record) api.JobStatusResponse {
	resp := api.JobStatusResponse{
		ID:        rec.JobID,
		Type:      rec.JobType,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Tunnel != nil {
		resp.Tunnel = &api.TunnelInfo{ClientID: rec.Tunnel.ClientID}
	}
	return resp
}
