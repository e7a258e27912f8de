package handlers

import (
	"net/http"

	"robotagent/pkg/api"
)

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}

// Readyz reports readiness. The agent is ready when the container engine answers.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.httpError(w, "Container engine unavailable", http.StatusServiceUnavailable)
		return
	}

	jobs := make(map[string]int)
	for status, n := range h.registry.Count() {
		jobs[string(status)] = n
	}
	h.respondJson(w, http.StatusOK, api.HealthResponse{Status: "ready", Jobs: jobs})
}
