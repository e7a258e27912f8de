package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"robotagent/internal/registry"
	"robotagent/internal/relay"
	"robotagent/internal/tunnel"
	"robotagent/pkg/api"

	"github.com/google/uuid"
)

// AttachTunnel handles POST /jobs/{id}/tunnel
// An empty body or client_id attaches under a generated client id.
func (h *Handlers) AttachTunnel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req api.AttachRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.httpError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	replaced, err := h.tunnels.Attach(r.Context(), jobID, req.ClientID)
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to attach tunnel", "job_id", jobID, "error", err)
		h.httpError(w, "Failed to attach tunnel", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.AttachResponse{
		JobID:    jobID,
		ClientID: req.ClientID,
		Replaced: replaced,
	})
}

// SendInput handles POST /jobs/{id}/input
// Input nobody is reading is accepted and dropped.
func (h *Handlers) SendInput(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req api.InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Data == "" {
		h.httpError(w, "data is required", http.StatusBadRequest)
		return
	}

	if err := h.tunnels.Send(r.Context(), jobID, []byte(req.Data)); err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to send input", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StreamOutput handles GET /jobs/{id}/output
// It copies the attached tunnel's output to the response until the tunnel
// is replaced, the job finishes or the client disconnects.
func (h *Handlers) StreamOutput(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	sub, err := h.tunnels.Watch(jobID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrJobNotFound):
			h.httpError(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, tunnel.ErrNotAttached):
			h.httpError(w, "No tunnel attached", http.StatusConflict)
		default:
			h.httpError(w, "Failed to watch output", http.StatusInternalServerError)
		}
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		chunk, err := sub.Recv(r.Context())
		if err != nil {
			var lagged *relay.LaggedError
			if errors.As(err, &lagged) {
				h.logger.Warn("output stream lagged", "job_id", jobID, "missed", lagged.Missed)
				continue
			}
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
