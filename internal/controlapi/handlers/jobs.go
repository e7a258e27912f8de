package handlers

import (
	"net/http"

	"robotagent/pkg/api"
)

// ListJobs handles GET /jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	records := h.registry.List()

	resp := api.ListJobsResponse{Jobs: make([]api.JobStatusResponse, 0, len(records))}
	for _, rec := range records {
		resp.Jobs = append(resp.Jobs, toStatusResponse(rec))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.registry.Lookup(r.PathValue("id"))
	if !ok {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, toStatusResponse(rec))
}
