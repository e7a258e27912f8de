package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"robotagent/internal/registry"
	"robotagent/pkg/api"
)

func TestGetJob(t *testing.T) {
	tests := []struct {
		name           string
		jobID          string
		setup          func(*fixture)
		expectedStatus int
		expectedJob    api.JobStatusResponse
	}{
		{
			name:  "Pending Job",
			jobID: "job-1",
			setup: func(f *fixture) {
				f.registry.Register("job-1", "docker-container-launch")
			},
			expectedStatus: http.StatusOK,
			expectedJob:    api.JobStatusResponse{ID: "job-1", Type: "docker-container-launch", Status: "pending"},
		},
		{
			name:  "Running Job With Tunnel",
			jobID: "job-1",
			setup: func(f *fixture) {
				f.registry.Register("job-1", "docker-container-launch")
				f.registry.SetStatus("job-1", registry.StatusRunning)
				f.registry.AttachTunnel("job-1", "client-a")
			},
			expectedStatus: http.StatusOK,
			expectedJob: api.JobStatusResponse{
				ID:     "job-1",
				Type:   "docker-container-launch",
				Status: "running",
				Tunnel: &api.TunnelInfo{ClientID: "client-a"},
			},
		},
		{
			name:           "Unknown Job",
			jobID:          "missing",
			setup:          func(f *fixture) {},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			req := httptest.NewRequest(http.MethodGet, "/jobs/"+tt.jobID, nil)
			rr := httptest.NewRecorder()
			f.mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var got api.JobStatusResponse
			if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.ID != tt.expectedJob.ID || got.Type != tt.expectedJob.Type || got.Status != tt.expectedJob.Status {
				t.Errorf("got job %+v, want %+v", got, tt.expectedJob)
			}
			if (got.Tunnel == nil) != (tt.expectedJob.Tunnel == nil) {
				t.Fatalf("got tunnel %+v, want %+v", got.Tunnel, tt.expectedJob.Tunnel)
			}
			if got.Tunnel != nil && got.Tunnel.ClientID != tt.expectedJob.Tunnel.ClientID {
				t.Errorf("got client %q, want %q", got.Tunnel.ClientID, tt.expectedJob.Tunnel.ClientID)
			}
			if got.CreatedAt.IsZero() {
				t.Error("expected created_at to be set")
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture()

	// Empty registry returns an empty list, not null
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if body := rr.Body.String(); body != "{\"jobs\":[]}\n" {
		t.Errorf("unexpected body for empty registry: %q", body)
	}

	f.registry.Register("job-1", "docker-container-launch")
	f.registry.Register("job-2", "docker-container-launch")
	f.registry.Complete("job-1", registry.StatusError)

	rr = httptest.NewRecorder()
	f.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	var resp api.ListJobsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(resp.Jobs))
	}
	statuses := map[string]string{}
	for _, j := range resp.Jobs {
		statuses[j.ID] = j.Status
	}
	if statuses["job-1"] != "error" || statuses["job-2"] != "pending" {
		t.Errorf("unexpected statuses: %v", statuses)
	}
}
