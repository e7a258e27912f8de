package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"robotagent/internal/registry"
	"robotagent/pkg/api"
)

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Healthz Always OK",
			endpoint:       "/healthz",
			expectedStatus: http.StatusOK,
			expectedBody:   "healthy",
		},
		{
			name:           "Readyz Success",
			endpoint:       "/readyz",
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "Readyz Engine Down",
			endpoint:       "/readyz",
			pingErr:        errors.New("docker daemon not running"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "Container engine unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.engine.pingErr = tt.pingErr

			req := httptest.NewRequest(http.MethodGet, tt.endpoint, nil)
			rr := httptest.NewRecorder()
			f.mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestReadyz_ReportsJobCounts(t *testing.T) {
	f := newFixture()
	f.registry.Register("job-1", "docker-container-launch")
	f.registry.Register("job-2", "docker-container-launch")
	f.registry.Complete("job-2", registry.StatusDone)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	var resp api.HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Jobs["pending"] != 1 || resp.Jobs["done"] != 1 {
		t.Errorf("unexpected job counts: %v", resp.Jobs)
	}
}
