package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// limitedMux routes through a ServeMux so the {id} path value is populated.
func limitedMux(limit float64, burst int) http.Handler {
	mw := NewRateLimiter(limit, burst, WithTTL(5*time.Minute)).Middleware()
	mux := http.NewServeMux()
	mux.Handle("POST /jobs/{id}/input", mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	return mux
}

func post(h http.Handler, jobID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID+"/input", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	h := limitedMux(100, 200)

	rr := post(h, "job-1")
	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	h := limitedMux(1, 1)

	if rr := post(h, "job-1"); rr.Code != http.StatusOK {
		t.Fatalf("first request: got status %d, want %d", rr.Code, http.StatusOK)
	}

	rr := post(h, "job-1")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After header '1', got %q", rr.Header().Get("Retry-After"))
	}
}

func TestRateLimitMiddleware_SeparateLimitsPerJob(t *testing.T) {
	h := limitedMux(1, 1)

	if rr := post(h, "job-1"); rr.Code != http.StatusOK {
		t.Fatalf("job-1: got status %d, want %d", rr.Code, http.StatusOK)
	}
	if rr := post(h, "job-2"); rr.Code != http.StatusOK {
		t.Errorf("job-2 should have its own limiter, got status %d", rr.Code)
	}
}

func TestRateLimitMiddleware_ZeroLimitIsUnlimited(t *testing.T) {
	h := limitedMux(0, 0)

	for i := 0; i < 50; i++ {
		if rr := post(h, "job-1"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}
}

func TestRateLimiter_ExpiredLimiterIsRecreated(t *testing.T) {
	l := NewRateLimiter(1, 1, WithTTL(-time.Second))

	first := l.getOrCreateLimiter("job-1")
	second := l.getOrCreateLimiter("job-1")
	if first == second {
		t.Error("expected expired limiter to be replaced")
	}
}

func TestRateLimiter_CachedWithinTTL(t *testing.T) {
	l := NewRateLimiter(1, 1)

	first := l.getOrCreateLimiter("job-1")
	second := l.getOrCreateLimiter("job-1")
	if first != second {
		t.Error("expected limiter to be reused within TTL")
	}
}
