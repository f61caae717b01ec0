package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMiddleware_RecordsRequest(t *testing.T) {
	reg := NewRegistry()

	wrapped := HTTPMiddleware(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if find(t, reg, "http_requests_total", map[string]string{"path": "/missing", "status": "4xx"}) == nil {
		t.Error("expected http_requests_total with status 4xx")
	}
	h := find(t, reg, "http_request_duration_seconds", map[string]string{"path": "/missing"})
	if h == nil || h.GetHistogram().GetSampleCount() != 1 {
		t.Error("expected one duration sample")
	}
}

func TestHTTPMiddleware_TracksInFlight(t *testing.T) {
	reg := NewRegistry()

	during := float64(-1)
	wrapped := HTTPMiddleware(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = find(t, reg, "http_requests_in_flight", nil).GetGauge().GetValue()
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))

	if during != 1 {
		t.Errorf("expected in-flight to be 1 during request, got %v", during)
	}
	if after := find(t, reg, "http_requests_in_flight", nil).GetGauge().GetValue(); after != 0 {
		t.Errorf("expected in-flight to be 0 after request, got %v", after)
	}
}

func TestHTTPMiddleware_UsesMuxPattern(t *testing.T) {
	reg := NewRegistry()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {})

	wrapped := HTTPMiddleware(reg)(mux)
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/jobs/abc123", nil))

	if find(t, reg, "http_requests_total", map[string]string{"path": "GET /jobs/{id}"}) == nil {
		t.Error("expected request labelled with the mux pattern")
	}
}
