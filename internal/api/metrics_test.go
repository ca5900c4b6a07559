package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/api/v1/streams", "/api/v1/streams"},
		{"/api/v1/streams/7", "/api/v1/streams/{id}"},
		{"/api/v1/streams/7/items", "/api/v1/streams/{id}/items"},
		{"/api/v1/items/42/archive", "/api/v1/items/{id}/archive"},
		{"/api/v1/items/42/explode", "/api/v1/items/{id}/*"},
		{"/api/v1/scheduler/restart", "/api/v1/scheduler/restart"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := requestRouteLabel(req); got != tt.want {
			t.Errorf("requestRouteLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestPathStreamID(t *testing.T) {
	if id, ok := pathStreamID("/api/v1/streams/12/items"); !ok || id != 12 {
		t.Fatalf("pathStreamID = %d, %v; want 12, true", id, ok)
	}
	for _, path := range []string{"/api/v1/streams", "/api/v1/streams/abc", "/api/v1/items/12"} {
		if _, ok := pathStreamID(path); ok {
			t.Errorf("pathStreamID(%q) matched, want no stream id", path)
		}
	}
}

func TestRequestMetricsMiddlewareRecordsRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newHTTPMetrics(reg)

	handler := requestMetricsMiddleware(metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/streams/7/items", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}
	route := "/api/v1/streams/{id}/items"
	if got := testutil.ToFloat64(metrics.requestTotal.WithLabelValues(http.MethodGet, route, "5xx")); got != 1 {
		t.Fatalf("request counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.requestErrors.WithLabelValues(http.MethodGet, route, "500")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.requestDuration); got != 1 {
		t.Fatalf("latency series = %d, want 1", got)
	}
}

func TestRequestMetricsMiddlewareSkipsMetricsEndpoint(t *testing.T) {
	metrics := newHTTPMetrics(prometheus.NewRegistry())
	handler := requestMetricsMiddleware(metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := testutil.CollectAndCount(metrics.requestTotal); got != 0 {
		t.Fatalf("expected no request samples for /metrics, got %d", got)
	}
}

func TestMetricsHandlerExposesControlAPIMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newHTTPMetrics(reg)
	metrics.eventStreams.Inc()

	observed := requestMetricsMiddleware(metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	observed.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/streams/99", nil))

	resp := httptest.NewRecorder()
	metricsHandler(reg).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{
		`issuestream_http_requests_total{method="GET",route="/api/v1/streams/{id}",status_class="4xx"} 1`,
		`issuestream_http_errors_total{method="GET",route="/api/v1/streams/{id}",status_code="404"} 1`,
		`issuestream_http_event_streams 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHTTPStatusClass(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 42: "unknown"} {
		if got := httpStatusClass(code); got != want {
			t.Errorf("httpStatusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
