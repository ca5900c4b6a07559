package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "issuestream"
	metricsSubsystem = "http"
)

type httpMetrics struct {
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	eventStreams    prometheus.Gauge
}

var (
	defaultHTTPMetricsOnce sync.Once
	defaultHTTPMetricsInst *httpMetrics
)

func getDefaultHTTPMetrics() *httpMetrics {
	defaultHTTPMetricsOnce.Do(func() {
		defaultHTTPMetricsInst = newHTTPMetrics(prometheus.DefaultRegisterer)
	})
	return defaultHTTPMetricsInst
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	labels := []string{"method", "route", "status_class"}
	m := &httpMetrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Control API requests handled.",
		}, labels),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Control API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Control API requests answered with status >= 400.",
		}, []string{"method", "route", "status_code"}),
		eventStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "event_streams",
			Help:      "Connected server-sent event clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requestTotal, m.requestDuration, m.requestErrors, m.eventStreams)
	}
	return m
}

func requestMetricsMiddleware(metrics *httpMetrics, next http.Handler) http.Handler {
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Avoid recursive scrape accounting.
		if shouldSkipRequestInstrumentation(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := requestRouteLabel(r)
		class := httpStatusClass(rec.status)
		metrics.requestTotal.WithLabelValues(r.Method, route, class).Inc()
		metrics.requestDuration.WithLabelValues(r.Method, route, class).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusBadRequest {
			metrics.requestErrors.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		}
	})
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// routeWords are the literal path segments of the control API. Any other
// segment is folded into {id} when numeric and * otherwise so the route
// label stays bounded.
var routeWords = map[string]bool{
	"streams": true, "items": true, "events": true, "scheduler": true,
	"refresh": true, "queries": true, "restart": true,
	"read": true, "unread": true, "archive": true, "unarchive": true,
	"bookmark": true, "unbookmark": true, "subscribe": true, "unsubscribe": true,
}

// requestRouteLabel turns a request path into a route template such as
// /api/v1/streams/{id}/items.
func requestRouteLabel(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "unknown"
	}
	path := r.URL.Path
	switch path {
	case "/healthz", "/metrics":
		return path
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return "other"
	}
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	for i, seg := range segments {
		switch {
		case routeWords[seg]:
		case isDigits(seg):
			segments[i] = "{id}"
		default:
			segments[i] = "*"
		}
	}
	return "/api/v1/" + strings.Join(segments, "/")
}

// pathStreamID returns the stream id of /api/v1/streams/{id}... paths.
func pathStreamID(path string) (int64, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v1/streams/")
	if !ok {
		return 0, false
	}
	seg, _, _ := strings.Cut(rest, "/")
	if !isDigits(seg) {
		return 0, false
	}
	id, err := strconv.ParseInt(seg, 10, 64)
	return id, err == nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func httpStatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
