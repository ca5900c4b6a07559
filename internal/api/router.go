package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/issuestream/internal/auth"
	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/service"
)

// Scheduler is the sync loop as seen by the control API.
type Scheduler interface {
	Interval() time.Duration
	Queue() []int64
	Restart(ctx context.Context) error
}

type ServerOptions struct {
	Logger     *slog.Logger
	Scheduler  Scheduler
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Events     *EventBroker
}

type Server struct {
	db       database.DB
	authSvc  *auth.Service
	streams  *service.StreamService
	items    *service.ItemService
	sched    Scheduler
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	events   *EventBroker
	metrics  *httpMetrics
	mux      *http.ServeMux
	handler  http.Handler
}

type middlewareFunc func(http.Handler) http.Handler

func NewServer(db database.DB, authSvc *auth.Service, streams *service.StreamService, items *service.ItemService, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := getDefaultHTTPMetrics()
	if opts.Registerer != nil {
		metrics = newHTTPMetrics(opts.Registerer)
	}
	events := opts.Events
	if events == nil {
		events = NewEventBroker()
	}
	s := &Server{
		db:       db,
		authSvc:  authSvc,
		streams:  streams,
		items:    items,
		sched:    opts.Scheduler,
		logger:   logger,
		gatherer: opts.Gatherer,
		events:   events,
		metrics:  metrics,
		mux:      http.NewServeMux(),
	}
	s.routes()
	s.handler = chainMiddleware(s.mux,
		requestTracingMiddleware,
		func(next http.Handler) http.Handler { return requestMetricsMiddleware(metrics, next) },
		func(next http.Handler) http.Handler { return requestLoggingMiddleware(logger, next) },
		requestBodyLimitMiddleware,
		auth.Middleware(authSvc),
	)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metricsHandler(s.gatherer))

	// Streams
	s.mux.HandleFunc("GET /api/v1/streams", s.requireAuth(s.handleListStreams))
	s.mux.HandleFunc("POST /api/v1/streams", s.requireAuth(s.handleCreateStream))
	s.mux.HandleFunc("GET /api/v1/streams/{id}", s.requireAuth(s.handleGetStream))
	s.mux.HandleFunc("PUT /api/v1/streams/{id}", s.requireAuth(s.handleUpdateStream))
	s.mux.HandleFunc("DELETE /api/v1/streams/{id}", s.requireAuth(s.handleDeleteStream))
	s.mux.HandleFunc("POST /api/v1/streams/{id}/refresh", s.requireAuth(s.handleRefreshStream))
	s.mux.HandleFunc("GET /api/v1/streams/{id}/queries", s.requireAuth(s.handleStreamQueries))
	s.mux.HandleFunc("GET /api/v1/streams/{id}/items", s.requireAuth(s.handleListStreamItems))

	// Items
	s.mux.HandleFunc("GET /api/v1/items/{id}", s.requireAuth(s.handleGetItem))
	s.mux.HandleFunc("POST /api/v1/items/refresh", s.requireAuth(s.handleRefreshItems))
	s.mux.HandleFunc("POST /api/v1/items/{id}/{action}", s.requireAuth(s.handleItemAction))

	// Notifications
	s.mux.HandleFunc("GET /api/v1/events", s.requireAuth(s.handleEvents))

	// Scheduler
	s.mux.HandleFunc("GET /api/v1/scheduler", s.requireAuth(s.handleSchedulerStatus))
	s.mux.HandleFunc("POST /api/v1/scheduler/restart", s.requireAuth(s.handleSchedulerRestart))
}

func (s *Server) requireAuth(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.GetClaims(r.Context()) == nil {
			jsonError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

// chainMiddleware wraps h so the first middleware is the outermost.
func chainMiddleware(h http.Handler, mws ...middlewareFunc) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
