package api

import (
	"database/sql"
	"net/http"
	"time"
)

type dbStatsProvider interface {
	DBStats() sql.DBStats
}

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Scheduler *healthSync     `json:"scheduler,omitempty"`
	Database  *healthDatabase `json:"database,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
}

type healthSync struct {
	IntervalSeconds float64 `json:"interval_seconds"`
	Queued          int     `json:"queued"`
}

type healthDatabase struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDurationMS  int64 `json:"wait_duration_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}

	if s.sched != nil {
		resp.Scheduler = &healthSync{
			IntervalSeconds: s.sched.Interval().Seconds(),
			Queued:          len(s.sched.Queue()),
		}
	}

	if _, err := s.db.ListStreams(r.Context()); err != nil {
		resp.Errors = append(resp.Errors, "database")
	}
	if poolProvider, ok := s.db.(dbStatsProvider); ok {
		stats := poolProvider.DBStats()
		resp.Database = &healthDatabase{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			WaitDurationMS:  stats.WaitDuration.Milliseconds(),
		}
	}

	if len(resp.Errors) > 0 {
		resp.Status = "degraded"
		jsonResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}
