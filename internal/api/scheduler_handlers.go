package api

import "net/http"

type schedulerStatus struct {
	IntervalSeconds float64 `json:"interval_seconds"`
	Queue           []int64 `json:"queue"`
}

func (s *Server) schedulerStatus() schedulerStatus {
	queue := s.sched.Queue()
	if queue == nil {
		queue = []int64{}
	}
	return schedulerStatus{IntervalSeconds: s.sched.Interval().Seconds(), Queue: queue}
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		jsonError(w, "scheduler is not running", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, http.StatusOK, s.schedulerStatus())
}

func (s *Server) handleSchedulerRestart(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		jsonError(w, "scheduler is not running", http.StatusServiceUnavailable)
		return
	}
	if err := s.sched.Restart(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("scheduler restarted from control api")
	jsonResponse(w, http.StatusAccepted, s.schedulerStatus())
}
