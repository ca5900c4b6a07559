package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const streamEventKeepAliveInterval = 25 * time.Second

// handleEvents streams notifications as server-sent events. The optional
// stream_id query parameter narrows them to one stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var streamID int64
	if raw := r.URL.Query().Get("stream_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			jsonError(w, "invalid stream id", http.StatusBadRequest)
			return
		}
		if _, err := s.streams.Get(r.Context(), id); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		streamID = id
	}
	controller := http.NewResponseController(w)
	// Event streams outlive the server's write timeout.
	_ = controller.SetWriteDeadline(time.Time{})

	// Subscribe before the headers go out so nothing published after the
	// client sees 200 is missed.
	events, unsubscribe := s.events.Subscribe(streamID)
	defer unsubscribe()
	s.metrics.eventStreams.Inc()
	defer s.metrics.eventStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	if err := controller.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(streamEventKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			body, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, body); err != nil {
				return
			}
			if err := controller.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := controller.Flush(); err != nil {
				return
			}
		}
	}
}
