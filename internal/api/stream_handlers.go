package api

import (
	"net/http"

	"github.com/odvcencio/issuestream/internal/models"
)

type streamRequest struct {
	Kind           models.StreamKind `json:"kind"`
	Name           string            `json:"name"`
	ParentID       *int64            `json:"parent_id"`
	Queries        []string          `json:"queries"`
	DefaultFilter  string            `json:"default_filter"`
	UserFilters    []string          `json:"user_filters"`
	Position       int               `json:"position"`
	Enabled        *bool             `json:"enabled"`
	NotifyOnUpdate bool              `json:"notify_on_update"`
}

func (req streamRequest) stream() models.Stream {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return models.Stream{
		Kind:           req.Kind,
		Name:           req.Name,
		ParentID:       req.ParentID,
		Queries:        req.Queries,
		DefaultFilter:  req.DefaultFilter,
		UserFilters:    req.UserFilters,
		Position:       req.Position,
		Enabled:        enabled,
		NotifyOnUpdate: req.NotifyOnUpdate,
	}
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.streams.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if streams == nil {
		streams = []models.Stream{}
	}
	jsonResponse(w, http.StatusOK, streams)
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "stream id")
	if !ok {
		return
	}
	st, err := s.streams.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st := req.stream()
	if err := s.streams.Create(r.Context(), &st); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, st)
}

func (s *Server) handleUpdateStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "stream id")
	if !ok {
		return
	}
	var req streamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st := req.stream()
	st.ID = id
	if err := s.streams.Update(r.Context(), &st); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "stream id")
	if !ok {
		return
	}
	if err := s.streams.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "stream id")
	if !ok {
		return
	}
	if err := s.streams.Refresh(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]int64{"stream_id": id})
}

func (s *Server) handleStreamQueries(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "stream id")
	if !ok {
		return
	}
	queries, err := s.streams.Queries(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if queries == nil {
		queries = []string{}
	}
	jsonResponse(w, http.StatusOK, map[string][]string{"queries": queries})
}

func (s *Server) handleListStreamItems(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r, "id", "stream id")
	if !ok {
		return
	}
	page, perPage, err := parsePagination(r, 50, 200)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.items.ListStream(r.Context(), id, r.URL.Query().Get("filter"), page, perPage)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if result.Items == nil {
		result.Items = []models.Item{}
	}
	jsonResponse(w, http.StatusOK, result)
}
