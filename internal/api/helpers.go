package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/remote"
	"github.com/odvcencio/issuestream/internal/scheduler"
	"github.com/odvcencio/issuestream/internal/service"
)

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func parsePathID(w http.ResponseWriter, r *http.Request, key, label string) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue(key))
	if raw == "" {
		jsonError(w, label+" is required", http.StatusBadRequest)
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		jsonError(w, "invalid "+label, http.StatusBadRequest)
		return 0, false
	}
	return value, true
}

// parseQueryInt reads a positive integer query parameter. A missing value
// yields fallback; anything else that is not a positive integer is an error.
func parseQueryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

// parsePagination reads page and per_page; per_page is capped at maxPerPage.
func parsePagination(r *http.Request, defaultPerPage, maxPerPage int) (page, perPage int, err error) {
	if page, err = parseQueryInt(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if perPage, err = parseQueryInt(r, "per_page", defaultPerPage); err != nil {
		return 0, 0, err
	}
	return page, min(perPage, maxPerPage), nil
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, scheduler.ErrUnknownStream):
		jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidStream), errors.Is(err, service.ErrInvalidFilter):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, remote.ErrRateLimited):
		jsonError(w, "remote rate limit exhausted", http.StatusTooManyRequests)
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, remote.ErrForbidden):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}
