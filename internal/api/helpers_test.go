package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/remote"
	"github.com/odvcencio/issuestream/internal/scheduler"
	"github.com/odvcencio/issuestream/internal/service"
)

func TestParsePathID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if _, ok := parsePathID(rec, req, "id", "stream id"); ok {
		t.Fatal("expected missing path value to fail")
	}
	assertJSONError(t, rec, http.StatusBadRequest, "stream id is required")

	for _, raw := range []string{"abc", "0", "-1", "9223372036854775808"} {
		t.Run("invalid_"+raw, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.SetPathValue("id", raw)
			rec := httptest.NewRecorder()
			if _, ok := parsePathID(rec, req, "id", "stream id"); ok {
				t.Fatalf("expected invalid path value %q to fail", raw)
			}
			assertJSONError(t, rec, http.StatusBadRequest, "invalid stream id")
		})
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetPathValue("id", " 42 ")
	rec = httptest.NewRecorder()
	id, ok := parsePathID(rec, req, "id", "stream id")
	if !ok {
		t.Fatal("expected valid path value to parse")
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}
}

func TestWriteServiceErrorStatuses(t *testing.T) {
	s := &Server{logger: slog.New(slog.DiscardHandler)}
	tests := []struct {
		err  error
		want int
	}{
		{database.ErrNotFound, http.StatusNotFound},
		{scheduler.ErrUnknownStream, http.StatusNotFound},
		{fmt.Errorf("%w: name is required", service.ErrInvalidStream), http.StatusBadRequest},
		{fmt.Errorf("%w: bad", service.ErrInvalidFilter), http.StatusBadRequest},
		{fmt.Errorf("search: %w", remote.ErrRateLimited), http.StatusTooManyRequests},
		{remote.ErrForbidden, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func assertJSONError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantError string) {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected status %d, got %d", wantStatus, rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if got := body["error"]; got != wantError {
		t.Fatalf("expected error %q, got %q", wantError, got)
	}
}
