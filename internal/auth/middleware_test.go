package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret-1234567890"

// probe records what the wrapped handler observed.
type probe struct {
	called  bool
	subject string
}

func (p *probe) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		if claims := GetClaims(r.Context()); claims != nil {
			p.subject = claims.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareTokenSources(t *testing.T) {
	svc := NewService(testSecret, time.Hour)
	token, err := svc.GenerateToken("ops")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		method  string
		target  string
		header  string
		subject string
	}{
		{name: "anonymous", method: http.MethodGet, target: "/api/v1/streams"},
		{name: "basic auth ignored", method: http.MethodGet, target: "/api/v1/streams", header: "Basic abc123"},
		{name: "bearer header", method: http.MethodPost, target: "/api/v1/streams", header: "Bearer " + token, subject: "ops"},
		{name: "query token on get", method: http.MethodGet, target: "/api/v1/events?access_token=" + token, subject: "ops"},
		{name: "query token ignored on post", method: http.MethodPost, target: "/api/v1/scheduler/restart?access_token=" + token},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var p probe
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Middleware(svc)(p.handler()).ServeHTTP(rec, req)

			if !p.called {
				t.Fatal("next handler was not called")
			}
			if p.subject != tc.subject {
				t.Fatalf("subject = %q, want %q", p.subject, tc.subject)
			}
		})
	}
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	svc := NewService(testSecret, time.Hour)
	expired, err := NewService(testSecret, -time.Minute).GenerateToken("ops")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := NewService("another-secret", time.Hour).GenerateToken("ops")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{name: "expired header", target: "/api/v1/streams", header: "Bearer " + expired, want: "token expired"},
		{name: "wrong secret", target: "/api/v1/streams", header: "Bearer " + foreign, want: "invalid token"},
		{name: "garbage query token", target: "/api/v1/events?access_token=nope", want: "invalid token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var p probe
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Middleware(svc)(p.handler()).ServeHTTP(rec, req)

			if p.called {
				t.Fatal("next handler was called for a rejected token")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content type = %q", ct)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["error"] != tc.want {
				t.Fatalf("error = %q, want %q", body["error"], tc.want)
			}
		})
	}
}
