package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sony/gobreaker"

	"github.com/odvcencio/issuestream/internal/models"
)

const searchBody = `{
  "total_count": 2,
  "incomplete_results": false,
  "items": [
    {
      "id": 101, "node_id": "I_101", "number": 7, "title": "Crash on start", "state": "open",
      "html_url": "https://github.com/acme/widgets/issues/7",
      "repository_url": "https://api.github.com/repos/acme/widgets",
      "user": {"login": "alice"},
      "assignees": [{"login": "bob"}],
      "labels": [{"name": "bug"}, {"name": "p1"}],
      "milestone": {"title": "v1.0", "due_on": "2024-06-01T00:00:00Z"},
      "created_at": "2024-05-01T10:00:00Z", "updated_at": "2024-05-02T10:00:00Z", "closed_at": null
    },
    {
      "id": 102, "node_id": "PR_102", "number": 8, "title": "Fix crash", "state": "closed", "draft": false,
      "html_url": "https://github.com/acme/widgets/pull/8",
      "repository_url": "https://api.github.com/repos/acme/widgets",
      "user": {"login": "bob"}, "assignees": [], "labels": [],
      "created_at": "2024-05-01T11:00:00Z", "updated_at": "2024-05-03T10:00:00Z", "closed_at": "2024-05-03T10:00:00Z",
      "pull_request": {"merged_at": "2024-05-03T10:00:00Z"}
    }
  ]
}`

func newTestClient(t *testing.T, h http.HandlerFunc, breaker BreakerSettings) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGitHubClient(Options{APIURL: srv.URL, Token: "secret", Breaker: breaker, HTTPClient: srv.Client()})
}

func TestSearchDecodesItemsAndRateLimit(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/issues" {
			t.Errorf("path = %q, want /search/issues", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		gotQuery = map[string]string{"q": q.Get("q"), "page": q.Get("page"), "per_page": q.Get("per_page"), "sort": q.Get("sort"), "order": q.Get("order")}
		w.Header().Set("X-RateLimit-Limit", "30")
		w.Header().Set("X-RateLimit-Remaining", "29")
		w.Header().Set("X-RateLimit-Reset", "1714600000")
		_, _ = io.WriteString(w, searchBody)
	}, BreakerSettings{})

	res, err := c.Search(context.Background(), SearchRequest{Query: "is:open involves:alice", Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	wantQuery := map[string]string{"q": "is:open involves:alice", "page": "2", "per_page": "100", "sort": "updated", "order": "desc"}
	if diff := cmp.Diff(wantQuery, gotQuery); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
	if res.TotalCount != 2 || len(res.Items) != 2 {
		t.Fatalf("TotalCount = %d, items = %d", res.TotalCount, len(res.Items))
	}
	if res.RateLimit.Remaining != 29 || res.RateLimit.Exhausted() {
		t.Fatalf("RateLimit = %+v", res.RateLimit)
	}

	issue := res.Items[0]
	if issue.Type != models.ItemTypeIssue || issue.Repo != "acme/widgets" || issue.Author != "alice" {
		t.Fatalf("issue = %+v", issue)
	}
	if diff := cmp.Diff([]string{"bug", "p1"}, issue.Labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	if issue.MilestoneDueOn == nil || issue.Milestone != "v1.0" {
		t.Fatalf("milestone = %q due %v", issue.Milestone, issue.MilestoneDueOn)
	}
	if len(issue.Raw) == 0 {
		t.Fatal("expected raw payload to be retained")
	}

	pr := res.Items[1]
	if pr.Type != models.ItemTypePullRequest || !pr.Merged || pr.ClosedAt == nil {
		t.Fatalf("pr = %+v", pr)
	}
}

func TestSearchUnprocessableIsEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Validation Failed"}`)
	}, BreakerSettings{})

	res, err := c.Search(context.Background(), SearchRequest{Query: "repo:ghost/missing"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalCount != 0 || len(res.Items) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSearchRateLimitedIsDistinguishedFromForbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "30")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"API rate limit exceeded"}`)
	}, BreakerSettings{})

	_, err := c.Search(context.Background(), SearchRequest{Query: "is:open"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Search error = %v, want ErrRateLimited", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("rate limit should not classify as forbidden")
	}
}

func TestGetItemNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/issues/9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Not Found"}`)
	}, BreakerSettings{})

	_, err := c.GetItem(context.Background(), "acme/widgets", 9)
	if !errors.Is(err, ErrNotFound) || !IsGone(err) {
		t.Fatalf("GetItem error = %v, want ErrNotFound", err)
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, BreakerSettings{MinRequests: 2, FailureThreshold: 0.5, Timeout: time.Minute})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Search(ctx, SearchRequest{Query: "is:open"}); err == nil {
			t.Fatalf("search %d: expected error", i)
		}
	}
	_, err := c.Search(ctx, SearchRequest{Query: "is:open"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Search error = %v, want open breaker", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2", got)
	}
}

func TestTeamsPaginates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		if r.URL.Query().Get("page") == "1" {
			for i := 0; i < listPageSize; i++ {
				batch = append(batch, map[string]any{"slug": "core", "organization": map[string]string{"login": "acme"}})
			}
		} else {
			batch = append(batch, map[string]any{"slug": "infra", "organization": map[string]string{"login": "acme"}})
		}
		_ = json.NewEncoder(w).Encode(batch)
	}, BreakerSettings{})

	teams, err := c.Teams(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != listPageSize+1 || teams[len(teams)-1] != "acme/infra" {
		t.Fatalf("teams = %d, last %q", len(teams), teams[len(teams)-1])
	}
}

func TestLastTimeline(t *testing.T) {
	var gotIDs []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/graphql" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Variables struct {
				IDs []string `json:"ids"`
			} `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotIDs = body.Variables.IDs
		_, _ = io.WriteString(w, `{"data":{"nodes":[
			{"id":"I_1","timelineItems":{"nodes":[{"__typename":"IssueComment","author":{"login":"alice"},"createdAt":"2024-05-02T10:00:00Z"}]}},
			{"id":"I_2","timelineItems":{"nodes":[{"__typename":"LabeledEvent","actor":{"login":"bob"},"createdAt":"2024-05-03T10:00:00Z"}]}},
			null
		]}}`)
	}, BreakerSettings{})

	events, err := c.LastTimeline(context.Background(), []string{"I_1", "I_2", "I_gone"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"I_1", "I_2", "I_gone"}, gotIDs); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	want := map[string]TimelineEvent{
		"I_1": {User: "alice", At: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)},
		"I_2": {User: "bob", At: time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}
