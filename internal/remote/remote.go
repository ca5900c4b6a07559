// Package remote talks to the issue search service. The engine only depends
// on the interfaces here; GitHubClient is the production implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/odvcencio/issuestream/internal/models"
)

var (
	ErrNotFound    = errors.New("remote: not found")
	ErrForbidden   = errors.New("remote: forbidden")
	ErrRateLimited = errors.New("remote: rate limited")
)

// SearchRequest is one page of an issue search.
type SearchRequest struct {
	Query   string
	Page    int
	PerPage int
	Sort    string
	Order   string
}

// RateLimit mirrors the X-RateLimit-* response headers. A zero Limit means
// the response carried no rate-limit headers.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

func (r RateLimit) Exhausted() bool {
	return r.Limit > 0 && r.Remaining <= 0
}

type SearchResult struct {
	Items      []models.Item
	TotalCount int
	RateLimit  RateLimit
}

// Client executes searches and single-item lookups.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	GetItem(ctx context.Context, repo string, number int) (*models.Item, error)
}

// MembershipSource lists what the account belongs to. Teams are "org/slug",
// repos are "org/name".
type MembershipSource interface {
	Teams(ctx context.Context) ([]string, error)
	WatchingRepos(ctx context.Context) ([]string, error)
}

// TimelineEvent is the most recent timeline entry of an item.
type TimelineEvent struct {
	User string
	At   time.Time
}

// TimelineSource resolves the last timeline event per node id. Unknown ids
// are omitted from the result.
type TimelineSource interface {
	LastTimeline(ctx context.Context, nodeIDs []string) (map[string]TimelineEvent, error)
}

// StatusError is a non-2xx response from the remote service.
type StatusError struct {
	StatusCode  int
	Message     string
	RateLimited bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.RateLimited
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden && !e.RateLimited
	}
	return false
}

// IsGone reports whether err means the item no longer exists or is no
// longer visible to the account.
func IsGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}
