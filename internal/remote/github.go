package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/issuestream/internal/models"
)

const tracerName = "github.com/odvcencio/issuestream/internal/remote"

const (
	DefaultAPIURL  = "https://api.github.com"
	defaultPerPage = 100
	defaultTimeout = 30 * time.Second
	listPageSize   = 100
)

// BreakerSettings configure the circuit breaker around every request.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

type Options struct {
	APIURL     string
	GraphQLURL string
	Token      string
	Timeout    time.Duration
	Breaker    BreakerSettings
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GitHubClient implements Client, MembershipSource and TimelineSource against
// the GitHub REST and GraphQL APIs.
type GitHubClient struct {
	apiURL     string
	graphqlURL string
	token      string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewGitHubClient(opts Options) *GitHubClient {
	apiURL := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	graphqlURL := strings.TrimSpace(opts.GraphQLURL)
	if graphqlURL == "" {
		graphqlURL = apiURL + "/graphql"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &GitHubClient{
		apiURL:     apiURL,
		graphqlURL: graphqlURL,
		token:      opts.Token,
		http:       httpClient,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
	c.breaker = newBreaker("github", opts.Breaker, logger)
	return c
}

func newBreaker(name string, cfg BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.8
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess counts only transport failures and 5xx responses against
// the breaker. Client errors say nothing about the service's health.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < http.StatusInternalServerError
	}
	return false
}

func (c *GitHubClient) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	sort := req.Sort
	if sort == "" {
		sort = "updated"
	}
	order := req.Order
	if order == "" {
		order = "desc"
	}

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("sort", sort)
	q.Set("order", order)

	var payload searchPayload
	rl, err := c.getJSON(ctx, "search", "/search/issues", q, &payload)
	if err != nil {
		// 422 means the query names users or repos that do not exist or
		// are not visible: an empty result, not a failure.
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity {
			return &SearchResult{RateLimit: rl}, nil
		}
		return nil, err
	}
	items, err := decodeItems(payload.Items)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Items: items, TotalCount: payload.TotalCount, RateLimit: rl}, nil
}

func (c *GitHubClient) GetItem(ctx context.Context, repo string, number int) (*models.Item, error) {
	repo = strings.Trim(strings.TrimSpace(repo), "/")
	if repo == "" || number <= 0 {
		return nil, fmt.Errorf("get item: invalid reference %q#%d", repo, number)
	}
	var raw json.RawMessage
	endpoint := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
	if _, err := c.getJSON(ctx, "get_item", endpoint, nil, &raw); err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (c *GitHubClient) Teams(ctx context.Context) ([]string, error) {
	var teams []string
	for page := 1; ; page++ {
		var batch []struct {
			Slug         string      `json:"slug"`
			Organization userPayload `json:"organization"`
		}
		if _, err := c.getJSON(ctx, "teams", "/user/teams", listQuery(page), &batch); err != nil {
			return nil, err
		}
		for _, t := range batch {
			if t.Organization.Login != "" && t.Slug != "" {
				teams = append(teams, t.Organization.Login+"/"+t.Slug)
			}
		}
		if len(batch) < listPageSize {
			return teams, nil
		}
	}
}

func (c *GitHubClient) WatchingRepos(ctx context.Context) ([]string, error) {
	var repos []string
	for page := 1; ; page++ {
		var batch []struct {
			FullName string `json:"full_name"`
		}
		if _, err := c.getJSON(ctx, "watching", "/user/subscriptions", listQuery(page), &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			if r.FullName != "" {
				repos = append(repos, r.FullName)
			}
		}
		if len(batch) < listPageSize {
			return repos, nil
		}
	}
}

func listQuery(page int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(listPageSize))
	return q
}

func (c *GitHubClient) getJSON(ctx context.Context, op, endpoint string, query url.Values, out any) (RateLimit, error) {
	target := c.apiURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, op, http.MethodGet, target, nil, out)
}

func (c *GitHubClient) do(ctx context.Context, op, method, target string, body []byte, out any) (RateLimit, error) {
	ctx, span := c.tracer.Start(ctx, "remote."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var rl RateLimit
	_, err := c.breaker.Execute(func() (any, error) {
		var err error
		rl, err = c.roundTrip(ctx, method, target, body, out)
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("remote unavailable: %w", err)
	}

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.Int("remote.rate_limit.remaining", rl.Remaining),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("remote request failed", "op", op, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return rl, err
}

func (c *GitHubClient) roundTrip(ctx context.Context, method, target string, body []byte, out any) (RateLimit, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return RateLimit{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "issuestream")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return RateLimit{}, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return rl, &StatusError{
			StatusCode:  resp.StatusCode,
			Message:     errorMessage(msg),
			RateLimited: isRateLimited(resp, rl),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return rl, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rl, fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return rl, nil
}

func parseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	rl.Limit, _ = strconv.Atoi(h.Get("X-RateLimit-Limit"))
	rl.Remaining, _ = strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil && reset > 0 {
		rl.Reset = time.Unix(reset, 0).UTC()
	}
	return rl
}

func isRateLimited(resp *http.Response, rl RateLimit) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		if resp.Header.Get("Retry-After") != "" {
			return true
		}
		return resp.Header.Get("X-RateLimit-Remaining") != "" && rl.Remaining <= 0
	}
	return false
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
