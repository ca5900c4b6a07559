// Package poller runs the incremental synchronization of one stream: query
// rotation, pagination and the watermark cursor.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/issuestream/internal/cache"
	"github.com/odvcencio/issuestream/internal/models"
	"github.com/odvcencio/issuestream/internal/remote"
)

const tracerName = "github.com/odvcencio/issuestream/internal/poller"

// Defaults applied when Settings leaves a page bound unset.
const (
	DefaultPerPage    = 100
	DefaultMaxResults = 1000
)

// Settings is the immutable configuration of one exec.
type Settings struct {
	PerPage            int
	FirstCycleMaxPages int
	MaxResults         int
	MaxQueryLength     int
	PrimaryHost        bool
	CorrectionDelay    time.Duration
	TimelineEnrichment bool
	Merge              cache.Settings
}

// Merger is the cache side of a poller.
type Merger interface {
	Merge(ctx context.Context, s cache.Settings, streamID int64, items []models.Item) (cache.MergeResult, error)
}

// CursorStore persists committed watermarks.
type CursorStore interface {
	UpdateStreamCursor(ctx context.Context, id int64, cursor time.Time) error
}

// EventSink receives the ids of items that changed in a stream.
type EventSink interface {
	StreamUpdated(ctx context.Context, streamID int64, itemIDs []int64)
}

type Config struct {
	Stream   models.Stream
	Builder  QueryBuilder
	Client   remote.Client
	Timeline remote.TimelineSource
	Merger   Merger
	Store    CursorStore
	Events   EventSink
	Logger   *slog.Logger
	Now      func() time.Time
}

// ExecResult reports one exec. Err is set for failures of any kind;
// Errored tells whether the poller froze because of it.
type ExecResult struct {
	StreamID       int64
	RunID          string
	Query          string
	Page           int
	Fetched        int
	Merge          cache.MergeResult
	CycleCompleted bool
	RateLimited    bool
	Skipped        bool
	Errored        bool
	Err            error
}

type Poller struct {
	streamID int64
	name     string
	builder  QueryBuilder
	client   remote.Client
	timeline remote.TimelineSource
	merger   Merger
	store    CursorStore
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	mu      sync.Mutex
	cursor  Cursor
	queries []string
	built   bool
	errored bool
	runID   string
}

func New(cfg Config) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Poller{
		streamID: cfg.Stream.ID,
		name:     cfg.Stream.Name,
		builder:  cfg.Builder,
		client:   cfg.Client,
		timeline: cfg.Timeline,
		merger:   cfg.Merger,
		store:    cfg.Store,
		events:   cfg.Events,
		logger:   logger.With("stream_id", cfg.Stream.ID),
		now:      now,
		tracer:   otel.Tracer(tracerName),
		cursor:   NewCursor(cfg.Stream.SearchCursor),
	}
}

func (p *Poller) StreamID() int64 { return p.streamID }

// Priority is 1 until the first cycle commits a watermark, 0 afterwards.
// Frozen pollers and pollers without queries rank lowest.
func (p *Poller) Priority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errored || (p.built && len(p.queries) == 0) {
		return 0
	}
	if p.cursor.FirstCycle() {
		return 1
	}
	return 0
}

func (p *Poller) Errored() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errored
}

func (p *Poller) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Queries returns the queries of the current rotation, building them when
// the poller has not run yet.
func (p *Poller) Queries(ctx context.Context, s Settings) ([]string, error) {
	p.mu.Lock()
	if p.built {
		out := append([]string(nil), p.queries...)
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()
	return p.builder.BuildQueries(ctx, s)
}

// Exec runs one page of the stream's rotation. Execs of one poller must not
// overlap; the scheduler runs them one at a time.
func (p *Poller) Exec(ctx context.Context, s Settings) ExecResult {
	res := ExecResult{StreamID: p.streamID}

	p.mu.Lock()
	if p.errored {
		p.mu.Unlock()
		res.Skipped = true
		return res
	}
	cur := p.cursor
	queries := p.queries
	p.mu.Unlock()

	if cur.AtCycleStart() || !p.builtQueries() {
		built, err := p.builder.BuildQueries(ctx, s)
		if err != nil {
			return p.fail(res, fmt.Errorf("build queries: %w", err))
		}
		queries = built
		p.mu.Lock()
		p.queries = built
		p.built = true
		p.mu.Unlock()
	}

	if len(queries) == 0 {
		res.CycleCompleted = true
		return res
	}
	if cur.QueryIndex >= len(queries) {
		cur = cur.Reset()
	}
	if cur.AtCycleStart() && cur.Pending == nil {
		p.mu.Lock()
		p.runID = uuid.NewString()
		p.mu.Unlock()
	}
	cur = cur.Begin(p.now())
	res.RunID = p.currentRunID()
	res.Page = cur.Page
	res.Query = withWatermark(queries[cur.QueryIndex], cur.Committed)

	ctx, span := p.tracer.Start(ctx, "poller.exec", trace.WithAttributes(
		attribute.Int64("stream.id", p.streamID),
		attribute.String("run.id", res.RunID),
		attribute.Int("query.index", cur.QueryIndex),
		attribute.Int("page", cur.Page),
	))
	defer span.End()

	perPage := s.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	maxResults := s.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if cur.FirstCycle() {
		pages := s.FirstCycleMaxPages
		if pages <= 0 {
			pages = 1
		}
		maxResults = perPage * pages
	}

	found, err := p.client.Search(ctx, remote.SearchRequest{
		Query:   res.Query,
		Page:    cur.Page,
		PerPage: perPage,
		Sort:    "updated",
		Order:   "desc",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return p.fail(res, err)
	}
	res.RateLimited = found.RateLimit.Exhausted()

	items := append([]models.Item(nil), found.Items...)
	res.Fetched = len(items)
	items = p.correctStale(ctx, s, items, cur.Committed)
	items = p.enrichTimeline(ctx, s, items)
	if f, ok := p.builder.(ItemFilter); ok {
		items, err = f.FilterItems(ctx, items)
		if err != nil {
			res.Err = fmt.Errorf("filter items: %w", err)
			return res
		}
	}

	merged, err := p.merger.Merge(ctx, s.Merge, p.streamID, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("merge failed; cycle not committed", "run_id", res.RunID, "error", err)
		res.Err = fmt.Errorf("merge: %w", err)
		return res
	}
	res.Merge = merged

	next, completed := cur.Advance(PageOutcome{
		Queries:    len(queries),
		TotalCount: found.TotalCount,
		Fetched:    res.Fetched,
		PerPage:    perPage,
		MaxResults: maxResults,
	})
	if completed && next.Committed != nil {
		if err := p.store.UpdateStreamCursor(ctx, p.streamID, *next.Committed); err != nil {
			p.logger.Error("persist cursor failed", "run_id", res.RunID, "error", err)
			res.Err = fmt.Errorf("persist cursor: %w", err)
			p.setCursor(cur)
			return res
		}
	}
	p.setCursor(next)
	res.CycleCompleted = completed

	if len(merged.UpdatedIDs) > 0 && p.events != nil {
		p.events.StreamUpdated(ctx, p.streamID, merged.UpdatedIDs)
	}
	if completed {
		p.logger.Info("poller cycle complete", "run_id", res.RunID, "cursor", next.Committed)
	}
	span.SetAttributes(attribute.Int("items.fetched", res.Fetched), attribute.Int("items.updated", len(merged.UpdatedIDs)))
	span.SetStatus(codes.Ok, "")
	return res
}

// fail classifies an exec error. Rate limits and cancellation leave the
// poller runnable; anything else freezes it.
func (p *Poller) fail(res ExecResult, err error) ExecResult {
	res.Err = err
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, remote.ErrRateLimited):
		res.RateLimited = true
		p.logger.Warn("remote rate limit exhausted", "error", err)
	default:
		p.mu.Lock()
		p.errored = true
		p.mu.Unlock()
		res.Errored = true
		p.logger.Error("poller stopped after remote error", "stream", p.name, "error", err)
	}
	return res
}

func (p *Poller) builtQueries() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built
}

func (p *Poller) currentRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

func (p *Poller) setCursor(c Cursor) {
	p.mu.Lock()
	p.cursor = c
	p.mu.Unlock()
}

// correctStale re-fetches pull requests whose updatedAt predates the
// watermark they were matched under. Non-primary hosts report stale
// search timestamps for them.
func (p *Poller) correctStale(ctx context.Context, s Settings, items []models.Item, since *time.Time) []models.Item {
	if s.PrimaryHost || since == nil {
		return items
	}
	fetched := 0
	for i := range items {
		it := &items[i]
		if it.Type != models.ItemTypePullRequest || !it.UpdatedAt.Before(*since) {
			continue
		}
		if fetched > 0 && !sleepCtx(ctx, s.CorrectionDelay) {
			return items
		}
		fetched++
		fresh, err := p.client.GetItem(ctx, it.Repo, it.Number)
		if err != nil {
			p.logger.Warn("stale item correction failed", "item_id", it.ID, "error", err)
			continue
		}
		*it = *fresh
	}
	return items
}

func (p *Poller) enrichTimeline(ctx context.Context, s Settings, items []models.Item) []models.Item {
	if !s.TimelineEnrichment || p.timeline == nil || len(items) == 0 {
		return items
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.NodeID != "" {
			ids = append(ids, it.NodeID)
		}
	}
	events, err := p.timeline.LastTimeline(ctx, ids)
	if err != nil {
		p.logger.Warn("timeline enrichment failed", "error", err)
		return items
	}
	for i := range items {
		if ev, ok := events[items[i].NodeID]; ok {
			at := ev.At
			items[i].LastTimelineUser = ev.User
			items[i].LastTimelineAt = &at
		}
	}
	return items
}

func withWatermark(query string, cursor *time.Time) string {
	if cursor == nil {
		return query
	}
	return query + " updated:>=" + cursor.UTC().Format(time.RFC3339)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
