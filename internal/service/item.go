package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/issuestream/internal/cache"
	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/filter"
	"github.com/odvcencio/issuestream/internal/models"
	"github.com/odvcencio/issuestream/internal/remote"
)

// ErrInvalidFilter reports a filter expression that does not compile.
var ErrInvalidFilter = errors.New("invalid filter")

// ItemPage is one page of a stream listing.
type ItemPage struct {
	Items   []models.Item `json:"items"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

type ItemServiceOptions struct {
	Compiler           filter.Compiler
	Client             remote.Client
	Settings           cache.Settings
	RefreshConcurrency int
	Now                func() time.Time
}

// ItemService answers stream listings and routes every item write through
// the cache engine.
type ItemService struct {
	db          database.DB
	engine      *cache.Engine
	compiler    filter.Compiler
	client      remote.Client
	concurrency int
	now         func() time.Time

	mu       sync.RWMutex
	settings cache.Settings
}

func NewItemService(db database.DB, engine *cache.Engine, opts ItemServiceOptions) *ItemService {
	compiler := opts.Compiler
	if compiler == nil {
		compiler = filter.NewCompiler()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ItemService{
		db:          db,
		engine:      engine,
		compiler:    compiler,
		client:      opts.Client,
		concurrency: opts.RefreshConcurrency,
		now:         now,
		settings:    opts.Settings,
	}
}

// SetSettings swaps the merge settings used by refreshes.
func (s *ItemService) SetSettings(settings cache.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

func (s *ItemService) currentSettings() cache.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// ListStream returns the stream's members matching its compiled filters and
// the optional ad hoc expression. Filtered streams read their parent's
// members.
func (s *ItemService) ListStream(ctx context.Context, streamID int64, expr string, page, perPage int) (*ItemPage, error) {
	st, err := s.db.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	compiled, err := filter.Combine(s.compiler, st.DefaultFilter, st.UserFilters)
	if err != nil {
		return nil, fmt.Errorf("%w: stream %d: %v", ErrInvalidFilter, st.ID, err)
	}
	if expr != "" {
		extra, err := s.compiler.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		compiled.Predicate = filter.And{Terms: []filter.Predicate{compiled.Predicate, extra.Predicate}}
		if extra.Sort != nil {
			compiled.Sort = extra.Sort
		}
	}

	members := st.ID
	if st.Kind == models.StreamKindFiltered && st.ParentID != nil {
		members = *st.ParentID
	}
	where, args := filter.SQL(compiled.Predicate)
	limit, offset := normalizePage(page, perPage, 50, 200)
	q := database.ItemQuery{
		StreamID: members,
		Where:    where,
		Args:     args,
		OrderBy:  compiled.OrderBy(),
		Limit:    limit,
		Offset:   offset,
	}
	total, err := s.db.CountItems(ctx, q)
	if err != nil {
		return nil, err
	}
	items, err := s.db.QueryItems(ctx, q)
	if err != nil {
		return nil, err
	}
	return &ItemPage{Items: items, Total: total, Page: offset/limit + 1, PerPage: limit}, nil
}

func (s *ItemService) Get(ctx context.Context, id int64) (*models.Item, error) {
	return s.db.GetItem(ctx, id)
}

func (s *ItemService) MarkRead(ctx context.Context, id int64) (*models.Item, error) {
	return s.engine.MarkRead(ctx, id)
}

func (s *ItemService) MarkUnread(ctx context.Context, id int64) (*models.Item, error) {
	return s.engine.MarkUnread(ctx, id)
}

func (s *ItemService) SetArchived(ctx context.Context, id int64, archived bool) (*models.Item, error) {
	return s.engine.SetArchived(ctx, id, archived)
}

func (s *ItemService) SetBookmarked(ctx context.Context, id int64, bookmarked bool) (*models.Item, error) {
	return s.engine.SetBookmarked(ctx, id, bookmarked)
}

// Subscribe pins a cached item into the subscription stream.
func (s *ItemService) Subscribe(ctx context.Context, id int64) (*models.Subscription, error) {
	it, err := s.db.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	sub := &models.Subscription{ItemID: it.ID, Repo: it.Repo, CreatedAt: s.now().UTC()}
	if err := s.db.Subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *ItemService) Unsubscribe(ctx context.Context, id int64) error {
	return s.db.Unsubscribe(ctx, id)
}

// Refresh re-fetches the given items from the remote.
func (s *ItemService) Refresh(ctx context.Context, ids []int64) (cache.RefreshResult, error) {
	if s.client == nil {
		return cache.RefreshResult{}, fmt.Errorf("remote client is not configured")
	}
	return s.engine.RefreshItems(ctx, s.client, s.currentSettings(), ids, s.concurrency)
}

func normalizePage(page, perPage, defaultPerPage, maxPerPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return perPage, (page - 1) * perPage
}
