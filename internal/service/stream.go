package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/filter"
	"github.com/odvcencio/issuestream/internal/models"
)

// ErrInvalidStream reports a stream definition that fails validation.
var ErrInvalidStream = errors.New("invalid stream")

// StreamScheduler is the part of the scheduler stream edits notify.
type StreamScheduler interface {
	RefreshStream(ctx context.Context, id int64) error
	DeleteStream(id int64)
	QueriesForStream(ctx context.Context, id int64) ([]string, error)
}

var systemStreams = []struct {
	queryType string
	name      string
}{
	{models.SystemQueryMe, "Me"},
	{models.SystemQueryTeam, "Team"},
	{models.SystemQueryWatching, "Watching"},
	{models.SystemQuerySubscription, "Subscription"},
}

type StreamService struct {
	db       database.DB
	compiler filter.Compiler
	sched    StreamScheduler
}

func NewStreamService(db database.DB, compiler filter.Compiler, sched StreamScheduler) *StreamService {
	if compiler == nil {
		compiler = filter.NewCompiler()
	}
	return &StreamService{db: db, compiler: compiler, sched: sched}
}

func (s *StreamService) List(ctx context.Context) ([]models.Stream, error) {
	return s.db.ListStreams(ctx)
}

func (s *StreamService) Get(ctx context.Context, id int64) (*models.Stream, error) {
	return s.db.GetStream(ctx, id)
}

// Create stores a user or filtered stream and queues its poller.
func (s *StreamService) Create(ctx context.Context, st *models.Stream) error {
	if st.Kind == "" {
		st.Kind = models.StreamKindUser
	}
	if st.Kind == models.StreamKindSystem {
		return fmt.Errorf("%w: system streams are built in", ErrInvalidStream)
	}
	st.SearchCursor = nil
	if err := s.validate(ctx, st); err != nil {
		return err
	}
	if err := s.db.CreateStream(ctx, st); err != nil {
		return err
	}
	return s.refresh(ctx, st)
}

// Update replaces a stream definition. Changing the queries drops the
// watermark so the new queries start with a first cycle. System streams
// keep their kind and computed queries.
func (s *StreamService) Update(ctx context.Context, st *models.Stream) error {
	existing, err := s.db.GetStream(ctx, st.ID)
	if err != nil {
		return err
	}
	st.Kind = existing.Kind
	st.CreatedAt = existing.CreatedAt
	if existing.Kind == models.StreamKindSystem {
		st.QueryType = existing.QueryType
		st.Queries = existing.Queries
		st.ParentID = nil
	}
	if err := s.validate(ctx, st); err != nil {
		return err
	}
	st.SearchCursor = existing.SearchCursor
	if !slices.Equal(st.Queries, existing.Queries) {
		st.SearchCursor = nil
	}
	if err := s.db.UpdateStream(ctx, st); err != nil {
		return err
	}
	return s.refresh(ctx, st)
}

// Delete removes a stream, its filtered children and its memberships. A
// poll of the stream already in flight completes but is not re-queued.
func (s *StreamService) Delete(ctx context.Context, id int64) error {
	existing, err := s.db.GetStream(ctx, id)
	if err != nil {
		return err
	}
	if existing.Kind == models.StreamKindSystem {
		return fmt.Errorf("%w: system streams cannot be deleted", ErrInvalidStream)
	}
	if err := s.db.DeleteStream(ctx, id); err != nil {
		return err
	}
	if s.sched != nil {
		s.sched.DeleteStream(id)
	}
	return nil
}

// Refresh recreates the stream's poller at elevated priority.
func (s *StreamService) Refresh(ctx context.Context, id int64) error {
	st, err := s.db.GetStream(ctx, id)
	if err != nil {
		return err
	}
	return s.refresh(ctx, st)
}

func (s *StreamService) Queries(ctx context.Context, id int64) ([]string, error) {
	if s.sched == nil {
		st, err := s.db.GetStream(ctx, id)
		if err != nil {
			return nil, err
		}
		return st.Queries, nil
	}
	return s.sched.QueriesForStream(ctx, id)
}

// EnsureSystemStreams creates the built-in streams that are missing.
func (s *StreamService) EnsureSystemStreams(ctx context.Context) ([]models.Stream, error) {
	existing, err := s.db.ListStreams(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool)
	for _, st := range existing {
		if st.Kind == models.StreamKindSystem {
			have[st.QueryType] = true
		}
	}
	var created []models.Stream
	for i, sys := range systemStreams {
		if have[sys.queryType] {
			continue
		}
		st := models.Stream{
			Kind:          models.StreamKindSystem,
			Name:          sys.name,
			QueryType:     sys.queryType,
			DefaultFilter: "is:unarchived",
			Position:      i,
			Enabled:       true,
		}
		if err := s.db.CreateStream(ctx, &st); err != nil {
			return nil, fmt.Errorf("create %s stream: %w", sys.queryType, err)
		}
		created = append(created, st)
	}
	return created, nil
}

func (s *StreamService) validate(ctx context.Context, st *models.Stream) error {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStream)
	}
	if !st.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStream, st.Kind)
	}
	st.Queries = trimQueries(st.Queries)

	switch st.Kind {
	case models.StreamKindFiltered:
		if st.ParentID == nil {
			return fmt.Errorf("%w: filtered streams need a parent", ErrInvalidStream)
		}
		if len(st.Queries) > 0 {
			return fmt.Errorf("%w: filtered streams have no queries", ErrInvalidStream)
		}
		parent, err := s.db.GetStream(ctx, *st.ParentID)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: parent stream %d not found", ErrInvalidStream, *st.ParentID)
		}
		if err != nil {
			return err
		}
		if parent.Kind == models.StreamKindFiltered {
			return fmt.Errorf("%w: parent must be a polled stream", ErrInvalidStream)
		}
	case models.StreamKindSystem:
	default:
		st.ParentID = nil
	}

	if _, err := filter.Combine(s.compiler, st.DefaultFilter, st.UserFilters); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStream, err)
	}
	return nil
}

func (s *StreamService) refresh(ctx context.Context, st *models.Stream) error {
	if s.sched == nil || !st.Kind.Polled() {
		return nil
	}
	return s.sched.RefreshStream(ctx, st.ID)
}

func trimQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
