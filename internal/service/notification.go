package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/odvcencio/issuestream/internal/cache"
	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/filter"
	"github.com/odvcencio/issuestream/internal/models"
)

// Notification carries the items of one stream worth telling the user about.
type Notification struct {
	StreamID   int64
	StreamName string
	Items      []models.Item
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes one log line per notified item.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, note Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, it := range note.Items {
		logger.InfoContext(ctx, "stream item updated",
			"stream_id", note.StreamID,
			"stream", note.StreamName,
			"item_id", it.ID,
			"repo", it.Repo,
			"number", it.Number,
			"title", it.Title,
			"url", it.HTMLURL,
		)
	}
	return nil
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotificationService consumes stream update events from pollers.
type NotificationService struct {
	db       database.DB
	compiler filter.Compiler
	notifier Notifier
	logger   *slog.Logger

	mu       sync.RWMutex
	settings cache.Settings
}

func NewNotificationService(db database.DB, notifier Notifier, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &NotificationService{db: db, compiler: filter.NewCompiler(), notifier: notifier, logger: logger}
}

// SetSettings swaps the account settings used for self-update detection.
func (s *NotificationService) SetSettings(settings cache.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// StreamUpdated notifies about changed items of the stream and of its
// filtered children that opted in. Items that are read, archived, updated
// by the account itself or outside the stream's filter are skipped.
func (s *NotificationService) StreamUpdated(ctx context.Context, streamID int64, itemIDs []int64) {
	if len(itemIDs) == 0 {
		return
	}
	streams, err := s.db.ListStreams(ctx)
	if err != nil {
		s.logger.Warn("load streams for notification", "stream_id", streamID, "error", err)
		return
	}
	var targets []models.Stream
	for _, st := range streams {
		if !st.NotifyOnUpdate || !st.Enabled {
			continue
		}
		if st.ID == streamID || (st.Kind == models.StreamKindFiltered && st.ParentID != nil && *st.ParentID == streamID) {
			targets = append(targets, st)
		}
	}
	if len(targets) == 0 {
		return
	}

	found, err := s.db.GetItems(ctx, itemIDs)
	if err != nil {
		s.logger.Warn("load items for notification", "stream_id", streamID, "error", err)
		return
	}
	s.mu.RLock()
	settings := s.settings
	s.mu.RUnlock()

	for _, st := range targets {
		compiled, err := filter.Combine(s.compiler, st.DefaultFilter, st.UserFilters)
		if err != nil {
			s.logger.Warn("compile stream filter", "stream_id", st.ID, "error", err)
			continue
		}
		var items []models.Item
		for _, id := range itemIDs {
			it, ok := found[id]
			if !ok || !notifiable(it, compiled.Predicate, settings) {
				continue
			}
			items = append(items, *it)
		}
		if len(items) == 0 {
			continue
		}
		if err := s.notifier.Notify(ctx, Notification{StreamID: st.ID, StreamName: st.Name, Items: items}); err != nil {
			s.logger.Warn("notify", "stream_id", st.ID, "error", err)
		}
	}
}

func notifiable(it *models.Item, p filter.Predicate, s cache.Settings) bool {
	if it.IsRead() || it.IsArchived() || cache.SelfUpdated(it, s) {
		return false
	}
	return filter.Match(p, it)
}
