// Package cache merges remote search results into the local store and owns
// every write to item rows. Merges and foreground toggles serialize on one
// lock so a user's read/unread cannot interleave with a merge of the same
// item.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/models"
)

// Settings is the immutable merge configuration for one cycle.
type Settings struct {
	Login               string
	MaxItems            int
	OldItemPolicy       bool
	OldItemThreshold    time.Duration
	SelfUpdateTolerance time.Duration
}

// MergeResult reports what a merge changed. UpdatedIDs lists items that are
// new or whose remote updatedAt moved forward.
type MergeResult struct {
	UpdatedIDs []int64
	Inserted   int
	Updated    int
	Added      int
	Pruned     int
	Evicted    []int64
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

type Engine struct {
	mu     sync.Mutex
	db     database.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(db database.DB, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{db: db, logger: logger, now: now}
}

// Merge upserts items fetched for streamID, links them to the stream,
// reconciles other streams' memberships and evicts beyond MaxItems. A zero
// streamID merges without touching memberships of the fetched items.
func (e *Engine) Merge(ctx context.Context, s Settings, streamID int64, items []models.Item) (MergeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res MergeResult
	if len(items) == 0 {
		return res, nil
	}
	now := e.now().UTC()
	batch := dedupe(items)
	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}

	err := e.db.InTx(ctx, func(tx database.DB) error {
		existing, err := tx.GetItems(ctx, ids)
		if err != nil {
			return fmt.Errorf("load existing items: %w", err)
		}

		for i := range batch {
			row := &batch[i]
			prev := existing[row.ID]
			mergeLocalState(prev, row, s, now)
			if err := tx.UpsertItem(ctx, row); err != nil {
				return fmt.Errorf("upsert item %d: %w", row.ID, err)
			}
			switch {
			case prev == nil:
				res.Inserted++
				res.UpdatedIDs = append(res.UpdatedIDs, row.ID)
			case row.UpdatedAt.After(prev.UpdatedAt):
				res.Updated++
				res.UpdatedIDs = append(res.UpdatedIDs, row.ID)
			}
		}

		if streamID != 0 {
			added, err := tx.AddStreamItems(ctx, streamID, ids)
			if err != nil {
				return fmt.Errorf("link stream %d: %w", streamID, err)
			}
			res.Added = added
		}

		pruned, err := reconcileMemberships(ctx, tx, streamID, batch)
		if err != nil {
			return fmt.Errorf("reconcile memberships: %w", err)
		}
		res.Pruned = pruned

		if s.MaxItems > 0 {
			evicted, err := tx.EvictItems(ctx, s.MaxItems)
			if err != nil {
				return fmt.Errorf("evict items: %w", err)
			}
			res.Evicted = evicted
		}
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}

	e.logger.Debug("merged items",
		"stream_id", streamID,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"pruned", res.Pruned,
		"evicted", len(res.Evicted),
	)
	return res, nil
}

// mergeLocalState carries locally owned columns from prev onto the incoming
// row and resolves its readAt.
func mergeLocalState(prev, row *models.Item, s Settings, now time.Time) {
	if prev != nil {
		row.PrevReadAt = cloneTime(prev.PrevReadAt)
		row.UnreadAt = cloneTime(prev.UnreadAt)
		row.ArchivedAt = cloneTime(prev.ArchivedAt)
		row.MarkedAt = cloneTime(prev.MarkedAt)
		if row.LastTimelineAt == nil {
			row.LastTimelineUser = prev.LastTimelineUser
			row.LastTimelineAt = cloneTime(prev.LastTimelineAt)
		}
	} else {
		row.ReadAt, row.PrevReadAt, row.UnreadAt, row.ArchivedAt, row.MarkedAt = nil, nil, nil, nil, nil
	}

	readAt := ResolveReadAt(prev, row, s, now)
	if prev != nil && !sameTime(prev.ReadAt, readAt) {
		row.PrevReadAt = cloneTime(prev.ReadAt)
	}
	row.ReadAt = readAt
}

// dedupe keeps the last occurrence of each id, in first-seen order.
func dedupe(items []models.Item) []models.Item {
	index := make(map[int64]int, len(items))
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ID]; ok {
			out[i] = it
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}

// MarkRead records an explicit read of the item.
func (e *Engine) MarkRead(ctx context.Context, id int64) (*models.Item, error) {
	return e.mutate(ctx, id, func(it *models.Item, now time.Time) { it.MarkRead(now) })
}

// MarkUnread records an explicit unread that survives later merges.
func (e *Engine) MarkUnread(ctx context.Context, id int64) (*models.Item, error) {
	return e.mutate(ctx, id, func(it *models.Item, now time.Time) { it.MarkUnread(now) })
}

func (e *Engine) SetArchived(ctx context.Context, id int64, archived bool) (*models.Item, error) {
	return e.mutate(ctx, id, func(it *models.Item, now time.Time) {
		it.ArchivedAt = flagTime(it.ArchivedAt, archived, now)
	})
}

func (e *Engine) SetBookmarked(ctx context.Context, id int64, bookmarked bool) (*models.Item, error) {
	return e.mutate(ctx, id, func(it *models.Item, now time.Time) {
		it.MarkedAt = flagTime(it.MarkedAt, bookmarked, now)
	})
}

func (e *Engine) mutate(ctx context.Context, id int64, fn func(*models.Item, time.Time)) (*models.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, err := e.db.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(it, e.now())
	if err := e.db.UpdateItemLocalState(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}
	return it, nil
}

func flagTime(current *time.Time, on bool, now time.Time) *time.Time {
	if !on {
		return nil
	}
	if current != nil {
		return current
	}
	t := now.UTC()
	return &t
}

// DeleteItems removes items and their memberships.
func (e *Engine) DeleteItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.InTx(ctx, func(tx database.DB) error {
		return tx.DeleteItems(ctx, ids)
	})
}
