package cache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/issuestream/internal/models"
	"github.com/odvcencio/issuestream/internal/remote"
)

const defaultRefreshConcurrency = 4

// RefreshResult reports a RefreshItems run.
type RefreshResult struct {
	Merged  MergeResult
	Deleted []int64
}

// RefreshItems re-fetches cached items one by one and merges the fresh
// copies. Items the remote reports as gone are deleted, but only when every
// failed fetch in the batch failed that way; any other failure leaves the
// cache untouched and is returned.
func (e *Engine) RefreshItems(ctx context.Context, client remote.Client, s Settings, ids []int64, concurrency int) (RefreshResult, error) {
	var res RefreshResult
	if len(ids) == 0 {
		return res, nil
	}
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}

	cached, err := e.db.GetItems(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("load items: %w", err)
	}
	targets := make([]*models.Item, 0, len(cached))
	for _, id := range ids {
		if it, ok := cached[id]; ok {
			targets = append(targets, it)
		}
	}

	fresh := make([]*models.Item, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, it := range targets {
		g.Go(func() error {
			fresh[i], errs[i] = client.GetItem(ctx, it.Repo, it.Number)
			return nil
		})
	}
	_ = g.Wait()

	var (
		items []models.Item
		gone  []int64
		other []error
	)
	for i, it := range targets {
		switch {
		case errs[i] == nil && fresh[i] != nil:
			items = append(items, *fresh[i])
		case remote.IsGone(errs[i]):
			gone = append(gone, it.ID)
		case errs[i] != nil:
			other = append(other, fmt.Errorf("item %d: %w", it.ID, errs[i]))
		}
	}

	if len(items) > 0 {
		merged, err := e.Merge(ctx, s, 0, items)
		if err != nil {
			return res, err
		}
		res.Merged = merged
	}
	if len(other) > 0 {
		if len(gone) > 0 {
			e.logger.Warn("not deleting items reported gone: batch had other errors", "gone", len(gone), "errors", len(other))
		}
		return res, errors.Join(other...)
	}
	if len(gone) > 0 {
		if err := e.DeleteItems(ctx, gone); err != nil {
			return res, fmt.Errorf("delete gone items: %w", err)
		}
		e.logger.Info("deleted items gone upstream", "count", len(gone))
		res.Deleted = gone
	}
	return res, nil
}
