package cache

import (
	"context"

	"github.com/odvcencio/issuestream/internal/database"
	"github.com/odvcencio/issuestream/internal/filter"
	"github.com/odvcencio/issuestream/internal/models"
)

// reconcileMemberships drops memberships of freshly merged items from other
// user streams whose queries they no longer satisfy. An item stays a member
// while it satisfies every locally evaluable clause of at least one of the
// stream's queries.
func reconcileMemberships(ctx context.Context, tx database.DB, streamID int64, items []models.Item) (int, error) {
	streams, err := tx.ListStreams(ctx)
	if err != nil {
		return 0, err
	}

	byID := make(map[int64]*models.Item, len(items))
	ids := make([]int64, 0, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
		ids = append(ids, items[i].ID)
	}

	pruned := 0
	for _, st := range streams {
		if st.ID == streamID || st.Kind != models.StreamKindUser || !st.Enabled || len(st.Queries) == 0 {
			continue
		}
		members, err := tx.StreamItemIDs(ctx, st.ID, ids)
		if err != nil {
			return pruned, err
		}
		if len(members) == 0 {
			continue
		}

		preds := StreamPredicates(st.Queries)
		var stale []int64
		for _, id := range members {
			if !MatchesAny(preds, byID[id]) {
				stale = append(stale, id)
			}
		}
		if len(stale) == 0 {
			continue
		}
		n, err := tx.RemoveStreamItems(ctx, st.ID, stale)
		if err != nil {
			return pruned, err
		}
		pruned += n
	}
	return pruned, nil
}

// StreamPredicates compiles each search query of a stream into the
// predicate its results must satisfy locally.
func StreamPredicates(queries []string) []filter.Predicate {
	preds := make([]filter.Predicate, 0, len(queries))
	for _, q := range queries {
		preds = append(preds, filter.SearchPredicate(q))
	}
	return preds
}

func MatchesAny(preds []filter.Predicate, it *models.Item) bool {
	if it == nil {
		return false
	}
	for _, p := range preds {
		if filter.Match(p, it) {
			return true
		}
	}
	return false
}
