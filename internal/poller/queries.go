package poller

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/issuestream/internal/models"
	"github.com/odvcencio/issuestream/internal/remote"
)

// QueryBuilder produces the search queries of one rotation.
type QueryBuilder interface {
	BuildQueries(ctx context.Context, s Settings) ([]string, error)
}

// ItemFilter narrows a fetched page before it is merged.
type ItemFilter interface {
	FilterItems(ctx context.Context, items []models.Item) ([]models.Item, error)
}

// SubscriptionLister lists locally subscribed items.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
}

// Sources are the collaborators system streams build their queries from.
type Sources struct {
	Membership    remote.MembershipSource
	Subscriptions SubscriptionLister
}

// BuilderFor picks the query builder for a stream.
func BuilderFor(st models.Stream, src Sources) (QueryBuilder, error) {
	if st.Kind != models.StreamKindSystem {
		return StaticQueries(st.Queries), nil
	}
	switch st.QueryType {
	case models.SystemQueryMe:
		return MeQueries{}, nil
	case models.SystemQueryTeam:
		if src.Membership == nil {
			return nil, fmt.Errorf("team stream needs a membership source")
		}
		return TeamQueries{Source: src.Membership}, nil
	case models.SystemQueryWatching:
		if src.Membership == nil {
			return nil, fmt.Errorf("watching stream needs a membership source")
		}
		return WatchingQueries{Source: src.Membership}, nil
	case models.SystemQuerySubscription:
		if src.Subscriptions == nil {
			return nil, fmt.Errorf("subscription stream needs a subscription store")
		}
		return &SubscriptionQueries{Store: src.Subscriptions}, nil
	}
	return nil, fmt.Errorf("unknown system query type %q", st.QueryType)
}

// StaticQueries are user-authored queries.
type StaticQueries []string

func (q StaticQueries) BuildQueries(context.Context, Settings) ([]string, error) {
	out := make([]string, 0, len(q))
	for _, s := range q {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// MeQueries selects everything involving the account.
type MeQueries struct{}

func (MeQueries) BuildQueries(_ context.Context, s Settings) ([]string, error) {
	if s.Merge.Login == "" {
		return nil, nil
	}
	return []string{"involves:" + s.Merge.Login}, nil
}

type TeamQueries struct {
	Source remote.MembershipSource
}

func (q TeamQueries) BuildQueries(ctx context.Context, s Settings) ([]string, error) {
	teams, err := q.Source.Teams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return Partition(qualify("team:", teams), s.MaxQueryLength), nil
}

type WatchingQueries struct {
	Source remote.MembershipSource
}

func (q WatchingQueries) BuildQueries(ctx context.Context, s Settings) ([]string, error) {
	repos, err := q.Source.WatchingRepos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watched repos: %w", err)
	}
	return Partition(qualify("repo:", repos), s.MaxQueryLength), nil
}

// SubscriptionQueries searches the repositories of subscribed items and
// keeps only the subscribed items themselves.
type SubscriptionQueries struct {
	Store SubscriptionLister
}

func (q *SubscriptionQueries) BuildQueries(ctx context.Context, s Settings) ([]string, error) {
	subs, err := q.Store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	repos := make([]string, 0, len(subs))
	for _, sub := range subs {
		repos = append(repos, sub.Repo)
	}
	return Partition(qualify("repo:", repos), s.MaxQueryLength), nil
}

func (q *SubscriptionQueries) FilterItems(ctx context.Context, items []models.Item) ([]models.Item, error) {
	subs, err := q.Store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	ids := make(map[int64]struct{}, len(subs))
	for _, sub := range subs {
		ids[sub.ItemID] = struct{}{}
	}
	out := items[:0:0]
	for _, it := range items {
		if _, ok := ids[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// qualify prefixes each distinct non-empty value, sorted for stable queries.
func qualify(prefix string, values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, prefix+v)
	}
	sort.Strings(out)
	return out
}

// Partition packs terms into space-joined queries no longer than maxLen.
// A term longer than maxLen gets a query of its own.
func Partition(terms []string, maxLen int) []string {
	var (
		out     []string
		current strings.Builder
	)
	for _, term := range terms {
		if current.Len() > 0 && maxLen > 0 && current.Len()+1+len(term) > maxLen {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(term)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
