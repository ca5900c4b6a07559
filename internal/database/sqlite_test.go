package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/issuestream/internal/models"
)

func openTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return db
}

func testItem(id int64, updated time.Time) *models.Item {
	return &models.Item{
		ID:        id,
		NodeID:    fmt.Sprintf("I_%d", id),
		Type:      models.ItemTypeIssue,
		Number:    int(id),
		Title:     "item",
		State:     "open",
		Author:    "alice",
		Labels:    []string{"bug", "ui"},
		Assignees: []string{"bob"},
		Repo:      "acme/widgets",
		HTMLURL:   "https://github.com/acme/widgets/issues/1",
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	db := openTestSQLite(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteStreamRoundTrip(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	stream := &models.Stream{
		Kind:          models.StreamKindUser,
		Name:          "mine",
		Queries:       []string{"is:open author:alice", "involves:alice"},
		DefaultFilter: "is:unarchived",
		UserFilters:   []string{"is:issue"},
		Enabled:       true,
	}
	if err := db.CreateStream(ctx, stream); err != nil {
		t.Fatal(err)
	}
	if stream.ID == 0 {
		t.Fatal("expected stream id to be assigned")
	}

	got, err := db.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(stream.Queries, got.Queries); diff != "" {
		t.Fatalf("queries mismatch (-want +got):\n%s", diff)
	}
	if got.SearchCursor != nil {
		t.Fatalf("SearchCursor = %v, want nil", got.SearchCursor)
	}

	cursor := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.UpdateStreamCursor(ctx, stream.ID, cursor); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SearchCursor == nil || !got.SearchCursor.Equal(cursor) {
		t.Fatalf("SearchCursor = %v, want %v", got.SearchCursor, cursor)
	}

	if err := db.DeleteStream(ctx, stream.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetStream(ctx, stream.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetStream after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDeleteStreamRemovesFilteredChildren(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	parent := &models.Stream{Kind: models.StreamKindUser, Name: "parent", Queries: []string{"is:open"}, Enabled: true}
	if err := db.CreateStream(ctx, parent); err != nil {
		t.Fatal(err)
	}
	child := &models.Stream{Kind: models.StreamKindFiltered, Name: "child", ParentID: &parent.ID, UserFilters: []string{"is:pr"}}
	if err := db.CreateStream(ctx, child); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteStream(ctx, parent.ID); err != nil {
		t.Fatal(err)
	}
	streams, err := db.ListStreams(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected no streams after delete, got %d", len(streams))
	}
}

func TestSQLiteUpsertItemIsIdempotent(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := testItem(42, updated)
	item.Raw = []byte(`{"id":42,"title":"item"}`)
	for i := 0; i < 2; i++ {
		if err := db.UpsertItem(ctx, item); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	n, err := db.CountItems(ctx, ItemQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("CountItems = %d, want 1", n)
	}

	got, err := db.GetItem(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(item, got); diff != "" {
		t.Fatalf("item mismatch (-want +got):\n%s", diff)
	}
	if string(got.Raw) != string(item.Raw) {
		t.Fatalf("Raw = %s, want %s", got.Raw, item.Raw)
	}
}

func TestSQLiteUpdateItemLocalStateLeavesRemoteFields(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.UpsertItem(ctx, testItem(7, updated)); err != nil {
		t.Fatal(err)
	}
	readAt := updated.Add(time.Minute)
	if err := db.UpdateItemLocalState(ctx, &models.Item{ID: 7, ReadAt: &readAt, Title: "ignored"}); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetItem(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "item" {
		t.Fatalf("Title = %q, want %q", got.Title, "item")
	}
	if !got.IsRead() {
		t.Fatal("expected item to be read")
	}
	if err := db.UpdateItemLocalState(ctx, &models.Item{ID: 999}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateItemLocalState(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteEvictItemsKeepsMostRecent(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stream := &models.Stream{Kind: models.StreamKindUser, Name: "all", Queries: []string{"is:open"}, Enabled: true}
	if err := db.CreateStream(ctx, stream); err != nil {
		t.Fatal(err)
	}

	err := db.InTx(ctx, func(tx DB) error {
		ids := make([]int64, 0, 1050)
		for i := 1; i <= 1050; i++ {
			if err := tx.UpsertItem(ctx, testItem(int64(i), base.Add(time.Duration(i)*time.Minute))); err != nil {
				return err
			}
			ids = append(ids, int64(i))
		}
		_, err := tx.AddStreamItems(ctx, stream.ID, ids)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	evicted, err := db.EvictItems(ctx, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 50 {
		t.Fatalf("evicted %d items, want 50", len(evicted))
	}
	if evicted[0] != 1 || evicted[49] != 50 {
		t.Fatalf("evicted range = [%d..%d], want [1..50]", evicted[0], evicted[49])
	}

	n, err := db.CountItems(ctx, ItemQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1000 {
		t.Fatalf("CountItems = %d, want 1000", n)
	}
	members, err := db.StreamItemIDs(ctx, stream.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1000 || members[0] != 51 {
		t.Fatalf("expected memberships of evicted items to be removed, got %d starting at %d", len(members), members[0])
	}
}

func TestSQLiteQueryItemsByStream(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Stream{Kind: models.StreamKindUser, Name: "a", Queries: []string{"q"}, Enabled: true}
	b := &models.Stream{Kind: models.StreamKindUser, Name: "b", Queries: []string{"q"}, Enabled: true}
	for _, s := range []*models.Stream{a, b} {
		if err := db.CreateStream(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(1); i <= 3; i++ {
		if err := db.UpsertItem(ctx, testItem(i, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := db.AddStreamItems(ctx, a.ID, []int64{1, 2, 3}); err != nil || n != 3 {
		t.Fatalf("AddStreamItems(a) = %d, %v", n, err)
	}
	if n, err := db.AddStreamItems(ctx, a.ID, []int64{1}); err != nil || n != 0 {
		t.Fatalf("AddStreamItems(a) again = %d, %v, want 0", n, err)
	}
	if _, err := db.AddStreamItems(ctx, b.ID, []int64{2}); err != nil {
		t.Fatal(err)
	}

	items, err := db.QueryItems(ctx, ItemQuery{
		StreamID: a.ID,
		Where:    "items.id <> ?",
		Args:     []any{int64(2)},
		Limit:    10,
	})
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if diff := cmp.Diff([]int64{3, 1}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	n, err := db.CountItems(ctx, ItemQuery{StreamID: b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("CountItems(b) = %d, want 1", n)
	}

	removed, err := db.RemoveStreamItems(ctx, a.ID, []int64{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("RemoveStreamItems = %d, want 2", removed)
	}
	members, err := db.StreamItemIDs(ctx, a.ID, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{2}, members); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteInTxRollsBackOnError(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.InTx(ctx, func(tx DB) error {
		if err := tx.UpsertItem(ctx, testItem(1, time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx = %v, want boom", err)
	}
	if _, err := db.GetItem(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetItem after rollback = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSubscriptions(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	if err := db.UpsertItem(ctx, testItem(5, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := db.Subscribe(ctx, &models.Subscription{ItemID: 5, Repo: "acme/widgets"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Subscribe(ctx, &models.Subscription{ItemID: 5, Repo: "acme/widgets"}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	subs, err := db.ListSubscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ItemID != 5 {
		t.Fatalf("ListSubscriptions = %+v", subs)
	}

	if err := db.DeleteItems(ctx, []int64{5}); err != nil {
		t.Fatal(err)
	}
	subs, err = db.ListSubscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected subscription to be removed with its item, got %+v", subs)
	}
}
