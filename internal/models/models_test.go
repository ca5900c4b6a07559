package models

import (
	"testing"
	"time"
)

func TestItemIsRead(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	before := updated.Add(-time.Minute)
	after := updated.Add(time.Minute)

	tests := []struct {
		name   string
		readAt *time.Time
		want   bool
	}{
		{name: "never read", readAt: nil, want: false},
		{name: "read before update", readAt: &before, want: false},
		{name: "read at update", readAt: &updated, want: true},
		{name: "read after update", readAt: &after, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := Item{UpdatedAt: updated, ReadAt: tt.readAt}
			if got := item.IsRead(); got != tt.want {
				t.Fatalf("IsRead() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkReadThenUnreadRestoresPreviousReadAt(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := updated.Add(-time.Hour)
	item := Item{UpdatedAt: updated, ReadAt: &earlier}

	item.MarkRead(updated.Add(time.Minute))
	if !item.IsRead() {
		t.Fatal("expected item to be read after MarkRead")
	}
	if item.PrevReadAt == nil || !item.PrevReadAt.Equal(earlier) {
		t.Fatalf("PrevReadAt = %v, want %v", item.PrevReadAt, earlier)
	}

	item.MarkUnread(updated.Add(2 * time.Minute))
	if item.IsRead() {
		t.Fatal("expected item to be unread after MarkUnread")
	}
	if item.UnreadAt == nil {
		t.Fatal("expected UnreadAt to be set")
	}
	if item.ReadAt == nil || !item.ReadAt.Equal(earlier) {
		t.Fatalf("ReadAt = %v, want restored %v", item.ReadAt, earlier)
	}
}

func TestMarkUnreadClearsReadAtWhenPreviousWouldReadItem(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := Item{UpdatedAt: updated}
	item.MarkRead(updated.Add(time.Minute))
	item.MarkRead(updated.Add(2 * time.Minute))

	item.MarkUnread(updated.Add(3 * time.Minute))
	if item.ReadAt != nil {
		t.Fatalf("ReadAt = %v, want nil", item.ReadAt)
	}
	if item.IsRead() {
		t.Fatal("expected item to be unread")
	}
}

func TestMarkReadNeverPrecedesUpdatedAt(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := Item{UpdatedAt: updated}
	item.MarkRead(updated.Add(-time.Second))
	if !item.IsRead() {
		t.Fatal("expected item to be read despite skewed clock")
	}
}

func TestStreamKindPolled(t *testing.T) {
	if StreamKindFiltered.Polled() {
		t.Fatal("filtered streams must not be polled")
	}
	for _, k := range []StreamKind{StreamKindSystem, StreamKindUser, StreamKindProject} {
		if !k.Polled() {
			t.Fatalf("%s streams must be polled", k)
		}
	}
	if StreamKind("bogus").Valid() {
		t.Fatal("unexpected valid kind")
	}
}

func TestJoinSplitList(t *testing.T) {
	encoded := JoinList([]string{"bug", " help wanted ", "", "a|b"})
	if encoded != "|bug|help wanted|ab|" {
		t.Fatalf("JoinList = %q", encoded)
	}
	got := SplitList(encoded)
	if len(got) != 3 || got[0] != "bug" || got[1] != "help wanted" || got[2] != "ab" {
		t.Fatalf("SplitList = %#v", got)
	}
	if JoinList(nil) != "" || SplitList("") != nil {
		t.Fatal("expected empty list round trip")
	}
}
