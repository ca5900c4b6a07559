package filter

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/odvcencio/issuestream/internal/models"
)

func testItem(mutate func(*models.Item)) *models.Item {
	it := &models.Item{
		ID:        1,
		Type:      models.ItemTypeIssue,
		Title:     "Crash when opening settings",
		State:     "open",
		Author:    "alice",
		Assignees: []string{"bob"},
		Labels:    []string{"bug", "help wanted"},
		Milestone: "v1.0",
		Repo:      "acme/widgets",
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(it)
	}
	return it
}

func TestCompileClauses(t *testing.T) {
	archived := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expr string
		item *models.Item
		want bool
	}{
		{"is:open", testItem(nil), true},
		{"is:closed", testItem(nil), false},
		{"is:issue", testItem(nil), true},
		{"is:pr", testItem(nil), false},
		{"is:unread", testItem(nil), true},
		{"is:read", testItem(nil), false},
		{"is:archived", testItem(func(it *models.Item) { it.ArchivedAt = &archived }), true},
		{"is:unarchived", testItem(func(it *models.Item) { it.ArchivedAt = &archived }), false},
		{"is:bookmark", testItem(nil), false},
		{"author:ALICE", testItem(nil), true},
		{"author:carol,alice", testItem(nil), true},
		{"assignee:bob", testItem(nil), true},
		{`label:"help wanted"`, testItem(nil), true},
		{"label:bug label:ui", testItem(nil), false},
		{"-label:bug", testItem(nil), false},
		{"milestone:v1.0", testItem(nil), true},
		{"repo:acme/widgets", testItem(nil), true},
		{"org:acme", testItem(nil), true},
		{"org:acm", testItem(nil), false},
		{"crash settings", testItem(nil), true},
		{"crash gadget", testItem(nil), false},
		{"", testItem(nil), true},
	}
	c := NewCompiler()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			compiled, err := c.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tt.expr, err)
			}
			if got := Match(compiled.Predicate, tt.item); got != tt.want {
				t.Fatalf("Match(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCompileRejectsUnknownQualifiers(t *testing.T) {
	c := NewCompiler()
	for _, expr := range []string{"is:bogus", "frobnicate:yes", "sort:random", `label:"oops`, "author:"} {
		if _, err := c.Compile(expr); err == nil {
			t.Fatalf("Compile(%q) succeeded, want error", expr)
		}
	}
}

func TestCompileSort(t *testing.T) {
	compiled, err := NewCompiler().Compile("is:open sort:dueon")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&Sort{Column: ColDueOn}, compiled.Sort); diff != "" {
		t.Fatalf("sort mismatch (-want +got):\n%s", diff)
	}
	if got := compiled.OrderBy(); got != "items.milestone_due_on ASC, items.id DESC" {
		t.Fatalf("OrderBy() = %q", got)
	}
	if got := (Compiled{}).OrderBy(); got != "items.updated_at DESC, items.id DESC" {
		t.Fatalf("default OrderBy() = %q", got)
	}
}

func TestCombineUserFiltersWithDefault(t *testing.T) {
	archived := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	compiled, err := Combine(NewCompiler(), "is:unarchived", []string{"is:issue author:alice", "is:pr author:alice"})
	if err != nil {
		t.Fatal(err)
	}

	pr := testItem(func(it *models.Item) { it.Type = models.ItemTypePullRequest })
	issue := testItem(nil)
	archivedIssue := testItem(func(it *models.Item) { it.ArchivedAt = &archived })
	otherAuthor := testItem(func(it *models.Item) { it.Author = "mallory" })

	if !Match(compiled.Predicate, pr) {
		t.Fatal("expected unarchived PR by alice to match")
	}
	if !Match(compiled.Predicate, issue) {
		t.Fatal("expected unarchived issue by alice to match")
	}
	if Match(compiled.Predicate, archivedIssue) {
		t.Fatal("expected archived item by alice not to match")
	}
	if Match(compiled.Predicate, otherAuthor) {
		t.Fatal("expected item by another author not to match")
	}
}

func TestCombineWithoutUserFiltersReturnsDefault(t *testing.T) {
	compiled, err := Combine(NewCompiler(), "is:open", []string{"", "  "})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Predicate(Equals{Column: ColState, Value: "open"}), compiled.Predicate); diff != "" {
		t.Fatalf("predicate mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchPredicateIgnoresRemoteOnlyQualifiers(t *testing.T) {
	p := SearchPredicate("is:open involves:alice -team:acme/core updated:>=2024-01-01 crash label:bug")
	if !Match(p, testItem(nil)) {
		t.Fatal("expected item to satisfy evaluable clauses")
	}
	closed := testItem(func(it *models.Item) { it.State = "closed" })
	if Match(p, closed) {
		t.Fatal("expected closed item to fail is:open")
	}
	relabeled := testItem(func(it *models.Item) { it.Labels = []string{"ui"} })
	if Match(p, relabeled) {
		t.Fatal("expected relabeled item to fail label:bug")
	}
	if _, ok := SearchPredicate("involves:alice").(True); !ok {
		t.Fatal("expected remote-only query to compile to True")
	}
}

func TestSearchPredicateOrsRepeatedRepoQualifiers(t *testing.T) {
	p := SearchPredicate("repo:acme/widgets repo:acme/gadgets is:open")
	widgets := testItem(nil)
	gadgets := testItem(func(it *models.Item) { it.Repo = "acme/gadgets" })
	other := testItem(func(it *models.Item) { it.Repo = "acme/other" })
	closed := testItem(func(it *models.Item) { it.State = "closed" })

	for _, tt := range []struct {
		name string
		item *models.Item
		want bool
	}{
		{"first repo", widgets, true},
		{"second repo", gadgets, true},
		{"unlisted repo", other, false},
		{"closed in listed repo", closed, false},
	} {
		if got := Match(p, tt.item); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.want)
		}
	}

	mixed := SearchPredicate("org:umbrella repo:acme/gadgets user:acme -repo:acme/widgets")
	if Match(mixed, widgets) {
		t.Fatal("negated repo: should still exclude acme/widgets")
	}
	if !Match(mixed, other) {
		t.Fatal("user:acme should admit acme/other")
	}
}

func TestSQLRendersParameterizedFragment(t *testing.T) {
	compiled, err := NewCompiler().Compile(`is:open -label:"100%_done" is:unread is:bookmark`)
	if err != nil {
		t.Fatal(err)
	}
	where, args := SQL(compiled.Predicate)
	want := `(LOWER(items.state) = ? AND NOT (LOWER(items.labels) LIKE ? ESCAPE '\') AND (items.read_at IS NULL OR items.read_at < items.updated_at) AND items.marked_at IS NOT NULL)`
	if where != want {
		t.Fatalf("SQL where =\n%s\nwant\n%s", where, want)
	}
	wantArgs := []any{"open", `%|100\%\_done|%`}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	if strings.Count(where, "?") != len(args) {
		t.Fatalf("placeholder count %d != args %d", strings.Count(where, "?"), len(args))
	}
}

func TestSQLEmptyOrMatchesNothing(t *testing.T) {
	where, args := SQL(Or{})
	if where != "1 = 0" || len(args) != 0 {
		t.Fatalf("SQL(Or{}) = %q %v", where, args)
	}
	if Match(Or{}, testItem(nil)) {
		t.Fatal("expected empty Or not to match")
	}
}
