package filter

import (
	"fmt"
	"strings"

	"github.com/odvcencio/issuestream/internal/models"
)

// Match evaluates the predicate against an item in memory.
func Match(p Predicate, it *models.Item) bool {
	switch pred := p.(type) {
	case nil, True:
		return true
	case And:
		for _, term := range pred.Terms {
			if !Match(term, it) {
				return false
			}
		}
		return true
	case Or:
		for _, term := range pred.Terms {
			if Match(term, it) {
				return true
			}
		}
		return false
	case Not:
		return !Match(pred.Term, it)
	case Equals:
		return strings.EqualFold(textColumn(it, pred.Column), pred.Value)
	case HasValue:
		for _, v := range listColumn(it, pred.Column) {
			if strings.EqualFold(v, pred.Value) {
				return true
			}
		}
		return false
	case HasPrefix:
		return strings.HasPrefix(strings.ToLower(textColumn(it, pred.Column)), strings.ToLower(pred.Value))
	case IsSet:
		switch pred.Column {
		case ColArchivedAt:
			return it.IsArchived()
		case ColMarkedAt:
			return it.IsBookmarked()
		case ColReadAt:
			return it.ReadAt != nil
		case ColClosedAt:
			return it.ClosedAt != nil
		}
		panic(fmt.Sprintf("filter: unsupported timestamp column %q", pred.Column))
	case IsTrue:
		switch pred.Column {
		case ColDraft:
			return it.Draft
		case ColMerged:
			return it.Merged
		}
		panic(fmt.Sprintf("filter: unsupported boolean column %q", pred.Column))
	case Unread:
		return !it.IsRead()
	case Text:
		return strings.Contains(strings.ToLower(it.Title), strings.ToLower(pred.Term))
	default:
		panic(fmt.Sprintf("filter: unsupported predicate %T", p))
	}
}

func textColumn(it *models.Item, column string) string {
	switch column {
	case ColState:
		return it.State
	case ColType:
		return string(it.Type)
	case ColAuthor:
		return it.Author
	case ColMilestone:
		return it.Milestone
	case ColRepo:
		return it.Repo
	case ColTitle:
		return it.Title
	}
	panic(fmt.Sprintf("filter: unsupported text column %q", column))
}

func listColumn(it *models.Item, column string) []string {
	switch column {
	case ColLabels:
		return it.Labels
	case ColAssignees:
		return it.Assignees
	}
	panic(fmt.Sprintf("filter: unsupported list column %q", column))
}
