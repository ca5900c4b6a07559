// Package filter compiles the stream filter language into predicates over
// cached item columns.
//
// A compiled predicate has two backends: SQL (a parameterized WHERE fragment
// over the items table, see SQL) and in-memory evaluation against a
// models.Item (see Match). Both backends must agree for every predicate.
//
// Filter expressions are space separated clauses:
//
//	is:open|closed|unread|read|bookmark|archived|unarchived|issue|pr|draft|merged
//	author:<login> assignee:<login> label:<name> milestone:<title>
//	repo:<org/name> org:<org> sort:updated|read|created|closed|dueon
//	free text terms
//
// A leading "-" negates a clause, and comma separated values are alternatives
// (label:bug,ui matches either label).
package filter

// Item columns referenced by predicates.
const (
	ColState      = "state"
	ColType       = "type"
	ColAuthor     = "author"
	ColAssignees  = "assignees"
	ColLabels     = "labels"
	ColMilestone  = "milestone"
	ColRepo       = "repo"
	ColTitle      = "title"
	ColDraft      = "draft"
	ColMerged     = "merged"
	ColArchivedAt = "archived_at"
	ColMarkedAt   = "marked_at"
	ColReadAt     = "read_at"
	ColUpdatedAt  = "updated_at"
	ColCreatedAt  = "created_at"
	ColClosedAt   = "closed_at"
	ColDueOn      = "milestone_due_on"
)

// Predicate is a boolean expression over item columns. The interface is
// sealed; backends switch exhaustively over the node types below.
type Predicate interface {
	predicateNode()
}

// True matches every item.
type True struct{}

// And matches when every term matches. An empty And matches everything.
type And struct {
	Terms []Predicate
}

// Or matches when any term matches. An empty Or matches nothing.
type Or struct {
	Terms []Predicate
}

type Not struct {
	Term Predicate
}

// Equals compares a scalar text column case-insensitively.
type Equals struct {
	Column string
	Value  string
}

// HasValue matches when a list column (labels, assignees) contains Value.
type HasValue struct {
	Column string
	Value  string
}

// HasPrefix matches a text column starting with Value, case-insensitively.
type HasPrefix struct {
	Column string
	Value  string
}

// IsSet matches a non-null timestamp column.
type IsSet struct {
	Column string
}

// IsTrue matches a boolean column.
type IsTrue struct {
	Column string
}

// Unread matches items whose readAt is null or older than updatedAt.
type Unread struct{}

// Text matches a free text term inside the title.
type Text struct {
	Term string
}

func (True) predicateNode()      {}
func (And) predicateNode()       {}
func (Or) predicateNode()        {}
func (Not) predicateNode()       {}
func (Equals) predicateNode()    {}
func (HasValue) predicateNode()  {}
func (HasPrefix) predicateNode() {}
func (IsSet) predicateNode()     {}
func (IsTrue) predicateNode()    {}
func (Unread) predicateNode()    {}
func (Text) predicateNode()      {}

// Sort is an ordering clause selected with sort:<key>.
type Sort struct {
	Column string
	Desc   bool
}

// Compiled is the output contract of a filter compiler.
type Compiled struct {
	Predicate Predicate
	Sort      *Sort
}

// Compiler turns a filter expression into a predicate and optional sort.
type Compiler interface {
	Compile(expr string) (Compiled, error)
}

// Combine merges a stream's default filter with its user filters as an OR of
// ANDs: (user1 AND default) OR (user2 AND default) ... When no user filter
// is present the default filter is returned alone. The first explicit sort
// wins, user filters before the default filter.
func Combine(c Compiler, defaultFilter string, userFilters []string) (Compiled, error) {
	def, err := c.Compile(defaultFilter)
	if err != nil {
		return Compiled{}, err
	}

	var alternatives []Predicate
	sort := (*Sort)(nil)
	for _, uf := range userFilters {
		if isBlank(uf) {
			continue
		}
		compiled, err := c.Compile(uf)
		if err != nil {
			return Compiled{}, err
		}
		alternatives = append(alternatives, And{Terms: []Predicate{compiled.Predicate, def.Predicate}})
		if sort == nil {
			sort = compiled.Sort
		}
	}
	if len(alternatives) == 0 {
		return def, nil
	}
	if sort == nil {
		sort = def.Sort
	}
	return Compiled{Predicate: Or{Terms: alternatives}, Sort: sort}, nil
}
