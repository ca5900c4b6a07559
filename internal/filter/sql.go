package filter

import (
	"fmt"
	"strings"

	"github.com/odvcencio/issuestream/internal/models"
)

// ItemsTable is the alias predicates qualify columns with.
const ItemsTable = "items"

// SQL renders the predicate as a WHERE fragment with ? placeholders.
// Values are never interpolated.
func SQL(p Predicate) (string, []any) {
	var b sqlBuilder
	b.write(p)
	return b.sb.String(), b.args
}

// OrderBy renders the sort clause, falling back to most recently updated.
// The id tiebreaker keeps pagination stable.
func (c Compiled) OrderBy() string {
	s := Sort{Column: ColUpdatedAt, Desc: true}
	if c.Sort != nil {
		s = *c.Sort
	}
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s.%s %s, %s.id DESC", ItemsTable, s.Column, dir, ItemsTable)
}

type sqlBuilder struct {
	sb   strings.Builder
	args []any
}

func (b *sqlBuilder) col(name string) string {
	return ItemsTable + "." + name
}

func (b *sqlBuilder) write(p Predicate) {
	switch pred := p.(type) {
	case nil, True:
		b.sb.WriteString("1 = 1")
	case And:
		b.join(pred.Terms, " AND ", "1 = 1")
	case Or:
		b.join(pred.Terms, " OR ", "1 = 0")
	case Not:
		b.sb.WriteString("NOT (")
		b.write(pred.Term)
		b.sb.WriteString(")")
	case Equals:
		fmt.Fprintf(&b.sb, "LOWER(%s) = ?", b.col(pred.Column))
		b.args = append(b.args, strings.ToLower(pred.Value))
	case HasValue:
		fmt.Fprintf(&b.sb, `LOWER(%s) LIKE ? ESCAPE '\'`, b.col(pred.Column))
		b.args = append(b.args, "%"+escapeLike(models.ListSep+strings.ToLower(pred.Value)+models.ListSep)+"%")
	case HasPrefix:
		fmt.Fprintf(&b.sb, `LOWER(%s) LIKE ? ESCAPE '\'`, b.col(pred.Column))
		b.args = append(b.args, escapeLike(strings.ToLower(pred.Value))+"%")
	case IsSet:
		fmt.Fprintf(&b.sb, "%s IS NOT NULL", b.col(pred.Column))
	case IsTrue:
		fmt.Fprintf(&b.sb, "%s = ?", b.col(pred.Column))
		b.args = append(b.args, true)
	case Unread:
		fmt.Fprintf(&b.sb, "(%s IS NULL OR %s < %s)", b.col(ColReadAt), b.col(ColReadAt), b.col(ColUpdatedAt))
	case Text:
		fmt.Fprintf(&b.sb, `LOWER(%s) LIKE ? ESCAPE '\'`, b.col(ColTitle))
		b.args = append(b.args, "%"+escapeLike(strings.ToLower(pred.Term))+"%")
	default:
		panic(fmt.Sprintf("filter: unsupported predicate %T", p))
	}
}

func (b *sqlBuilder) join(terms []Predicate, sep, empty string) {
	if len(terms) == 0 {
		b.sb.WriteString(empty)
		return
	}
	b.sb.WriteString("(")
	for i, term := range terms {
		if i > 0 {
			b.sb.WriteString(sep)
		}
		b.write(term)
	}
	b.sb.WriteString(")")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
