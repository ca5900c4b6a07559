package filter

import (
	"fmt"
	"strings"
	"unicode"
)

type mode int

const (
	// modeFilter compiles the local filter language; unknown qualifiers are errors.
	modeFilter mode = iota
	// modeSearch compiles a remote search query leniently: qualifiers that can
	// only be evaluated by the remote service match everything.
	modeSearch
)

var sortColumns = map[string]Sort{
	"updated": {Column: ColUpdatedAt, Desc: true},
	"read":    {Column: ColReadAt, Desc: true},
	"created": {Column: ColCreatedAt, Desc: true},
	"closed":  {Column: ColClosedAt, Desc: true},
	"dueon":   {Column: ColDueOn, Desc: false},
}

// DSL is the default Compiler for the filter language.
type DSL struct{}

func NewCompiler() *DSL { return &DSL{} }

func (*DSL) Compile(expr string) (Compiled, error) {
	return compile(expr, modeFilter)
}

// SearchPredicate converts a remote search query into the predicate an item
// must satisfy to still belong to a stream polling that query. Every clause
// the local cache can evaluate must hold, except that repo:, org: and user:
// clauses are alternatives of one another as they are on the remote.
// Remote-only qualifiers and free text are assumed to hold.
func SearchPredicate(query string) Predicate {
	compiled, err := compile(query, modeSearch)
	if err != nil {
		return True{}
	}
	return compiled.Predicate
}

func compile(expr string, m mode) (Compiled, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return Compiled{}, err
	}

	var out Compiled
	terms := make([]Predicate, 0, len(tokens))
	// The remote ORs repeated repo:, org: and user: qualifiers in one query.
	var scope []Predicate
	for _, tok := range tokens {
		negate := false
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			negate = true
			tok = tok[1:]
		}

		key, value, qualified := strings.Cut(tok, ":")
		if !qualified || key == "" {
			if m == modeSearch {
				continue
			}
			terms = append(terms, maybeNot(Text{Term: tok}, negate))
			continue
		}
		key = strings.ToLower(key)
		value = strings.TrimSpace(value)

		if key == "sort" {
			if m == modeSearch {
				continue
			}
			s, ok := sortColumns[strings.ToLower(value)]
			if !ok {
				return Compiled{}, fmt.Errorf("unknown sort key %q", value)
			}
			s.Desc = s.Desc != negate
			out.Sort = &s
			continue
		}

		pred, ok, err := qualifier(key, value, m)
		if err != nil {
			return Compiled{}, err
		}
		if !ok {
			continue
		}
		if m == modeSearch && !negate && scopeQualifier(key) {
			scope = append(scope, pred)
			continue
		}
		terms = append(terms, maybeNot(pred, negate))
	}
	switch len(scope) {
	case 0:
	case 1:
		terms = append(terms, scope[0])
	default:
		terms = append(terms, Or{Terms: scope})
	}

	switch len(terms) {
	case 0:
		out.Predicate = True{}
	case 1:
		out.Predicate = terms[0]
	default:
		out.Predicate = And{Terms: terms}
	}
	return out, nil
}

// qualifier compiles one key:value clause. ok=false drops the clause.
func qualifier(key, value string, m mode) (Predicate, bool, error) {
	if value == "" {
		if m == modeSearch {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("missing value for %s:", key)
	}

	switch key {
	case "is":
		return isQualifier(strings.ToLower(value), m)
	case "state":
		return alternatives(value, func(v string) Predicate { return Equals{Column: ColState, Value: strings.ToLower(v)} }), true, nil
	case "type":
		return alternatives(value, func(v string) Predicate { return typePredicate(strings.ToLower(v)) }), true, nil
	case "draft":
		p := Predicate(IsTrue{Column: ColDraft})
		if strings.EqualFold(value, "false") {
			p = Not{Term: p}
		}
		return p, true, nil
	case "author":
		return alternatives(value, func(v string) Predicate { return Equals{Column: ColAuthor, Value: v} }), true, nil
	case "assignee":
		return alternatives(value, func(v string) Predicate { return HasValue{Column: ColAssignees, Value: v} }), true, nil
	case "label":
		return alternatives(value, func(v string) Predicate { return HasValue{Column: ColLabels, Value: v} }), true, nil
	case "milestone":
		return alternatives(value, func(v string) Predicate { return Equals{Column: ColMilestone, Value: v} }), true, nil
	case "repo":
		return alternatives(value, func(v string) Predicate { return Equals{Column: ColRepo, Value: v} }), true, nil
	case "org", "user":
		return alternatives(value, func(v string) Predicate { return HasPrefix{Column: ColRepo, Value: v + "/"} }), true, nil
	}

	if m == modeSearch {
		// involves:, mentions:, team:, updated:, project: and friends.
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("unknown qualifier %q", key)
}

func scopeQualifier(key string) bool {
	switch key {
	case "repo", "org", "user":
		return true
	}
	return false
}

func isQualifier(value string, m mode) (Predicate, bool, error) {
	switch value {
	case "open", "closed":
		return Equals{Column: ColState, Value: value}, true, nil
	case "issue", "pr":
		return typePredicate(value), true, nil
	case "pull-request":
		return typePredicate("pr"), true, nil
	case "draft":
		return IsTrue{Column: ColDraft}, true, nil
	case "merged":
		return IsTrue{Column: ColMerged}, true, nil
	}
	if m == modeSearch {
		return nil, false, nil
	}
	switch value {
	case "unread":
		return Unread{}, true, nil
	case "read":
		return Not{Term: Unread{}}, true, nil
	case "bookmark":
		return IsSet{Column: ColMarkedAt}, true, nil
	case "archived":
		return IsSet{Column: ColArchivedAt}, true, nil
	case "unarchived":
		return Not{Term: IsSet{Column: ColArchivedAt}}, true, nil
	}
	return nil, false, fmt.Errorf("unknown is: value %q", value)
}

func typePredicate(v string) Predicate {
	if v == "pull-request" {
		v = "pr"
	}
	return Equals{Column: ColType, Value: v}
}

func alternatives(value string, build func(string) Predicate) Predicate {
	var terms []Predicate
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		terms = append(terms, build(part))
	}
	switch len(terms) {
	case 0:
		return True{}
	case 1:
		return terms[0]
	default:
		return Or{Terms: terms}
	}
}

func maybeNot(p Predicate, negate bool) Predicate {
	if negate {
		return Not{Term: p}
	}
	return p
}

// tokenize splits on whitespace, keeping double-quoted runs together and
// stripping the quotes: label:"help wanted" becomes `label:help wanted`.
func tokenize(expr string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case r == '"':
			quoted = !quoted
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", expr)
	}
	flush()
	return tokens, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
