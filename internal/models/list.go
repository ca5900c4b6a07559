package models

import "strings"

// ListSep delimits multi-valued columns (labels, assignees). Encoded lists
// carry a leading and trailing separator so "|bug|" matches whole values.
const ListSep = "|"

func JoinList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(ListSep)
	for _, v := range values {
		v = strings.ReplaceAll(strings.TrimSpace(v), ListSep, "")
		if v == "" {
			continue
		}
		b.WriteString(v)
		b.WriteString(ListSep)
	}
	if b.Len() == len(ListSep) {
		return ""
	}
	return b.String()
}

func SplitList(encoded string) []string {
	encoded = strings.Trim(encoded, ListSep)
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, ListSep)
}
