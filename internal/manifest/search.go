package manifest

import (
	"fmt"
	"strings"
)

// SearchAll is the search field selecting every column.
const SearchAll = "all"

// Matcher is a compiled case-insensitive substring search.
type Matcher struct {
	needle string
	column Column
	all    bool
}

// NewMatcher builds a matcher for text against field, which is SearchAll,
// empty (same as SearchAll), a canonical field name or a header label.
func NewMatcher(text, field string) (*Matcher, error) {
	m := &Matcher{needle: strings.ToLower(strings.TrimSpace(text))}

	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, SearchAll) {
		m.all = true
		return m, nil
	}

	col, ok := LookupColumn(field)
	if !ok {
		return nil, fmt.Errorf("unknown search field %q", field)
	}
	m.column = col
	return m, nil
}

// Empty reports whether the matcher accepts everything.
func (m *Matcher) Empty() bool { return m == nil || m.needle == "" }

// Match reports whether f contains the search text.
func (m *Matcher) Match(f Fields) bool {
	if m.Empty() {
		return true
	}
	if !m.all {
		return strings.Contains(strings.ToLower(f[m.column]), m.needle)
	}
	for _, v := range f {
		if strings.Contains(strings.ToLower(v), m.needle) {
			return true
		}
	}
	return false
}

// Filter returns the records that match, preserving order.
func (m *Matcher) Filter(records []Record) []Record {
	if m.Empty() {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if m.Match(r.Fields) {
			out = append(out, r)
		}
	}
	return out
}

// FRLFilter selects records by presence of the FRL date column.
type FRLFilter int

const (
	FRLAny FRLFilter = iota
	FRLPresent
	FRLAbsent
)

// Accept reports whether f passes the filter.
func (ff FRLFilter) Accept(f Fields) bool {
	switch ff {
	case FRLPresent:
		return f.HasFRL()
	case FRLAbsent:
		return !f.HasFRL()
	default:
		return true
	}
}
