package manifest

import (
	"sort"
	"strings"
)

// Duplicates holds the values that occur more than once in a record set.
type Duplicates struct {
	HB        map[string]struct{}
	Container map[string]struct{}
}

// FindDuplicates counts non-blank values of HB and CONTAINER across fields.
// A value is a duplicate iff it occurs more than once. The result depends
// only on the given set and must be recomputed whenever the set changes.
func FindDuplicates(fields []Fields) Duplicates {
	return Duplicates{
		HB:        repeated(fields, ColHB),
		Container: repeated(fields, ColContainer),
	}
}

func repeated(fields []Fields, col Column) map[string]struct{} {
	counts := make(map[string]int)
	for _, f := range fields {
		v := strings.TrimSpace(f[col])
		if v == "" {
			continue
		}
		counts[v]++
	}

	out := make(map[string]struct{})
	for v, n := range counts {
		if n > 1 {
			out[v] = struct{}{}
		}
	}
	return out
}

// Sorted returns the set's values in ascending order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
