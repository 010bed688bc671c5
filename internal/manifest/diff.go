package manifest

// DiffResult is the comparison of one snapshot with the one before it.
type DiffResult struct {
	New     []Record // keyed current records whose key is absent from previous
	Updated []Record // keyed current records whose key exists in previous with different fields
	Removed []Record // keyed previous records whose key is absent from current
	Keyless int      // current records without a usable key, excluded from every set
}

// Diff compares current against previous by normalized key using hash-set
// membership. A nil previous (first upload) makes every keyed current record
// new. Keyless records never count as new, updated or removed.
func Diff(current, previous []Record) DiffResult {
	var res DiffResult

	prevByKey := make(map[string]Fields, len(previous))
	for _, r := range previous {
		k := r.Key()
		if k == "" {
			continue
		}
		if _, seen := prevByKey[k]; !seen {
			prevByKey[k] = r.Fields
		}
	}

	curKeys := make(map[string]struct{}, len(current))
	for _, r := range current {
		k := r.Key()
		if k == "" {
			res.Keyless++
			continue
		}
		curKeys[k] = struct{}{}

		prev, ok := prevByKey[k]
		switch {
		case !ok:
			res.New = append(res.New, r)
		case prev != r.Fields:
			res.Updated = append(res.Updated, r)
		}
	}

	for _, r := range previous {
		k := r.Key()
		if k == "" {
			continue
		}
		if _, ok := curKeys[k]; !ok {
			res.Removed = append(res.Removed, r)
		}
	}

	return res
}
