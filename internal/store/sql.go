package store

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
)

// Shared SQL fragments. Both backends use the same table and column names so
// their migrations and queries stay aligned.
const (
	UploadsTable  = "uploads"
	RecordsTable  = "snapshot_records"
	MasterTable   = "master_entries"
	KeyColumn     = "record_key"
	MasterKeyCol  = "entry_key"
	KeyBatchLimit = 500
)

// FieldColumns returns the data column names in contract order.
func FieldColumns() []string { return manifest.FieldNames() }

// FieldColumnList returns the data columns joined for a select list,
// optionally qualified with a table alias.
func FieldColumnList(alias string) string {
	cols := FieldColumns()
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

// FRLClause returns a boolean SQL expression for the FRL filter, or "" when
// the filter accepts everything. It mirrors manifest.IsBlank.
func FRLClause(f manifest.FRLFilter) string {
	present := fmt.Sprintf("(TRIM(%[1]s) <> '' AND LOWER(TRIM(%[1]s)) <> 'nan')", manifest.Columns[manifest.ColFRL].Name)
	switch f {
	case manifest.FRLPresent:
		return present
	case manifest.FRLAbsent:
		return "NOT " + present
	default:
		return ""
	}
}

// MasterColumns returns every master_entries column in scan order.
func MasterColumns() []string {
	cols := append([]string{MasterKeyCol}, FieldColumns()...)
	return append(cols, "first_seen_upload", "last_updated_upload", "created_at", "updated_at", "last_update_reason")
}

// UpsertMasterSQL builds the insert-or-overwrite statement for one master
// entry. placeholder renders the n-th (1-based) bind parameter.
func UpsertMasterSQL(placeholder func(n int) string) string {
	cols := MasterColumns()
	binds := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		binds[i] = placeholder(i + 1)
		if c != MasterKeyCol {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		MasterTable,
		strings.Join(cols, ", "),
		strings.Join(binds, ", "),
		MasterKeyCol,
		strings.Join(sets, ", "),
	)
}

// ChunkKeys splits keys into slices of at most KeyBatchLimit.
func ChunkKeys(keys []string) [][]string {
	var out [][]string
	for len(keys) > KeyBatchLimit {
		out = append(out, keys[:KeyBatchLimit])
		keys = keys[KeyBatchLimit:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}
