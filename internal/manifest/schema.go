package manifest

import (
	"fmt"
	"strings"
)

// SchemaResult is the outcome of checking a header row against the contract.
type SchemaResult struct {
	OK      bool
	Missing []string // required headers not present, in contract order
}

// Err returns a *SchemaError when the header row is incomplete.
func (r SchemaResult) Err() error {
	if r.OK {
		return nil
	}
	return &SchemaError{Missing: r.Missing}
}

// SchemaError reports required columns missing from an ingested file.
// Ingestion stops before any row is processed.
type SchemaError struct {
	Missing []string
	Reason  string // set when the file could not be read as a table at all
}

func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return "invalid manifest file: " + e.Reason
	}
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// ValidateHeaders compares a header row with the required columns. Matching
// is exact after trimming whitespace and a leading byte-order mark; extra
// columns are tolerated.
func ValidateHeaders(headers []string) SchemaResult {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[cleanHeader(h)] = true
	}

	var missing []string
	for _, c := range Columns {
		if !present[c.Header] {
			missing = append(missing, c.Header)
		}
	}

	return SchemaResult{OK: len(missing) == 0, Missing: missing}
}

func cleanHeader(h string) string {
	return strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
}
