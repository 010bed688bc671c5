package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table is a parsed input file: its header row and the data rows below it.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewDecodingReader wraps r so that a UTF-8 or UTF-16 byte-order mark selects
// the decoding and is dropped, and invalid UTF-8 becomes U+FFFD.
func NewDecodingReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ParseCSV reads a CSV manifest. Quotes are parsed leniently and rows may
// have differing lengths; the first row is the header.
func ParseCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(NewDecodingReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("parse csv: %v", err)}
	}
	return tableFrom(records)
}

// ParseXLSX reads the first worksheet of a spreadsheet manifest.
func ParseXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("open spreadsheet: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &SchemaError{Reason: "spreadsheet has no worksheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("read worksheet %q: %v", sheets[0], err)}
	}
	return tableFrom(rows)
}

// ParseFile picks the parser from the file extension; anything that is not
// .xlsx is treated as CSV.
func ParseFile(name string, r io.Reader) (*Table, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ParseXLSX(r)
	}
	return ParseCSV(r)
}

func tableFrom(records [][]string) (*Table, error) {
	for i, rec := range records {
		if isEmptyRow(rec) {
			continue
		}
		return &Table{Header: rec, Rows: records[i+1:]}, nil
	}
	return nil, &SchemaError{Reason: "empty file"}
}
