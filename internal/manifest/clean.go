package manifest

import "strings"

// CleanCell trims a raw cell and unwraps the ="..." text wrapper some
// spreadsheet exports use to keep long numbers from being reformatted.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// CleanRow maps one header-keyed raw row onto canonical Fields. The second
// return is false when the row fails admission: CONTAINER, HB and MBL are
// all blank. Any one of them being filled keeps the row.
func CleanRow(raw map[string]string) (Fields, bool) {
	var f Fields
	for i, c := range Columns {
		f[i] = CleanCell(raw[c.Header])
	}
	f[ColHB] = NormalizeID(f[ColHB])

	return f, Admit(f)
}

// Admit applies the row admission policy.
func Admit(f Fields) bool {
	for i, c := range Columns {
		if c.Presence && !IsBlank(f[i]) {
			return true
		}
	}
	return false
}

// CleanRows cleans every row and drops the ones that fail admission.
// len(rows) - len(result) is the number of dropped rows.
func CleanRows(rows []map[string]string) []Fields {
	out := make([]Fields, 0, len(rows))
	for _, raw := range rows {
		if f, ok := CleanRow(raw); ok {
			out = append(out, f)
		}
	}
	return out
}

// RowsFromCSV turns a header row and its data rows into header-keyed maps.
// Short rows are padded with empty values; blank lines are skipped.
func RowsFromCSV(header []string, records [][]string) []map[string]string {
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = cleanHeader(h)
	}

	rows := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		if isEmptyRow(rec) {
			continue
		}
		row := make(map[string]string, len(names))
		for i, name := range names {
			if i < len(rec) {
				row[name] = rec[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
