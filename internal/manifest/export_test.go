package manifest

import (
	"bytes"
	"testing"
)

func sampleRecords() []Record {
	rows := []map[string]string{
		rawRow("CONTAINER", "MSCU1", "SEAL #", "S-1", "HB", "6.17E+08", "MBL", "MBL1", "CNEE", `Acme, "East"`, "PCS", "1,200"),
		rawRow("CONTAINER", "MSCU1", "HB", "62R0537240", "FRL", "2024-05-01", "WT_LBS", "850.5"),
		rawRow("MBL", "MBL9", "VOLUME", "12.25"),
	}
	var out []Record
	for _, f := range CleanRows(rows) {
		out = append(out, Record{Fields: f})
	}
	return out
}

func reingest(t *testing.T, tbl *Table) []Fields {
	t.Helper()
	if res := ValidateHeaders(tbl.Header); !res.OK {
		t.Fatalf("exported header missing %v", res.Missing)
	}
	return CleanRows(RowsFromCSV(tbl.Header, tbl.Rows))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	records := sampleRecords()

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	tbl, err := ParseCSV(&buf)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	got := reingest(t, tbl)
	if len(got) != len(records) {
		t.Fatalf("re-ingested %d records, want %d", len(got), len(records))
	}
	for i := range got {
		if got[i] != records[i].Fields {
			t.Errorf("record %d = %v, want %v", i, got[i], records[i].Fields)
		}
	}
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	records := sampleRecords()

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, records); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	tbl, err := ParseXLSX(&buf)
	if err != nil {
		t.Fatalf("ParseXLSX() error = %v", err)
	}
	got := reingest(t, tbl)
	if len(got) != len(records) {
		t.Fatalf("re-ingested %d records, want %d", len(got), len(records))
	}
	for i := range got {
		if got[i] != records[i].Fields {
			t.Errorf("record %d = %v, want %v", i, got[i], records[i].Fields)
		}
	}
}

func TestParseCSV_BOMAndEmpty(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("CONTAINER,HB\nC1,H1\n")...)
	tbl, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if tbl.Header[0] != "CONTAINER" {
		t.Errorf("header[0] = %q, BOM not stripped", tbl.Header[0])
	}

	if _, err := ParseCSV(bytes.NewReader(nil)); err == nil {
		t.Error("ParseCSV(empty) error = nil, want SchemaError")
	} else if _, ok := err.(*SchemaError); !ok {
		t.Errorf("ParseCSV(empty) error = %T, want *SchemaError", err)
	}
}

func TestSummarize(t *testing.T) {
	var fields []Fields
	for _, r := range sampleRecords() {
		fields = append(fields, r.Fields)
	}
	tot := Summarize(fields)
	if tot.Pieces.String() != "1200" {
		t.Errorf("Pieces = %s, want 1200", tot.Pieces)
	}
	if tot.Weight.String() != "850.5" {
		t.Errorf("Weight = %s, want 850.5", tot.Weight)
	}
	if tot.Volume.String() != "12.25" {
		t.Errorf("Volume = %s, want 12.25", tot.Volume)
	}
}
