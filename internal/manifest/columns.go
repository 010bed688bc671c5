// Package manifest holds the cargo manifest domain: the fixed column contract,
// identifier normalization, row admission, master-list merging, snapshot
// diffing and duplicate analysis.
//
// Everything in this package is pure. Persistence lives behind the store
// package and orchestration in core.
package manifest

import "strings"

// Column identifies one of the required manifest columns.
type Column int

const (
	ColContainer Column = iota
	ColSealNumber
	ColCarrier
	ColMBL
	ColMI
	ColVessel
	ColHB
	ColOuterQuantity
	ColPCS
	ColWeightLbs
	ColConsignee
	ColFRL
	ColFileNo
	ColDest
	ColVolume
	ColVBond
	ColTDF

	NumColumns int = iota
)

// ColumnSpec describes how a CSV column maps onto a canonical field.
type ColumnSpec struct {
	Header   string // CSV header label, matched exactly
	Name     string // canonical field and database column name
	Presence bool   // participates in the row admission policy
	Tracked  bool   // empty -> non-empty transitions are recorded on the master list
}

// Columns is the required-column contract in header order.
var Columns = [NumColumns]ColumnSpec{
	ColContainer:     {Header: "CONTAINER", Name: "container", Presence: true},
	ColSealNumber:    {Header: "SEAL #", Name: "seal_number"},
	ColCarrier:       {Header: "CARRIER", Name: "carrier"},
	ColMBL:           {Header: "MBL", Name: "mbl", Presence: true},
	ColMI:            {Header: "MI", Name: "mi"},
	ColVessel:        {Header: "VESSEL", Name: "vessel"},
	ColHB:            {Header: "HB", Name: "hb", Presence: true},
	ColOuterQuantity: {Header: "OUTER QUANTITY", Name: "outer_quantity"},
	ColPCS:           {Header: "PCS", Name: "pcs"},
	ColWeightLbs:     {Header: "WT_LBS", Name: "wt_lbs"},
	ColConsignee:     {Header: "CNEE", Name: "cnee"},
	ColFRL:           {Header: "FRL", Name: "frl", Tracked: true},
	ColFileNo:        {Header: "FILE_NO", Name: "file_no"},
	ColDest:          {Header: "DEST", Name: "dest"},
	ColVolume:        {Header: "VOLUME", Name: "volume"},
	ColVBond:         {Header: "VBOND#", Name: "vbond"},
	ColTDF:           {Header: "TDF", Name: "tdf", Tracked: true},
}

// Headers returns the CSV header labels in contract order.
func Headers() []string {
	out := make([]string, NumColumns)
	for i, c := range Columns {
		out[i] = c.Header
	}
	return out
}

// FieldNames returns the canonical field names in contract order.
func FieldNames() []string {
	out := make([]string, NumColumns)
	for i, c := range Columns {
		out[i] = c.Name
	}
	return out
}

// String returns the canonical field name.
func (c Column) String() string {
	if c < 0 || int(c) >= NumColumns {
		return "unknown"
	}
	return Columns[c].Name
}

// LookupColumn resolves a canonical field name or a header label
// (case-insensitive) to its Column.
func LookupColumn(name string) (Column, bool) {
	name = strings.TrimSpace(name)
	for i, c := range Columns {
		if strings.EqualFold(c.Name, name) || strings.EqualFold(c.Header, name) {
			return Column(i), true
		}
	}
	return 0, false
}

// Fields holds one value per required column, indexed by Column.
type Fields [NumColumns]string

// Get returns the value of column c.
func (f Fields) Get(c Column) string { return f[c] }

// Key returns the master-list key for these fields. See KeyOf.
func (f Fields) Key() string { return KeyOf(f) }

// Map returns the fields keyed by canonical name.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, NumColumns)
	for i, c := range Columns {
		m[c.Name] = f[i]
	}
	return m
}

// Values returns the fields as a slice in contract order.
func (f Fields) Values() []string {
	out := make([]string, NumColumns)
	copy(out, f[:])
	return out
}

// FieldsFromValues builds Fields from a slice in contract order.
// Missing trailing values are left empty; extra values are ignored.
func FieldsFromValues(vals []string) Fields {
	var f Fields
	copy(f[:], vals)
	return f
}
