package manifest

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Totals sums the quantity columns of a record set.
type Totals struct {
	Pieces decimal.Decimal `json:"pcs"`
	Weight decimal.Decimal `json:"wtLbs"`
	Volume decimal.Decimal `json:"volume"`
}

// Summarize totals PCS, WT_LBS and VOLUME. Cells that are not numbers are
// skipped; thousands separators are accepted.
func Summarize(fields []Fields) Totals {
	t := Totals{Pieces: decimal.Zero, Weight: decimal.Zero, Volume: decimal.Zero}
	for _, f := range fields {
		t.Pieces = t.Pieces.Add(parseQuantity(f[ColPCS]))
		t.Weight = t.Weight.Add(parseQuantity(f[ColWeightLbs]))
		t.Volume = t.Volume.Add(parseQuantity(f[ColVolume]))
	}
	return t
}

func parseQuantity(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
