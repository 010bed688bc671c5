package manifest

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// sciNotation matches numbers a spreadsheet rendered in exponent form,
// e.g. "6.17E+08". Group 1 captures the exponent.
var sciNotation = regexp.MustCompile(`^[+-]?\d+(?:\.\d*)?[eE]([+-]?\d+)$`)

// maxExponent bounds the exponents NormalizeID will expand. Anything larger
// is not a mangled identifier and is returned as-is.
const maxExponent = 64

// NormalizeID canonicalizes a raw identifier. Exponent notation is expanded
// to its integer part (truncated, not rounded); every other value is only
// trimmed. NormalizeID(NormalizeID(x)) == NormalizeID(x).
func NormalizeID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	m := sciNotation.FindStringSubmatch(s)
	if m == nil {
		return s
	}

	exp, err := strconv.Atoi(m[1])
	if err != nil || exp > maxExponent || exp < -maxExponent {
		return s
	}

	// 256 bits keeps every digit of realistic identifiers exact.
	f, _, err := big.ParseFloat(s, 10, 256, big.ToZero)
	if err != nil {
		return s
	}
	i, _ := f.Int(nil)
	return i.String()
}

// IsBlank reports whether v carries no usable value: empty after trimming,
// or the "nan" placeholder dataframe exports write for missing cells.
func IsBlank(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "nan")
}

// KeyOf returns the normalized HB value used to key the master list and the
// diff engine. Records without a usable HB get "".
func KeyOf(f Fields) string {
	k := NormalizeID(f[ColHB])
	if IsBlank(k) {
		return ""
	}
	return k
}
