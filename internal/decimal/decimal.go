// Package decimal normalizes venue-supplied numeric strings into a stable,
// fixed-precision decimal representation without ever routing through
// floating point.
package decimal

import (
	"strings"

	shopspring "github.com/shopspring/decimal"
)

// Sentinel substitutes for any numeric field that failed to parse. Callers
// use this in place of a dropped event so the stream never loses a record.
const Sentinel = "?"

// precision is the number of fractional digits normalized values are
// rounded to, per the round-half-to-even, 28-digit mandate.
const precision = 28

// Normalize parses s as an arbitrary-precision decimal, rounds half-to-even
// to 28 fractional digits, then strips trailing zeros and a trailing
// separator. It preserves sign and never uses float64. ok is false if s does
// not parse as a decimal; the caller should substitute Sentinel.
func Normalize(s string) (normalized string, ok bool) {
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return "", false
	}
	return stripTrailingZeros(d.RoundBank(precision).String()), true
}

// stripTrailingZeros removes trailing fractional zeros and, if nothing
// remains after the decimal point, the separator itself. Integers (no "."
// in the input) pass through unchanged.
func stripTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

// MustNormalize is Normalize but panics on parse failure; intended for
// constants and tests, never for venue-supplied input.
func MustNormalize(s string) string {
	out, ok := Normalize(s)
	if !ok {
		panic("decimal: invalid literal " + s)
	}
	return out
}

// IsZero reports whether a normalized decimal string represents zero. Used
// by the order-book store's "quantity 0 removes the level" rule.
func IsZero(s string) bool {
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return false
	}
	return d.IsZero()
}

// Compare parses two decimal strings and returns -1, 0, or 1 following the
// usual comparator convention. Parse failures compare as equal to avoid
// spurious ordering panics; callers that care should validate first via
// Normalize.
func Compare(a, b string) int {
	da, errA := shopspring.NewFromString(a)
	db, errB := shopspring.NewFromString(b)
	if errA != nil || errB != nil {
		return 0
	}
	return da.Cmp(db)
}

// Parsed is a convenience wrapper returning the underlying decimal.Decimal
// for components (order book, spread analytics) that need arithmetic beyond
// comparison.
func Parsed(s string) (shopspring.Decimal, bool) {
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return shopspring.Decimal{}, false
	}
	return d, true
}
