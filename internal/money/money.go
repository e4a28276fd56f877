// Package money converts between integer minor units, the representation
// every stored amount uses, and the decimal strings the gateway speaks.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Format renders cents as a major-unit string with two decimals: 4499 -> "44.99".
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Parse reads a major-unit string ("44.99") into cents, rounding half away
// from zero on the third decimal.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// FromMajor converts a major-unit decimal (dollars) to cents.
func FromMajor(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// Percent returns pct percent of cents, rounded half away from zero:
// Percent(4999, 10) == 500.
func Percent(cents int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(pct).Div(hundred).Round(0).IntPart()
}

// Display renders cents with a currency prefix for documents: "USD 44.99".
func Display(cents int64, currency string) string {
	return currency + " " + Format(cents)
}
