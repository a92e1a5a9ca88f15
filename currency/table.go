// currency/table.go
package currency

import (
	"fmt"
	"strings"

	xcurrency "golang.org/x/text/currency"
)

// maxFractionDigits is the widest minor-unit exponent the decimal columns
// support. ISO 4217 tops out at 4 (e.g. CLF, UYW).
const maxFractionDigits = 4

// exponentOverrides patches codes where the x/text rounding data does not
// carry the minor-unit exponent we need.
var exponentOverrides = map[string]int{
	"CLF": 4,
	"UYW": 4,
}

// Exponent returns the ISO 4217 minor-unit exponent (number of decimal
// places) for a currency code: JPY=0, USD=2, BHD=3. Unknown codes are an
// error.
func Exponent(code string) (int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if exp, ok := exponentOverrides[code]; ok {
		return exp, nil
	}
	unit, err := xcurrency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("unknown currency %q: %w", code, err)
	}
	scale, _ := xcurrency.Standard.Rounding(unit)
	if scale > maxFractionDigits {
		scale = maxFractionDigits
	}
	return scale, nil
}

// Valid reports whether code is a known ISO 4217 currency code.
func Valid(code string) bool {
	_, err := Exponent(code)
	return err == nil
}

// Normalize upper-cases and trims a currency code after checking it parses.
func Normalize(code string) (string, error) {
	if _, err := Exponent(code); err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(code)), nil
}
