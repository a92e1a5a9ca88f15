// currency/amount.go
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// The numeric columns are DECIMAL(19,4): 15 integer digits plus the
// currency's minor-unit exponent of fractional digits. Everything here works
// on the digit strings, never floats, so the boundary values compare exactly.
const maxIntegerDigits = 15

var maxIntegerPart = strings.Repeat("9", maxIntegerDigits)

// MaxAmountString returns the largest representable amount for the currency,
// e.g. "999999999999999.99" for USD and "999999999999999" for JPY.
func MaxAmountString(code string) (string, error) {
	exp, err := Exponent(code)
	if err != nil {
		return "", err
	}
	if exp == 0 {
		return maxIntegerPart, nil
	}
	return maxIntegerPart + "." + strings.Repeat("9", exp), nil
}

// splitAmount separates a plain decimal string into integer and fractional
// digit runs. It accepts only unsigned forms: digits with at most one dot.
func splitAmount(s string) (intPart, fracPart string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	intPart, fracPart, _ = strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return "", "", false
	}
	if strings.Contains(fracPart, ".") {
		return "", "", false
	}
	for _, part := range []string{intPart, fracPart} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return "", "", false
			}
		}
	}
	return intPart, fracPart, true
}

// ExceedsMaxAmount reports whether the amount is larger than the currency's
// maximum representable value. Non-numeric input reports false; that is
// ValidateAmount's job.
func ExceedsMaxAmount(amount, code string) bool {
	exp, err := Exponent(code)
	if err != nil {
		exp = maxFractionDigits
	}
	intPart, fracPart, ok := splitAmount(amount)
	if !ok {
		return false
	}
	intPart = strings.TrimLeft(intPart, "0")
	if len(intPart) > maxIntegerDigits {
		return true
	}
	if intPart == maxIntegerPart {
		// At the integer ceiling only the fraction can push past the max:
		// any non-zero digit beyond the exponent does.
		if len(strings.TrimRight(fracPart, "0")) > exp {
			return true
		}
	}
	return false
}

// ValidateAmount checks a monetary input string against the currency's
// precision and the column bounds, in the order the transaction form applies:
// present and numeric, positive, fraction within the minor-unit exponent,
// value within the maximum.
func ValidateAmount(amount, code string) error {
	if strings.TrimSpace(amount) == "" {
		return fmt.Errorf("amount is required")
	}
	intPart, fracPart, ok := splitAmount(amount)
	if !ok {
		return fmt.Errorf("amount must be a valid number")
	}
	if strings.Trim(intPart, "0") == "" && strings.Trim(fracPart, "0") == "" {
		return fmt.Errorf("amount must be greater than zero")
	}
	exp, err := Exponent(code)
	if err != nil {
		return err
	}
	if significant := strings.TrimRight(fracPart, "0"); len(significant) > exp {
		if exp == 0 {
			return fmt.Errorf("%s amounts cannot have decimal places", strings.ToUpper(code))
		}
		return fmt.Errorf("amount allows at most %d decimal places for %s", exp, strings.ToUpper(code))
	}
	if ExceedsMaxAmount(amount, code) {
		max, _ := MaxAmountString(code)
		return fmt.Errorf("amount exceeds the maximum of %s", max)
	}
	return nil
}

// ParseAmount validates and parses a positive monetary string into a decimal
// rounded to the currency's exponent.
func ParseAmount(amount, code string) (decimal.Decimal, error) {
	if err := ValidateAmount(amount, code); err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount must be a valid number")
	}
	exp, _ := Exponent(code)
	return d.Round(int32(exp)), nil
}
