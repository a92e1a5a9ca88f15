package currency

import (
	"strings"
	"testing"
)

func TestExponent(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"USD", 2},
		{"usd", 2},
		{"EUR", 2},
		{"JPY", 0},
		{"BHD", 3},
		{"CLF", 4},
	}
	for _, tc := range cases {
		got, err := Exponent(tc.code)
		if err != nil {
			t.Fatalf("Exponent(%q): %v", tc.code, err)
		}
		if got != tc.want {
			t.Errorf("Exponent(%q) = %d, want %d", tc.code, got, tc.want)
		}
	}

	if _, err := Exponent("NOPE"); err == nil {
		t.Error("Exponent(NOPE) should fail")
	}
	if _, err := Exponent(""); err == nil {
		t.Error("Exponent(empty) should fail")
	}
}

func TestMaxAmountString(t *testing.T) {
	usd, err := MaxAmountString("USD")
	if err != nil {
		t.Fatal(err)
	}
	if usd != "999999999999999.99" {
		t.Errorf("USD max = %q", usd)
	}
	jpy, _ := MaxAmountString("JPY")
	if jpy != "999999999999999" {
		t.Errorf("JPY max = %q", jpy)
	}
	bhd, _ := MaxAmountString("BHD")
	if bhd != "999999999999999.999" {
		t.Errorf("BHD max = %q", bhd)
	}
}

// The max string must itself be representable, and one step past it must not.
func TestMaxAmountRoundTrip(t *testing.T) {
	for _, code := range []string{"USD", "JPY", "BHD", "CLF"} {
		max, err := MaxAmountString(code)
		if err != nil {
			t.Fatalf("MaxAmountString(%s): %v", code, err)
		}
		if ExceedsMaxAmount(max, code) {
			t.Errorf("%s: max string %q reported as exceeding", code, max)
		}
		if err := ValidateAmount(max, code); err != nil {
			t.Errorf("%s: max string %q failed validation: %v", code, max, err)
		}

		over := "1" + strings.Repeat("0", len(strings.SplitN(max, ".", 2)[0]))
		if !ExceedsMaxAmount(over, code) {
			t.Errorf("%s: %q should exceed", code, over)
		}
	}

	// Incrementing the last decimal digit of the USD max rolls over into a
	// 16-digit integer part.
	if !ExceedsMaxAmount("1000000000000000.00", "USD") {
		t.Error("USD max + 0.01 should exceed")
	}
	// A fraction past the exponent at the integer ceiling also exceeds.
	if !ExceedsMaxAmount("999999999999999.991", "USD") {
		t.Error("fraction beyond exponent at the ceiling should exceed")
	}
}

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		name    string
		amount  string
		code    string
		wantErr string
	}{
		{"empty", "", "USD", "required"},
		{"spaces", "   ", "USD", "required"},
		{"not a number", "12a.50", "USD", "valid number"},
		{"two dots", "1.2.3", "USD", "valid number"},
		{"negative", "-5", "USD", "valid number"},
		{"zero", "0", "USD", "greater than zero"},
		{"zero with fraction", "0.00", "USD", "greater than zero"},
		{"too many decimals", "10.123", "USD", "decimal places"},
		{"jpy fraction", "100.5", "JPY", "decimal places"},
		{"too large", "1000000000000000", "USD", "maximum"},
		{"ok", "10.50", "USD", ""},
		{"ok trailing zeros", "10.100", "USD", ""},
		{"ok jpy", "100", "JPY", ""},
		{"ok bhd", "1.234", "BHD", ""},
		{"ok bare dot fraction", ".5", "USD", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAmount(tc.amount, tc.code)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateAmount(%q, %s): %v", tc.amount, tc.code, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateAmount(%q, %s): expected error containing %q", tc.amount, tc.code, tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("ValidateAmount(%q, %s) = %q, want substring %q", tc.amount, tc.code, err, tc.wantErr)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("10.50", "USD")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "10.5" {
		t.Errorf("ParseAmount = %s", d)
	}
	if _, err := ParseAmount("10.50", "NOPE"); err == nil {
		t.Error("unknown currency should fail")
	}
	if _, err := ParseAmount("0", "USD"); err == nil {
		t.Error("zero should fail")
	}
}
