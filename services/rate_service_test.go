package services

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveSameCurrency(t *testing.T) {
	db := newTestDB(t)
	rates := NewRateService(db)

	res, err := rates.Resolve(daysAgo(0), "USD", "USD")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.ExactMatch || !res.Rate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("same currency should be identity, got %+v", res)
	}
}

func TestResolveStaleness(t *testing.T) {
	db := newTestDB(t)
	rates := NewRateService(db)

	// One pair per case so lookups cannot bleed into each other.
	cases := []struct {
		name         string
		to           string
		ageDays      int
		wantSeverity string
		wantExact    bool
	}{
		{"exact match", "EUR", 0, SeverityExactMatch, true},
		{"five days old", "GBP", 5, SeverityRecent, false},
		{"ten days old", "JPY", 10, SeverityOutdated, false},
		{"forty-five days old", "CHF", 45, SeverityOld, false},
	}
	for _, tc := range cases {
		seedRate(t, db, daysAgo(tc.ageDays), "USD", tc.to, "0.5")
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rates.Resolve(daysAgo(0), "USD", tc.to)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if res.Severity != tc.wantSeverity {
				t.Fatalf("severity = %s, want %s", res.Severity, tc.wantSeverity)
			}
			if res.ExactMatch != tc.wantExact {
				t.Fatalf("exact match = %v, want %v", res.ExactMatch, tc.wantExact)
			}
			if res.RequiresManualInput {
				t.Fatal("a found rate must not require manual input")
			}
			if !dateOnly(res.RateDate).Equal(daysAgo(tc.ageDays)) {
				t.Fatalf("rate date = %s, want %s", res.RateDate, daysAgo(tc.ageDays))
			}
		})
	}
}

func TestResolveCritical(t *testing.T) {
	db := newTestDB(t)
	rates := NewRateService(db)

	// No rate at all.
	res, err := rates.Resolve(daysAgo(0), "USD", "AUD")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Severity != SeverityCritical || !res.RequiresManualInput {
		t.Fatalf("missing rate should be critical with manual input, got %+v", res)
	}

	// A rate outside the lookback window counts as missing.
	seedRate(t, db, daysAgo(400), "USD", "CAD", "0.7")
	res, err = rates.Resolve(daysAgo(0), "USD", "CAD")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Severity != SeverityCritical || !res.RequiresManualInput {
		t.Fatalf("out-of-window rate should be critical, got %+v", res)
	}
}

func TestResolvePicksMostRecentPrior(t *testing.T) {
	db := newTestDB(t)
	rates := NewRateService(db)

	seedRate(t, db, daysAgo(20), "USD", "EUR", "0.8")
	seedRate(t, db, daysAgo(3), "USD", "EUR", "0.9")
	// A future quote must never apply to an earlier transaction date.
	seedRate(t, db, daysAgo(0), "USD", "EUR", "0.95")

	res, err := rates.Resolve(daysAgo(1), "USD", "EUR")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Rate.Equal(decimal.RequireFromString("0.9")) {
		t.Fatalf("rate = %s, want 0.9 (most recent prior)", res.Rate)
	}
	if res.Severity != SeverityRecent {
		t.Fatalf("severity = %s, want %s", res.Severity, SeverityRecent)
	}
}
