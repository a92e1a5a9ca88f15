package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"budget-ledger-service/models"
	"budget-ledger-service/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateSyncClient polls an external FX provider for daily quotes and upserts
// them into the exchange_rates table. The resolver works off whatever rows
// exist, so the worker is optional: without RATE_PROVIDER_URL the table is
// fed only by manual entry.
type RateSyncClient struct {
	BaseURL    string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewRateSyncClient(db *gorm.DB) *RateSyncClient {
	baseURL := os.Getenv("RATE_PROVIDER_URL")
	if baseURL == "" {
		return nil
	}
	return &RateSyncClient{
		BaseURL:    baseURL,
		HTTPClient: utils.HTTPClient,
		DB:         db,
	}
}

// providerResponse mirrors the common "latest rates" payload shape:
// {"base":"USD","date":"2026-08-30","rates":{"EUR":0.9234,...}}.
// Rates decode as json.Number so the decimal conversion is lossless.
type providerResponse struct {
	Base  string                 `json:"base"`
	Date  string                 `json:"date"`
	Rates map[string]json.Number `json:"rates"`
}

// FetchLatest asks the provider for the latest quotes against base.
func (c *RateSyncClient) FetchLatest(ctx context.Context, base string) (*providerResponse, error) {
	u, err := url.Parse(fmt.Sprintf("%s/latest", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider URL: %w", err)
	}
	q := u.Query()
	q.Set("base", base)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rate provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rate provider returned status %d: %s", resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var out providerResponse
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return &out, nil
}

// baseCurrencies returns every currency the system needs quotes from: all
// wallet currencies plus every user's base currency.
func (c *RateSyncClient) baseCurrencies() ([]string, error) {
	var codes []string
	err := c.DB.Model(&models.Wallet{}).Distinct("currency").Pluck("currency", &codes).Error
	if err != nil {
		return nil, err
	}
	var bases []string
	err = c.DB.Model(&models.UserSettings{}).Distinct("base_currency").Pluck("base_currency", &bases).Error
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []string
	for _, code := range append(codes, bases...) {
		if code != "" && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out, nil
}

// SyncOnce fetches and stores today's quotes for every needed currency pair.
func (c *RateSyncClient) SyncOnce(ctx context.Context) error {
	bases, err := c.baseCurrencies()
	if err != nil {
		return fmt.Errorf("failed to list currencies: %w", err)
	}

	for _, base := range bases {
		quotes, err := c.FetchLatest(ctx, base)
		if err != nil {
			log.Printf("❌ [RATE_SYNC] fetch for base %s failed: %v", base, err)
			continue
		}
		day, err := time.Parse("2006-01-02", quotes.Date)
		if err != nil {
			log.Printf("❌ [RATE_SYNC] provider date %q unparseable: %v", quotes.Date, err)
			continue
		}
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

		var rows []models.ExchangeRate
		for to, raw := range quotes.Rates {
			if to == base {
				continue
			}
			rate, derr := decimal.NewFromString(raw.String())
			if derr != nil || !rate.IsPositive() {
				continue
			}
			rows = append(rows, models.ExchangeRate{
				ID:           uuid.NewString(),
				RateDate:     day,
				FromCurrency: base,
				ToCurrency:   to,
				Rate:         rate,
				Source:       models.RateSourceProvider,
			})
		}
		if len(rows) == 0 {
			continue
		}

		// Manual rows win: a user-entered rate is not clobbered by the feed.
		err = c.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "rate_date"}, {Name: "from_currency"}, {Name: "to_currency"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"rate": gorm.Expr("CASE WHEN exchange_rates.source = 'manual' THEN exchange_rates.rate ELSE excluded.rate END"),
			}),
		}).Create(&rows).Error
		if err != nil {
			log.Printf("❌ [RATE_SYNC] upsert for base %s failed: %v", base, err)
			continue
		}
		log.Printf("📥 [RATE_SYNC] stored %d quote(s) for %s on %s", len(rows), base, quotes.Date)
	}
	return nil
}

// PollRates runs SyncOnce on a fixed interval until the context ends.
func PollRates(ctx context.Context, client *RateSyncClient, pollInterval time.Duration) {
	log.Println("Starting exchange-rate polling...")

	// Prime immediately so a fresh deploy has today's rates.
	if err := client.SyncOnce(ctx); err != nil {
		log.Printf("❌ [RATE_SYNC] initial sync failed: %v", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Exchange-rate polling stopped.")
			return
		case <-ticker.C:
			if err := client.SyncOnce(ctx); err != nil {
				log.Printf("❌ [RATE_SYNC] sync failed: %v", err)
			}
		}
	}
}
