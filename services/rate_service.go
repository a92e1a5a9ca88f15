package services

import (
	"errors"
	"fmt"
	"time"

	"budget-ledger-service/currency"
	"budget-ledger-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Staleness classification of a resolved historical rate.
const (
	SeverityExactMatch = "exactMatch"
	SeverityRecent     = "recent"   // 1-7 days old
	SeverityOutdated   = "outdated" // 8-30 days old
	SeverityOld        = "old"      // older than 30 days
	SeverityCritical   = "critical" // nothing within the lookback window
)

type RateService struct {
	DB *gorm.DB

	// Staleness thresholds in days. The defaults mirror the transaction
	// form's banner rules but are env-tunable, not a fixed contract.
	RecentDays   int
	OutdatedDays int
	LookbackDays int
}

func NewRateService(db *gorm.DB) *RateService {
	return &RateService{
		DB:           db,
		RecentDays:   envInt("RATE_RECENT_DAYS", 7),
		OutdatedDays: envInt("RATE_OUTDATED_DAYS", 30),
		LookbackDays: envInt("RATE_LOOKBACK_DAYS", 365),
	}
}

// RateResolution is the outcome of a historical rate lookup. A critical
// resolution carries no rate; the caller must supply one manually before the
// transaction can commit.
type RateResolution struct {
	Rate                decimal.Decimal `json:"rate"`
	RateDate            time.Time       `json:"rate_date"`
	Severity            string          `json:"severity"`
	ExactMatch          bool            `json:"exact_match"`
	RequiresManualInput bool            `json:"requires_manual_input"`
}

// Resolve finds the rate applicable to a transaction dated on date. An exact
// row wins; otherwise the most recent prior row within the lookback window is
// used and classified by age.
func (s *RateService) Resolve(date time.Time, from, to string) (*RateResolution, error) {
	day := dateOnly(date)
	if from == to {
		return &RateResolution{
			Rate:       decimal.NewFromInt(1),
			RateDate:   day,
			Severity:   SeverityExactMatch,
			ExactMatch: true,
		}, nil
	}

	var row models.ExchangeRate
	err := s.DB.Where("from_currency = ? AND to_currency = ? AND rate_date = ?", from, to, day).
		First(&row).Error
	if err == nil {
		return &RateResolution{
			Rate:       row.Rate,
			RateDate:   row.RateDate,
			Severity:   SeverityExactMatch,
			ExactMatch: true,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr(err)
	}

	cutoff := day.AddDate(0, 0, -s.LookbackDays)
	err = s.DB.Where("from_currency = ? AND to_currency = ? AND rate_date < ? AND rate_date >= ?",
		from, to, day, cutoff).
		Order("rate_date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &RateResolution{Severity: SeverityCritical, RequiresManualInput: true}, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}

	ageDays := int(day.Sub(dateOnly(row.RateDate)).Hours() / 24)
	severity := SeverityOld
	switch {
	case ageDays <= s.RecentDays:
		severity = SeverityRecent
	case ageDays <= s.OutdatedDays:
		severity = SeverityOutdated
	}
	return &RateResolution{
		Rate:     row.Rate,
		RateDate: row.RateDate,
		Severity: severity,
	}, nil
}

// GetAvailability answers the transaction form's probe: what rate would apply
// on this date for converting the given currency into the user's base
// currency, and how stale is it.
// GET /api/exchange-rates/availability?date=YYYY-MM-DD&currency=EUR
func (s *RateService) GetAvailability(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	code, err := currency.Normalize(c.Query("currency"))
	if err != nil {
		return respondErr(c, validationErr("invalid currency: %v", err))
	}
	date, err := parseDate(c.Query("date"))
	if err != nil {
		return respondErr(c, validationErr("invalid date (use YYYY-MM-DD)"))
	}

	base, lerr := s.baseCurrency(userID)
	if lerr != nil {
		return respondErr(c, lerr)
	}

	res, err := s.Resolve(date, code, base)
	if err != nil {
		return respondErr(c, err)
	}

	body := fiber.Map{
		"exactMatch":          res.ExactMatch,
		"requiresManualInput": res.RequiresManualInput,
		"severity":            res.Severity,
	}
	if res.Severity != SeverityCritical {
		body["rateDate"] = res.RateDate.Format(dateLayout)
		body["rateDisplay"] = fmt.Sprintf("1 %s = %s %s", code, res.Rate.String(), base)
	}
	return c.JSON(body)
}

// UpsertRate stores a user-entered rate so future lookups on that date are
// exact. PUT /api/exchange-rates
func (s *RateService) UpsertRate(c *fiber.Ctx) error {
	var req struct {
		Date         string `json:"date"`
		FromCurrency string `json:"fromCurrency"`
		ToCurrency   string `json:"toCurrency"`
		Rate         string `json:"rate"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}

	from, err := currency.Normalize(req.FromCurrency)
	if err != nil {
		return respondErr(c, validationErr("invalid fromCurrency: %v", err))
	}
	to, err := currency.Normalize(req.ToCurrency)
	if err != nil {
		return respondErr(c, validationErr("invalid toCurrency: %v", err))
	}
	if from == to {
		return respondErr(c, validationErr("fromCurrency and toCurrency must differ"))
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return respondErr(c, validationErr("invalid date (use YYYY-MM-DD)"))
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil || !rate.IsPositive() {
		return respondErr(c, validationErr("rate must be a positive decimal string"))
	}

	row := models.ExchangeRate{
		ID:           uuid.NewString(),
		RateDate:     dateOnly(date),
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
		Source:       models.RateSourceManual,
	}
	err = s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rate_date"}, {Name: "from_currency"}, {Name: "to_currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "source", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.Status(fiber.StatusOK).JSON(row)
}

// baseCurrency returns the user's reporting currency, falling back to the
// service-wide default when the user has no settings row yet.
func (s *RateService) baseCurrency(userID string) (string, *LedgerError) {
	var settings models.UserSettings
	err := s.DB.Where("user_id = ?", userID).First(&settings).Error
	if err == nil {
		return settings.BaseCurrency, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", storageErr(err)
	}
	return DefaultBaseCurrency(), nil
}
