package services

import (
	"time"

	"budget-ledger-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AggregateService derives per-period totals and net worth from the
// transaction set. Period totals come from each row's stored base-currency
// amount for report stability; net worth re-resolves rates at read time.
type AggregateService struct {
	DB    *gorm.DB
	Rates *RateService
}

func NewAggregateService(db *gorm.DB, rates *RateService) *AggregateService {
	return &AggregateService{DB: db, Rates: rates}
}

// Totals sums income and expenses in the user's base currency over an
// optional wallet, date range, and category. Transfers and system rows are
// excluded by definition.
type Totals struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
	Currency string          `json:"currency"`
}

type CategoryTotal struct {
	CategoryID string          `json:"category_id"`
	Name       string          `json:"name"`
	Color      string          `json:"color,omitempty"`
	Total      decimal.Decimal `json:"total"`
}

func (s *AggregateService) ComputeTotals(userID, walletID string, from, to *time.Time, categoryID string) (*Totals, []CategoryTotal, error) {
	base, lerr := s.Rates.baseCurrency(userID)
	if lerr != nil {
		return nil, nil, lerr
	}

	q := s.DB.Where("user_id = ? AND is_system = false AND type IN ?",
		userID, []string{models.TransactionTypeIncome, models.TransactionTypeExpense})
	if walletID != "" {
		q = q.Where("wallet_id = ?", walletID)
	}
	if categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	}
	if from != nil {
		q = q.Where("date >= ?", dateOnly(*from))
	}
	if to != nil {
		q = q.Where("date <= ?", dateOnly(*to))
	}

	var txns []models.Transaction
	if err := q.Find(&txns).Error; err != nil {
		return nil, nil, storageErr(err)
	}

	totals := &Totals{Income: decimal.Zero, Expenses: decimal.Zero, Currency: base}
	byCategory := map[string]decimal.Decimal{}
	for i := range txns {
		t := &txns[i]
		// Stored conversions keep reports stable as rates move.
		amount := t.BaseCurrencyAmount
		if t.Type == models.TransactionTypeIncome {
			totals.Income = totals.Income.Add(amount)
		} else {
			totals.Expenses = totals.Expenses.Add(amount.Abs())
		}
		if t.CategoryID != nil {
			byCategory[*t.CategoryID] = byCategory[*t.CategoryID].Add(amount.Abs())
		}
	}
	totals.Net = totals.Income.Sub(totals.Expenses)

	var breakdown []CategoryTotal
	if len(byCategory) > 0 {
		ids := make([]string, 0, len(byCategory))
		for id := range byCategory {
			ids = append(ids, id)
		}
		var categories []models.Category
		if err := s.DB.Where("id IN ?", ids).Find(&categories).Error; err != nil {
			return nil, nil, storageErr(err)
		}
		for _, cat := range categories {
			breakdown = append(breakdown, CategoryTotal{
				CategoryID: cat.ID,
				Name:       cat.Name,
				Color:      cat.Color,
				Total:      byCategory[cat.ID],
			})
		}
	}
	return totals, breakdown, nil
}

// NetWorthResult is the base-currency sum of all counted wallet balances.
// Wallets whose currency has no resolvable rate go in Unresolved rather than
// being silently dropped.
type NetWorthResult struct {
	NetWorth   decimal.Decimal `json:"net_worth"`
	Currency   string          `json:"currency"`
	Unresolved []string        `json:"unresolved,omitempty"`
}

func (s *AggregateService) NetWorth(userID string) (*NetWorthResult, error) {
	base, lerr := s.Rates.baseCurrency(userID)
	if lerr != nil {
		return nil, lerr
	}

	var wallets []models.Wallet
	err := s.DB.Where("user_id = ? AND include_in_balance = true AND is_archived = false", userID).
		Find(&wallets).Error
	if err != nil {
		return nil, storageErr(err)
	}

	result := &NetWorthResult{NetWorth: decimal.Zero, Currency: base}
	today := dateOnly(time.Now())
	for i := range wallets {
		w := &wallets[i]
		if w.Currency == base {
			result.NetWorth = result.NetWorth.Add(w.CurrentBalance)
			continue
		}
		res, err := s.Rates.Resolve(today, w.Currency, base)
		if err != nil {
			return nil, err
		}
		if res.RequiresManualInput {
			result.Unresolved = append(result.Unresolved, w.ID)
			continue
		}
		result.NetWorth = result.NetWorth.Add(w.CurrentBalance.Mul(res.Rate).Round(4))
	}
	return result, nil
}

// --- fiber handlers ---

// GetTotals handles GET /api/analytics/totals.
func (s *AggregateService) GetTotals(c *fiber.Ctx) error {
	var from, to *time.Time
	if v := c.Query("from"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return respondErr(c, validationErr("invalid from date"))
		}
		from = &d
	}
	if v := c.Query("to"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return respondErr(c, validationErr("invalid to date"))
		}
		to = &d
	}

	totals, breakdown, err := s.ComputeTotals(userIDFromCtx(c), c.Query("walletId"), from, to, c.Query("categoryId"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"summary": totals, "byCategory": breakdown})
}

// GetNetWorth handles GET /api/analytics/net-worth.
func (s *AggregateService) GetNetWorth(c *fiber.Ctx) error {
	result, err := s.NetWorth(userIDFromCtx(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(result)
}
