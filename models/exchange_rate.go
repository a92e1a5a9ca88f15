// models/exchange_rate.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RateSourceProvider = "provider"
	RateSourceManual   = "manual"
)

// ExchangeRate stores one (date, from, to) -> rate quote. The table is
// sparse: not every date has a row, so the resolver falls back to the most
// recent prior rate and classifies its staleness.
type ExchangeRate struct {
	ID           string          `json:"id" gorm:"primaryKey"`
	RateDate     time.Time       `json:"rate_date" gorm:"type:date;not null;uniqueIndex:idx_rate_day,priority:1"`
	FromCurrency string          `json:"from_currency" gorm:"type:varchar(3);not null;uniqueIndex:idx_rate_day,priority:2"`
	ToCurrency   string          `json:"to_currency" gorm:"type:varchar(3);not null;uniqueIndex:idx_rate_day,priority:3"`
	Rate         decimal.Decimal `json:"rate" gorm:"type:decimal(24,10);not null"`
	Source       string          `json:"source" gorm:"type:varchar(16);default:'provider'"`
	CreatedAt    time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}
