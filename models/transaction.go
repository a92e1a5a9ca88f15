// models/transaction.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TransactionTypeIncome   = "income"
	TransactionTypeExpense  = "expense"
	TransactionTypeTransfer = "transfer"
)

// ValidTransactionType reports whether t is a user-creatable transaction type.
func ValidTransactionType(t string) bool {
	switch t {
	case TransactionTypeIncome, TransactionTypeExpense, TransactionTypeTransfer:
		return true
	}
	return false
}

// Transaction is one ledger entry. Amount is signed per wallet leg: negative
// for outflow (expense, transfer debit), positive for inflow. A transfer is a
// single row carrying both wallet references; Amount is the debit against
// WalletID in its currency and ToAmount the credit against ToWalletID in the
// destination wallet's currency.
//
// System rows (initial balance, balance adjustment) are immutable: users can
// neither edit nor delete them, and they never count toward income/expense
// totals.
type Transaction struct {
	ID         string  `json:"id" gorm:"primaryKey"`
	UserID     string  `json:"user_id" gorm:"not null;index"`
	Type       string  `json:"type" gorm:"type:varchar(16);not null;index"`
	IsSystem   bool    `json:"is_system" gorm:"default:false;index"`
	WalletID   string  `json:"wallet_id" gorm:"not null;index"`
	ToWalletID *string `json:"to_wallet_id,omitempty" gorm:"index"`
	CategoryID *string `json:"category_id,omitempty" gorm:"index"`

	Amount   decimal.Decimal  `json:"amount" gorm:"type:decimal(19,4);not null"`
	ToAmount *decimal.Decimal `json:"to_amount,omitempty" gorm:"type:decimal(19,4)"`
	Currency string           `json:"currency" gorm:"type:varchar(3);not null"`

	// Calendar date of the transaction, no time component.
	Date time.Time `json:"date" gorm:"type:date;not null;index"`

	Description string `json:"description"`

	// Populated only when the wallet currency differs from the user's base
	// currency (income/expense) or from the destination wallet's currency
	// (transfer).
	ExchangeRateUsed   *decimal.Decimal `json:"exchange_rate_used,omitempty" gorm:"type:decimal(24,10)"`
	ExchangeRateDate   *time.Time       `json:"exchange_rate_date,omitempty" gorm:"type:date"`
	ManualExchangeRate bool             `json:"manual_exchange_rate" gorm:"default:false"`

	// Cached conversion of Amount into the user's base currency at the rate
	// used, kept for report stability.
	BaseCurrencyAmount decimal.Decimal `json:"base_currency_amount" gorm:"type:decimal(19,4)"`

	Tags []Tag `json:"tags,omitempty" gorm:"many2many:transaction_tags"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// MaxTagsPerTransaction caps the combined suggested + custom tags on one row.
const MaxTagsPerTransaction = 5

// SignedEffectOn returns the balance effect of the transaction on the given
// wallet, zero when the wallet is not a leg of it. Initial-balance system
// rows have zero effect: their value already lives in Wallet.StartingBalance
// and they exist only as history.
func (t *Transaction) SignedEffectOn(walletID string, initialBalanceCategoryID string) decimal.Decimal {
	if t.IsSystem && t.CategoryID != nil && *t.CategoryID == initialBalanceCategoryID {
		return decimal.Zero
	}
	if t.WalletID == walletID {
		return t.Amount
	}
	if t.ToWalletID != nil && *t.ToWalletID == walletID && t.ToAmount != nil {
		return *t.ToAmount
	}
	return decimal.Zero
}
