// models/wallet.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	WalletTypeCash    = "cash"
	WalletTypeBank    = "bank"
	WalletTypeDigital = "digital_wallet"
)

// ValidWalletType reports whether t is one of the supported wallet types.
func ValidWalletType(t string) bool {
	switch t {
	case WalletTypeCash, WalletTypeBank, WalletTypeDigital:
		return true
	}
	return false
}

// Wallet is a user account holding a balance in a single currency.
// CurrentBalance is cached: it must always equal StartingBalance plus the
// signed effects of every live transaction referencing the wallet.
type Wallet struct {
	ID               string          `json:"id" gorm:"primaryKey"`
	UserID           string          `json:"user_id" gorm:"not null;index"`
	Name             string          `json:"name" gorm:"not null"`
	Currency         string          `json:"currency" gorm:"type:varchar(3);not null"`
	Type             string          `json:"type" gorm:"type:varchar(16);not null"`
	Color            string          `json:"color,omitempty"`
	IconURL          string          `json:"icon_url,omitempty"`
	StartingBalance  decimal.Decimal `json:"starting_balance" gorm:"type:decimal(19,4);not null"`
	CurrentBalance   decimal.Decimal `json:"current_balance" gorm:"type:decimal(19,4);not null"`
	IncludeInBalance bool            `json:"include_in_balance" gorm:"default:true"`
	IsArchived       bool            `json:"is_archived" gorm:"default:false;index"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt        gorm.DeletedAt  `json:"-" gorm:"index"`
}

// AllowsOverdraft reports whether the wallet may carry a negative balance.
// Cash is a hard block; bank and digital wallets only warn.
func (w *Wallet) AllowsOverdraft() bool {
	return w.Type != WalletTypeCash
}
