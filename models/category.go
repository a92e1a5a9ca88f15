// models/category.go
package models

import "time"

// Slugs of the two system categories. Their rows are seeded at boot and are
// excluded from user-facing pickers.
const (
	CategorySlugInitialBalance    = "initial-balance"
	CategorySlugBalanceAdjustment = "balance-adjustment"
)

// Category classifies income/expense transactions. Rows with an empty UserID
// are global defaults shared by every user.
type Category struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id,omitempty" gorm:"uniqueIndex:idx_category_user_slug,priority:1"`
	Name      string    `json:"name" gorm:"not null"`
	Slug      string    `json:"slug" gorm:"not null;uniqueIndex:idx_category_user_slug,priority:2"`
	Type      string    `json:"type" gorm:"type:varchar(16);not null"` // income or expense
	Color     string    `json:"color,omitempty"`
	IsSystem  bool      `json:"is_system" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Tag is a free-form label attached to transactions, unique per user by name.
type Tag struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;uniqueIndex:idx_tag_user_name,priority:1"`
	Name      string    `json:"name" gorm:"not null;uniqueIndex:idx_tag_user_name,priority:2"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
