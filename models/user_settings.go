// models/user_settings.go
package models

import "time"

// UserSettings keeps per-user preferences. BaseCurrency is the reporting
// currency every aggregate is expressed in.
type UserSettings struct {
	UserID       string    `json:"user_id" gorm:"primaryKey"`
	BaseCurrency string    `json:"base_currency" gorm:"type:varchar(3);not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
