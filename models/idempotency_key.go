// models/idempotency_key.go
package models

import "time"

// IdempotencyKey records the outcome of a committed ledger mutation so that a
// retried request with the same key replays the stored response instead of
// re-applying balance effects. Rows are created in the same DB transaction as
// the first commit (the unique index is the check-and-set) and pruned after
// their TTL by the maintenance scheduler.
type IdempotencyKey struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	Response  string    `json:"-" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}
