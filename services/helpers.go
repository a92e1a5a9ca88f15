package services

import (
	"errors"
	"os"
	"strconv"
	"time"

	"budget-ledger-service/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dateLayout is the calendar-date wire format; transactions carry no time
// component.
const dateLayout = "2006-01-02"

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// userIDFromCtx returns the user identity placed by the context middleware.
func userIDFromCtx(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}

// forUpdate adds a row lock on dialects that support it. SQLite (tests) has
// no FOR UPDATE; its writes are serialized by the engine anyway.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// lockedWallet fetches a user's wallet under a row lock held for the rest of
// the enclosing DB transaction.
func lockedWallet(tx *gorm.DB, userID, walletID string) (*models.Wallet, error) {
	var w models.Wallet
	err := forUpdate(tx).Where("id = ? AND user_id = ?", walletID, userID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationErr("wallet %s not found", walletID)
		}
		return nil, storageErr(err)
	}
	return &w, nil
}
