package services

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"budget-ledger-service/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB opens a fresh in-memory database with the full schema and the
// seeded system categories. Each call gets its own named memory DB so tests
// stay isolated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledgertest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Wallet{},
		&models.Transaction{},
		&models.Category{},
		&models.Tag{},
		&models.ExchangeRate{},
		&models.UserSettings{},
		&models.IdempotencyKey{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	if err := SeedReferenceData(db); err != nil {
		t.Fatalf("seed reference data: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T) (*gorm.DB, *LedgerService) {
	t.Helper()
	db := newTestDB(t)
	rates := NewRateService(db)
	return db, NewLedgerService(db, rates)
}

func makeWallet(t *testing.T, db *gorm.DB, userID, name, code, walletType, starting string) *models.Wallet {
	t.Helper()
	ws := NewWalletService(db, NewRateService(db))
	w, err := ws.CreateWalletForUser(userID, &WalletRequest{
		Name:            name,
		Currency:        code,
		Type:            walletType,
		StartingBalance: starting,
	})
	if err != nil {
		t.Fatalf("create wallet %s: %v", name, err)
	}
	return w
}

func categoryBySlug(t *testing.T, db *gorm.DB, categorySlug string) *models.Category {
	t.Helper()
	var cat models.Category
	if err := db.Where("slug = ?", categorySlug).First(&cat).Error; err != nil {
		t.Fatalf("category %q: %v", categorySlug, err)
	}
	return &cat
}

func seedRate(t *testing.T, db *gorm.DB, day time.Time, from, to, rate string) {
	t.Helper()
	row := models.ExchangeRate{
		ID:           uuid.NewString(),
		RateDate:     day,
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         decimal.RequireFromString(rate),
		Source:       models.RateSourceProvider,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed rate %s->%s: %v", from, to, err)
	}
}

func daysAgo(n int) time.Time {
	return dateOnly(time.Now().AddDate(0, 0, -n))
}

func todayStr() string {
	return dateOnly(time.Now()).Format(dateLayout)
}

func assertBalance(t *testing.T, db *gorm.DB, walletID, want string) {
	t.Helper()
	var w models.Wallet
	if err := db.First(&w, "id = ?", walletID).Error; err != nil {
		t.Fatalf("reload wallet %s: %v", walletID, err)
	}
	if !w.CurrentBalance.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("wallet %s balance = %s, want %s", w.Name, w.CurrentBalance, want)
	}
}

// assertInvariant checks the cached balance against the derived one.
func assertInvariant(t *testing.T, s *LedgerService, userID, walletID string) {
	t.Helper()
	derived, err := s.RecomputeBalance(userID, walletID)
	if err != nil {
		t.Fatalf("recompute balance: %v", err)
	}
	var w models.Wallet
	if err := s.DB.First(&w, "id = ?", walletID).Error; err != nil {
		t.Fatalf("reload wallet: %v", err)
	}
	if !derived.Equal(w.CurrentBalance) {
		t.Fatalf("balance drift on %s: cached=%s derived=%s", w.Name, w.CurrentBalance, derived)
	}
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var lerr *LedgerError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LedgerError, got %T: %v", err, err)
	}
	if lerr.Kind != kind {
		t.Fatalf("error kind = %s (%q), want %s", lerr.Kind, lerr.Message, kind)
	}
}
