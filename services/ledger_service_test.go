package services

import (
	"strings"
	"testing"

	"budget-ledger-service/models"

	"github.com/shopspring/decimal"
)

const testUser = "user-1"

func TestCreateExpense(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")

	res, replayed, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "40",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	if replayed {
		t.Fatal("fresh create reported as replayed")
	}
	if !res.Transaction.Amount.Equal(decimal.RequireFromString("-40")) {
		t.Fatalf("amount = %s, want -40", res.Transaction.Amount)
	}
	if !res.Transaction.BaseCurrencyAmount.Equal(decimal.RequireFromString("-40")) {
		t.Fatalf("base amount = %s, want -40", res.Transaction.BaseCurrencyAmount)
	}
	assertBalance(t, db, wallet.ID, "60")
	assertInvariant(t, ledger, testUser, wallet.ID)
}

func TestCashOverdraftBlocked(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")

	_, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "150",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	assertKind(t, err, KindOverdraftBlocked)

	// Nothing committed: balance untouched, no user rows.
	assertBalance(t, db, wallet.ID, "100")
	var count int64
	db.Model(&models.Transaction{}).Where("user_id = ? AND is_system = false", testUser).Count(&count)
	if count != 0 {
		t.Fatalf("blocked create left %d transaction(s)", count)
	}
}

func TestBankOverdraftWarns(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Checking", "USD", models.WalletTypeBank, "100")
	groceries := categoryBySlug(t, db, "groceries")

	res, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "150",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("bank overdraft should commit with a warning: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "overdrawn") {
		t.Fatalf("warnings = %v, want one overdraft warning", res.Warnings)
	}
	assertBalance(t, db, wallet.ID, "-50")
	assertInvariant(t, ledger, testUser, wallet.ID)
}

func TestTransferSameCurrency(t *testing.T) {
	db, ledger := newTestLedger(t)
	from := makeWallet(t, db, testUser, "Checking", "USD", models.WalletTypeBank, "200")
	to := makeWallet(t, db, testUser, "Savings", "USD", models.WalletTypeBank, "50")

	res, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:         models.TransactionTypeTransfer,
		Amount:       "75",
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Date:         todayStr(),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	txn := res.Transaction
	if !txn.Amount.Equal(decimal.RequireFromString("-75")) {
		t.Fatalf("debit leg = %s, want -75", txn.Amount)
	}
	if txn.ToAmount == nil || !txn.ToAmount.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("credit leg = %v, want 75", txn.ToAmount)
	}
	if txn.ExchangeRateUsed != nil {
		t.Fatal("same-currency transfer should carry no rate")
	}

	// One row, two legs.
	var count int64
	db.Model(&models.Transaction{}).Where("user_id = ? AND type = ?", testUser, models.TransactionTypeTransfer).Count(&count)
	if count != 1 {
		t.Fatalf("transfer rows = %d, want 1", count)
	}
	assertBalance(t, db, from.ID, "125")
	assertBalance(t, db, to.ID, "125")
	assertInvariant(t, ledger, testUser, from.ID)
	assertInvariant(t, ledger, testUser, to.ID)
}

func TestTransferCrossCurrency(t *testing.T) {
	db, ledger := newTestLedger(t)
	from := makeWallet(t, db, testUser, "Checking", "USD", models.WalletTypeBank, "200")
	to := makeWallet(t, db, testUser, "Euro Account", "EUR", models.WalletTypeBank, "0")
	rateDay := daysAgo(5)
	seedRate(t, db, rateDay, "USD", "EUR", "0.9")

	res, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:         models.TransactionTypeTransfer,
		Amount:       "100",
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		Date:         todayStr(),
	})
	if err != nil {
		t.Fatalf("cross-currency transfer: %v", err)
	}
	txn := res.Transaction
	if txn.ToAmount == nil || !txn.ToAmount.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("credit leg = %v, want 90", txn.ToAmount)
	}
	if txn.ExchangeRateUsed == nil || !txn.ExchangeRateUsed.Equal(decimal.RequireFromString("0.9")) {
		t.Fatalf("rate = %v, want 0.9", txn.ExchangeRateUsed)
	}
	if txn.ExchangeRateDate == nil || !dateOnly(*txn.ExchangeRateDate).Equal(rateDay) {
		t.Fatalf("rate date = %v, want %s", txn.ExchangeRateDate, rateDay)
	}
	if txn.ManualExchangeRate {
		t.Fatal("resolved rate flagged as manual")
	}
	// The 5-day-old rate is usable but flagged.
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], SeverityRecent) {
		t.Fatalf("warnings = %v, want one recent-rate warning", res.Warnings)
	}
	assertBalance(t, db, from.ID, "100")
	assertBalance(t, db, to.ID, "90")
	assertInvariant(t, ledger, testUser, to.ID)
}

func TestCrossCurrencyWithoutRate(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Euro Account", "EUR", models.WalletTypeBank, "500")
	groceries := categoryBySlug(t, db, "groceries")

	// Base currency is USD and no EUR/USD rate exists.
	_, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "50",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	assertKind(t, err, KindExchangeRateRequired)
	assertBalance(t, db, wallet.ID, "500")
}

func TestManualExchangeRate(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Euro Account", "EUR", models.WalletTypeBank, "500")
	groceries := categoryBySlug(t, db, "groceries")

	res, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:               models.TransactionTypeExpense,
		Amount:             "50",
		WalletID:           wallet.ID,
		Category:           groceries.ID,
		Date:               todayStr(),
		ManualExchangeRate: "1.1",
	})
	if err != nil {
		t.Fatalf("manual rate create: %v", err)
	}
	if !res.Transaction.ManualExchangeRate {
		t.Fatal("manual rate not flagged")
	}
	if !res.Transaction.BaseCurrencyAmount.Equal(decimal.RequireFromString("-55")) {
		t.Fatalf("base amount = %s, want -55", res.Transaction.BaseCurrencyAmount)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("manual rate should not warn, got %v", res.Warnings)
	}
	assertBalance(t, db, wallet.ID, "450")
}

func TestIdempotentReplay(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")
	req := &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "40",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	}

	first, replayed, err := ledger.Create(testUser, "key-1", req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if replayed {
		t.Fatal("first create reported as replayed")
	}

	second, replayed, err := ledger.Create(testUser, "key-1", req)
	if err != nil {
		t.Fatalf("retried create: %v", err)
	}
	if !replayed {
		t.Fatal("retry not reported as replayed")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay returned a different transaction: %s vs %s", second.Transaction.ID, first.Transaction.ID)
	}

	// The balance was debited exactly once and only one row exists.
	assertBalance(t, db, wallet.ID, "60")
	var count int64
	db.Model(&models.Transaction{}).Where("user_id = ? AND is_system = false", testUser).Count(&count)
	if count != 1 {
		t.Fatalf("transactions = %d, want 1", count)
	}
}

func TestUpdateMovesEffectBetweenWallets(t *testing.T) {
	db, ledger := newTestLedger(t)
	a := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	b := makeWallet(t, db, testUser, "Checking", "USD", models.WalletTypeBank, "100")
	groceries := categoryBySlug(t, db, "groceries")

	created, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "40",
		WalletID: a.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, _, err := ledger.Update(testUser, created.Transaction.ID, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "25",
		WalletID: b.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Transaction.ID != created.Transaction.ID {
		t.Fatal("update must keep the transaction ID")
	}

	assertBalance(t, db, a.ID, "100")
	assertBalance(t, db, b.ID, "75")
	assertInvariant(t, ledger, testUser, a.ID)
	assertInvariant(t, ledger, testUser, b.ID)
}

func TestDeleteReversesEffect(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")

	created, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "40",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ledger.Delete(testUser, created.Transaction.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertBalance(t, db, wallet.ID, "100")

	var count int64
	db.Model(&models.Transaction{}).Where("id = ?", created.Transaction.ID).Count(&count)
	if count != 0 {
		t.Fatal("deleted transaction still visible")
	}
}

func TestSystemTransactionImmutable(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")

	var sysRow models.Transaction
	if err := db.Where("user_id = ? AND is_system = true", testUser).First(&sysRow).Error; err != nil {
		t.Fatalf("load initial balance row: %v", err)
	}

	err := ledger.Delete(testUser, sysRow.ID)
	assertKind(t, err, KindValidation)

	groceries := categoryBySlug(t, db, "groceries")
	_, _, err = ledger.Update(testUser, sysRow.ID, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "10",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	assertKind(t, err, KindValidation)
	assertBalance(t, db, wallet.ID, "100")
}

func TestBulkDeleteSkipsSystemRows(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")

	created, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "30",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var sysRow models.Transaction
	if err := db.Where("user_id = ? AND is_system = true", testUser).First(&sysRow).Error; err != nil {
		t.Fatalf("load initial balance row: %v", err)
	}

	deleted, err := ledger.BulkDelete(testUser, []string{created.Transaction.ID, sysRow.ID})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1 (system row skipped)", deleted)
	}
	assertBalance(t, db, wallet.ID, "100")
	assertInvariant(t, ledger, testUser, wallet.ID)
}

func TestTransactionDateBeforeWalletCreation(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")

	_, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "10",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     "2000-01-01",
	})
	assertKind(t, err, KindValidation)
}

func TestArchivedWalletRejected(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Old Pocket", "USD", models.WalletTypeCash, "100")
	if err := db.Model(&models.Wallet{}).Where("id = ?", wallet.ID).Update("is_archived", true).Error; err != nil {
		t.Fatalf("archive wallet: %v", err)
	}
	groceries := categoryBySlug(t, db, "groceries")

	_, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "10",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	})
	assertKind(t, err, KindValidation)
}

func TestConvertedAmountExceedsCap(t *testing.T) {
	db, ledger := newTestLedger(t)
	from := makeWallet(t, db, testUser, "Checking", "USD", models.WalletTypeBank, "100")
	to := makeWallet(t, db, testUser, "Rupiah", "IDR", models.WalletTypeBank, "0")

	// The request amount sits at the cap, so a large rate pushes the credit
	// leg past what the amount columns can hold.
	_, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:               models.TransactionTypeTransfer,
		Amount:             "999999999999999",
		FromWalletID:       from.ID,
		ToWalletID:         to.ID,
		Date:               todayStr(),
		ManualExchangeRate: "100000",
	})
	assertKind(t, err, KindValidation)
	assertBalance(t, db, from.ID, "100")
	assertBalance(t, db, to.ID, "0")
}

func TestDeleteIncomeBlockedByCashFloor(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "")
	salary := categoryBySlug(t, db, "salary")
	groceries := categoryBySlug(t, db, "groceries")

	income, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeIncome,
		Amount:   "100",
		WalletID: wallet.ID,
		Category: salary.ID,
		Date:     todayStr(),
	})
	if err != nil {
		t.Fatalf("create income: %v", err)
	}
	if _, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:     models.TransactionTypeExpense,
		Amount:   "80",
		WalletID: wallet.ID,
		Category: groceries.ID,
		Date:     todayStr(),
	}); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	assertBalance(t, db, wallet.ID, "20")

	// Reversing the income would leave the cash wallet at -80.
	err = ledger.Delete(testUser, income.Transaction.ID)
	assertKind(t, err, KindOverdraftBlocked)
	assertBalance(t, db, wallet.ID, "20")

	var count int64
	db.Model(&models.Transaction{}).Where("id = ?", income.Transaction.ID).Count(&count)
	if count != 1 {
		t.Fatal("blocked delete removed the income row")
	}
	assertInvariant(t, ledger, testUser, wallet.ID)
}

func TestTagsDedupedAndCapped(t *testing.T) {
	db, ledger := newTestLedger(t)
	wallet := makeWallet(t, db, testUser, "Pocket", "USD", models.WalletTypeCash, "100")
	groceries := categoryBySlug(t, db, "groceries")

	res, _, err := ledger.Create(testUser, "", &TransactionRequest{
		Type:          models.TransactionTypeExpense,
		Amount:        "10",
		WalletID:      wallet.ID,
		Category:      groceries.ID,
		Date:          todayStr(),
		SuggestedTags: []string{"food", "Food"},
		CustomTags:    []string{" food ", "travel"},
	})
	if err != nil {
		t.Fatalf("create with tags: %v", err)
	}
	if len(res.Transaction.Tags) != 2 {
		t.Fatalf("tags = %d, want 2 after case-insensitive dedupe", len(res.Transaction.Tags))
	}

	_, _, err = ledger.Create(testUser, "", &TransactionRequest{
		Type:       models.TransactionTypeExpense,
		Amount:     "10",
		WalletID:   wallet.ID,
		Category:   groceries.ID,
		Date:       todayStr(),
		CustomTags: []string{"a", "b", "c", "d", "e", "f"},
	})
	assertKind(t, err, KindValidation)
}
