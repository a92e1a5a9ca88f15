package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"budget-ledger-service/currency"
	"budget-ledger-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// errIdemRace marks a lost race on the idempotency-key unique index: another
// request with the same key committed first, so the caller should replay its
// stored response.
var errIdemRace = errors.New("idempotency key already committed")

// LedgerService is the transaction state machine: it creates, updates and
// deletes income, expense, transfer and system-adjustment rows, keeping
// wallet running balances consistent. Every balance mutation runs inside one
// DB transaction with the affected wallet rows locked, transfers locking both
// wallets in ascending-ID order.
type LedgerService struct {
	DB             *gorm.DB
	Rates          *RateService
	IdempotencyTTL time.Duration
}

func NewLedgerService(db *gorm.DB, rates *RateService) *LedgerService {
	return &LedgerService{
		DB:             db,
		Rates:          rates,
		IdempotencyTTL: time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,
	}
}

// TransactionRequest is the wire shape of a create/update call. Monetary
// values travel as decimal strings, never floats.
type TransactionRequest struct {
	Type               string   `json:"transactionType"`
	Amount             string   `json:"amount"`
	WalletID           string   `json:"walletId"`
	FromWalletID       string   `json:"fromWalletId"`
	ToWalletID         string   `json:"toWalletId"`
	Category           string   `json:"category"`
	Date               string   `json:"date"`
	Description        string   `json:"description"`
	SuggestedTags      []string `json:"suggestedTags"`
	CustomTags         []string `json:"customTags"`
	ManualExchangeRate string   `json:"manualExchangeRate"`
}

// TransactionResult is what a committed mutation returns. Warnings are
// non-blocking: a bank wallet going negative, a stale exchange rate.
type TransactionResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Create validates and commits a new transaction. When idemKey is non-empty
// and was already committed within the TTL, the stored result is replayed
// without touching balances; the second return reports that.
func (s *LedgerService) Create(userID, idemKey string, req *TransactionRequest) (*TransactionResult, bool, error) {
	var result *TransactionResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if idemKey != "" {
			stored, err := s.findIdempotent(tx, userID, idemKey)
			if err != nil {
				return err
			}
			if stored != nil {
				result = stored
				return errIdemRace
			}
		}

		walletIDs := []string{req.WalletID}
		if req.Type == models.TransactionTypeTransfer {
			walletIDs = []string{req.FromWalletID, req.ToWalletID}
		}
		wallets, err := lockWallets(tx, userID, walletIDs)
		if err != nil {
			return err
		}

		txn, warnings, err := s.buildTransaction(tx, userID, req, wallets)
		if err != nil {
			return err
		}
		if err := applyEffect(wallets, txn, 1); err != nil {
			return err
		}
		if err := s.persistNew(tx, txn); err != nil {
			return err
		}
		if err := persistBalances(tx, wallets); err != nil {
			return err
		}

		result = &TransactionResult{Transaction: txn, Warnings: warnings}
		if idemKey != "" {
			if err := s.storeIdempotent(tx, userID, idemKey, result); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errIdemRace) {
		if result == nil {
			// Lost the insert race: the competing request committed between
			// our lookup and our insert. Replay its stored result.
			result, err = s.replayAfterRace(userID, idemKey)
			if err != nil {
				return nil, false, err
			}
		}
		return result, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

// Update rewrites a non-system transaction: the old signed effect is reversed
// on the old wallet(s) and the new effect applied to the new wallet(s), all
// inside one DB transaction so partial application cannot survive.
func (s *LedgerService) Update(userID, txnID, idemKey string, req *TransactionRequest) (*TransactionResult, bool, error) {
	var result *TransactionResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if idemKey != "" {
			stored, err := s.findIdempotent(tx, userID, idemKey)
			if err != nil {
				return err
			}
			if stored != nil {
				result = stored
				return errIdemRace
			}
		}

		var old models.Transaction
		if err := tx.Where("id = ? AND user_id = ?", txnID, userID).First(&old).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErr("transaction %s not found", txnID)
			}
			return storageErr(err)
		}
		if old.IsSystem {
			return validationErr("system transactions cannot be modified")
		}

		ids := []string{old.WalletID}
		if old.ToWalletID != nil {
			ids = append(ids, *old.ToWalletID)
		}
		ids = append(ids, req.WalletID)
		if req.Type == models.TransactionTypeTransfer {
			ids = append(ids, req.FromWalletID, req.ToWalletID)
		}
		wallets, err := lockWallets(tx, userID, ids)
		if err != nil {
			return err
		}

		if err := applyEffect(wallets, &old, -1); err != nil {
			return err
		}
		txn, warnings, err := s.buildTransaction(tx, userID, req, wallets)
		if err != nil {
			return err
		}
		if err := applyEffect(wallets, txn, 1); err != nil {
			return err
		}
		if err := blockNegativeCash(wallets); err != nil {
			return err
		}

		txn.ID = old.ID
		txn.CreatedAt = old.CreatedAt
		tags := txn.Tags
		txn.Tags = nil
		if err := tx.Omit("Tags").Save(txn).Error; err != nil {
			return storageErr(err)
		}
		if err := tx.Model(txn).Association("Tags").Replace(&tags); err != nil {
			return storageErr(err)
		}
		txn.Tags = tags
		if err := persistBalances(tx, wallets); err != nil {
			return err
		}

		result = &TransactionResult{Transaction: txn, Warnings: warnings}
		if idemKey != "" {
			if err := s.storeIdempotent(tx, userID, idemKey, result); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errIdemRace) {
		if result == nil {
			result, err = s.replayAfterRace(userID, idemKey)
			if err != nil {
				return nil, false, err
			}
		}
		return result, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

// Delete reverses a non-system transaction's effect and soft-deletes the row.
func (s *LedgerService) Delete(userID, txnID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var txn models.Transaction
		if err := tx.Where("id = ? AND user_id = ?", txnID, userID).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErr("transaction %s not found", txnID)
			}
			return storageErr(err)
		}
		if txn.IsSystem {
			return validationErr("system transactions cannot be deleted")
		}

		ids := []string{txn.WalletID}
		if txn.ToWalletID != nil {
			ids = append(ids, *txn.ToWalletID)
		}
		wallets, err := lockWallets(tx, userID, ids)
		if err != nil {
			return err
		}
		if err := applyEffect(wallets, &txn, -1); err != nil {
			return err
		}
		if err := blockNegativeCash(wallets); err != nil {
			return err
		}
		if err := tx.Delete(&txn).Error; err != nil {
			return storageErr(err)
		}
		return persistBalances(tx, wallets)
	})
}

// BulkDelete removes the given transactions, silently skipping system rows,
// and returns how many were actually deleted. All-or-nothing: a failure rolls
// every deletion back.
func (s *LedgerService) BulkDelete(userID string, txnIDs []string) (int, error) {
	deleted := 0
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var txns []models.Transaction
		if err := tx.Where("id IN ? AND user_id = ?", txnIDs, userID).Find(&txns).Error; err != nil {
			return storageErr(err)
		}

		var doomed []models.Transaction
		idSet := map[string]bool{}
		for _, t := range txns {
			if t.IsSystem {
				continue
			}
			doomed = append(doomed, t)
			idSet[t.WalletID] = true
			if t.ToWalletID != nil {
				idSet[*t.ToWalletID] = true
			}
		}
		if len(doomed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		wallets, err := lockWallets(tx, userID, ids)
		if err != nil {
			return err
		}
		for i := range doomed {
			if err := applyEffect(wallets, &doomed[i], -1); err != nil {
				return err
			}
			if err := tx.Delete(&doomed[i]).Error; err != nil {
				return storageErr(err)
			}
		}
		if err := blockNegativeCash(wallets); err != nil {
			return err
		}
		if err := persistBalances(tx, wallets); err != nil {
			return err
		}
		deleted = len(doomed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// RecomputeBalance derives a wallet's balance from first principles:
// starting balance plus the signed effect of every live transaction. Used by
// tests and the consistency check; the cached column must always agree.
func (s *LedgerService) RecomputeBalance(userID, walletID string) (decimal.Decimal, error) {
	var wallet models.Wallet
	if err := s.DB.Where("id = ? AND user_id = ?", walletID, userID).First(&wallet).Error; err != nil {
		return decimal.Zero, storageErr(err)
	}
	initCat, err := systemCategory(s.DB, models.CategorySlugInitialBalance)
	if err != nil {
		return decimal.Zero, err
	}
	var txns []models.Transaction
	if err := s.DB.Where("user_id = ? AND (wallet_id = ? OR to_wallet_id = ?)",
		userID, walletID, walletID).Find(&txns).Error; err != nil {
		return decimal.Zero, storageErr(err)
	}
	total := wallet.StartingBalance
	for i := range txns {
		total = total.Add(txns[i].SignedEffectOn(walletID, initCat.ID))
	}
	return total, nil
}

// --- internals ---

// lockWallets acquires row locks on every distinct wallet ID in ascending
// order, the fixed global order that keeps concurrent transfers deadlock-free.
func lockWallets(tx *gorm.DB, userID string, ids []string) (map[string]*models.Wallet, error) {
	distinct := map[string]bool{}
	for _, id := range ids {
		if id != "" {
			distinct[id] = true
		}
	}
	ordered := make([]string, 0, len(distinct))
	for id := range distinct {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	wallets := make(map[string]*models.Wallet, len(ordered))
	for _, id := range ordered {
		w, err := lockedWallet(tx, userID, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}
	return wallets, nil
}

// applyEffect adds (sign=1) or reverses (sign=-1) a transaction's signed leg
// amounts on the in-memory locked wallet copies.
func applyEffect(wallets map[string]*models.Wallet, txn *models.Transaction, sign int) error {
	w, ok := wallets[txn.WalletID]
	if !ok {
		return consistencyErr("wallet %s not locked for transaction %s", txn.WalletID, txn.ID)
	}
	eff := txn.Amount
	if sign < 0 {
		eff = eff.Neg()
	}
	w.CurrentBalance = w.CurrentBalance.Add(eff)

	if txn.ToWalletID != nil {
		tw, ok := wallets[*txn.ToWalletID]
		if !ok {
			return consistencyErr("wallet %s not locked for transaction %s", *txn.ToWalletID, txn.ID)
		}
		if txn.ToAmount == nil {
			return consistencyErr("transfer %s has no destination amount", txn.ID)
		}
		toEff := *txn.ToAmount
		if sign < 0 {
			toEff = toEff.Neg()
		}
		tw.CurrentBalance = tw.CurrentBalance.Add(toEff)
	}
	return nil
}

// blockNegativeCash enforces the hard overdraft policy after update/delete
// reversals: no accepted mutation may leave a cash wallet negative.
func blockNegativeCash(wallets map[string]*models.Wallet) error {
	for _, w := range wallets {
		if !w.AllowsOverdraft() && w.CurrentBalance.IsNegative() {
			return overdraftErr(w.Name)
		}
	}
	return nil
}

func persistBalances(tx *gorm.DB, wallets map[string]*models.Wallet) error {
	for _, w := range wallets {
		err := tx.Model(&models.Wallet{}).Where("id = ?", w.ID).
			Update("current_balance", w.CurrentBalance).Error
		if err != nil {
			return storageErr(err)
		}
	}
	return nil
}

// buildTransaction validates the request against the locked wallets and
// assembles the row, exchange-rate fields included. It does not apply
// balance effects; overdraft is checked against the balances as they stand in
// the wallets map (for updates, already reversed).
func (s *LedgerService) buildTransaction(tx *gorm.DB, userID string, req *TransactionRequest, wallets map[string]*models.Wallet) (*models.Transaction, []string, error) {
	if !models.ValidTransactionType(req.Type) {
		return nil, nil, validationErr("transactionType must be income, expense, or transfer")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, nil, validationErr("invalid date (use YYYY-MM-DD)")
	}
	txDate := dateOnly(date)

	tags, err := s.resolveTags(tx, userID, append(append([]string{}, req.SuggestedTags...), req.CustomTags...))
	if err != nil {
		return nil, nil, err
	}

	if req.Type == models.TransactionTypeTransfer {
		return s.buildTransfer(userID, req, txDate, tags, wallets)
	}
	return s.buildSimple(tx, userID, req, txDate, tags, wallets)
}

func (s *LedgerService) buildSimple(tx *gorm.DB, userID string, req *TransactionRequest, txDate time.Time, tags []models.Tag, wallets map[string]*models.Wallet) (*models.Transaction, []string, error) {
	if req.WalletID == "" {
		return nil, nil, validationErr("walletId is required")
	}
	wallet, ok := wallets[req.WalletID]
	if !ok {
		return nil, nil, consistencyErr("wallet %s not locked", req.WalletID)
	}
	if err := checkWalletUsable(wallet, txDate); err != nil {
		return nil, nil, err
	}

	amount, err := currency.ParseAmount(req.Amount, wallet.Currency)
	if err != nil {
		return nil, nil, validationErr("%v", err)
	}

	category, err := s.pickCategory(tx, userID, req.Category, req.Type)
	if err != nil {
		return nil, nil, err
	}

	base, lerr := s.Rates.baseCurrency(userID)
	if lerr != nil {
		return nil, nil, lerr
	}
	conv, warnings, err := s.convert(txDate, wallet.Currency, base, amount, req.ManualExchangeRate)
	if err != nil {
		return nil, nil, err
	}

	signed := amount
	baseSigned := conv.converted
	if req.Type == models.TransactionTypeExpense {
		signed = signed.Neg()
		baseSigned = baseSigned.Neg()

		projected := wallet.CurrentBalance.Add(signed)
		if projected.IsNegative() {
			if !wallet.AllowsOverdraft() {
				return nil, nil, overdraftErr(wallet.Name)
			}
			warnings = append(warnings, fmt.Sprintf(
				"wallet %q will be overdrawn to %s", wallet.Name, projected.String()))
		}
	}

	txn := &models.Transaction{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Type:               req.Type,
		WalletID:           wallet.ID,
		CategoryID:         &category.ID,
		Amount:             signed,
		Currency:           wallet.Currency,
		Date:               txDate,
		Description:        strings.TrimSpace(req.Description),
		ExchangeRateUsed:   conv.rate,
		ExchangeRateDate:   conv.rateDate,
		ManualExchangeRate: conv.manual,
		BaseCurrencyAmount: baseSigned,
		Tags:               tags,
	}
	return txn, warnings, nil
}

func (s *LedgerService) buildTransfer(userID string, req *TransactionRequest, txDate time.Time, tags []models.Tag, wallets map[string]*models.Wallet) (*models.Transaction, []string, error) {
	if req.FromWalletID == "" || req.ToWalletID == "" {
		return nil, nil, validationErr("fromWalletId and toWalletId are required for a transfer")
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, nil, validationErr("cannot transfer a wallet to itself")
	}
	from, ok := wallets[req.FromWalletID]
	if !ok {
		return nil, nil, consistencyErr("wallet %s not locked", req.FromWalletID)
	}
	to, ok := wallets[req.ToWalletID]
	if !ok {
		return nil, nil, consistencyErr("wallet %s not locked", req.ToWalletID)
	}
	if err := checkWalletUsable(from, txDate); err != nil {
		return nil, nil, err
	}
	if err := checkWalletUsable(to, txDate); err != nil {
		return nil, nil, err
	}

	amount, err := currency.ParseAmount(req.Amount, from.Currency)
	if err != nil {
		return nil, nil, validationErr("%v", err)
	}

	// Cross-currency transfers carry their own from->to rate; the two legs
	// hold independent converted amounts.
	conv, warnings, err := s.convert(txDate, from.Currency, to.Currency, amount, req.ManualExchangeRate)
	if err != nil {
		return nil, nil, err
	}
	toExp, expErr := currency.Exponent(to.Currency)
	if expErr != nil {
		return nil, nil, validationErr("%v", expErr)
	}
	toAmount := conv.converted.Round(int32(toExp))

	projected := from.CurrentBalance.Sub(amount)
	if projected.IsNegative() {
		if !from.AllowsOverdraft() {
			return nil, nil, overdraftErr(from.Name)
		}
		warnings = append(warnings, fmt.Sprintf(
			"wallet %q will be overdrawn to %s", from.Name, projected.String()))
	}

	txn := &models.Transaction{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Type:               models.TransactionTypeTransfer,
		WalletID:           from.ID,
		ToWalletID:         &to.ID,
		Amount:             amount.Neg(),
		ToAmount:           &toAmount,
		Currency:           from.Currency,
		Date:               txDate,
		Description:        strings.TrimSpace(req.Description),
		ExchangeRateUsed:   conv.rate,
		ExchangeRateDate:   conv.rateDate,
		ManualExchangeRate: conv.manual,
		Tags:               tags,
	}
	return txn, warnings, nil
}

type conversion struct {
	converted decimal.Decimal
	rate      *decimal.Decimal
	rateDate  *time.Time
	manual    bool
}

// convert turns an amount in from-currency into to-currency. Same currency is
// the identity with no rate fields. A caller-supplied manual rate overrides
// resolution; otherwise the resolver's historical rate applies, with a
// warning when it is stale and an ExchangeRateRequired error when nothing
// within the lookback window exists and no manual rate was given.
func (s *LedgerService) convert(txDate time.Time, fromCur, toCur string, amount decimal.Decimal, manualRate string) (*conversion, []string, error) {
	if fromCur == toCur {
		return &conversion{converted: amount}, nil, nil
	}
	toExp, err := currency.Exponent(toCur)
	if err != nil {
		return nil, nil, validationErr("%v", err)
	}

	if manualRate != "" {
		rate, err := decimal.NewFromString(manualRate)
		if err != nil || !rate.IsPositive() {
			return nil, nil, validationErr("manualExchangeRate must be a positive decimal string")
		}
		converted := amount.Mul(rate).Round(int32(toExp))
		if err := checkConvertedBounds(converted, toCur); err != nil {
			return nil, nil, err
		}
		rd := txDate
		return &conversion{
			converted: converted,
			rate:      &rate,
			rateDate:  &rd,
			manual:    true,
		}, nil, nil
	}

	res, err := s.Rates.Resolve(txDate, fromCur, toCur)
	if err != nil {
		return nil, nil, err
	}
	if res.RequiresManualInput {
		return nil, nil, rateRequiredErr(fromCur, toCur)
	}

	var warnings []string
	if !res.ExactMatch {
		warnings = append(warnings, fmt.Sprintf(
			"%s exchange rate: using the %s rate from %s",
			res.Severity, fromCur+"/"+toCur, res.RateDate.Format(dateLayout)))
	}
	rate := res.Rate
	rd := res.RateDate
	converted := amount.Mul(rate).Round(int32(toExp))
	if err := checkConvertedBounds(converted, toCur); err != nil {
		return nil, nil, err
	}
	return &conversion{
		converted: converted,
		rate:      &rate,
		rateDate:  &rd,
	}, warnings, nil
}

// checkConvertedBounds rejects conversions whose result no longer fits the
// amount columns. The request amount is capped on the way in, but a large
// rate can push the converted side past the same cap.
func checkConvertedBounds(converted decimal.Decimal, toCur string) error {
	if !currency.ExceedsMaxAmount(converted.Abs().String(), toCur) {
		return nil
	}
	max, _ := currency.MaxAmountString(toCur)
	return validationErr("converted amount exceeds the maximum of %s %s", max, toCur)
}

func checkWalletUsable(w *models.Wallet, txDate time.Time) error {
	if w.IsArchived {
		return validationErr("wallet %q is archived", w.Name)
	}
	if txDate.Before(dateOnly(w.CreatedAt)) {
		return validationErr("transaction date %s precedes wallet %q creation", txDate.Format(dateLayout), w.Name)
	}
	return nil
}

// pickCategory loads a non-system category owned by the user (or a global
// default) whose type matches the transaction's.
func (s *LedgerService) pickCategory(tx *gorm.DB, userID, categoryID, txType string) (*models.Category, error) {
	if categoryID == "" {
		return nil, validationErr("category is required for income and expense transactions")
	}
	var cat models.Category
	err := tx.Where("id = ? AND (user_id = ? OR user_id = '')", categoryID, userID).First(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationErr("category %s not found", categoryID)
		}
		return nil, storageErr(err)
	}
	if cat.IsSystem {
		return nil, validationErr("system categories cannot be assigned directly")
	}
	if cat.Type != txType {
		return nil, validationErr("category %q is a %s category", cat.Name, cat.Type)
	}
	return &cat, nil
}

// resolveTags dedupes, caps at the per-transaction limit and find-or-creates
// the user's tag rows.
func (s *LedgerService) resolveTags(tx *gorm.DB, userID string, names []string) ([]models.Tag, error) {
	seen := map[string]bool{}
	var tags []models.Tag
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		var tag models.Tag
		err := tx.Where("user_id = ? AND name = ?", userID, name).First(&tag).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			tag = models.Tag{ID: uuid.NewString(), UserID: userID, Name: name}
			if err := tx.Create(&tag).Error; err != nil {
				return nil, storageErr(err)
			}
		} else if err != nil {
			return nil, storageErr(err)
		}
		tags = append(tags, tag)
	}
	if len(tags) > models.MaxTagsPerTransaction {
		return nil, validationErr("a transaction can carry at most %d tags", models.MaxTagsPerTransaction)
	}
	return tags, nil
}

func (s *LedgerService) persistNew(tx *gorm.DB, txn *models.Transaction) error {
	tags := txn.Tags
	txn.Tags = nil
	if err := tx.Omit("Tags").Create(txn).Error; err != nil {
		return storageErr(err)
	}
	if len(tags) > 0 {
		if err := tx.Model(txn).Association("Tags").Append(&tags); err != nil {
			return storageErr(err)
		}
	}
	txn.Tags = tags
	return nil
}

// --- idempotency ---

func (s *LedgerService) findIdempotent(tx *gorm.DB, userID, key string) (*TransactionResult, error) {
	var rec models.IdempotencyKey
	err := tx.Where("key = ? AND user_id = ?", key, userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	if time.Now().After(rec.ExpiresAt) {
		// Expired but not yet pruned; the key may be reused.
		if err := tx.Delete(&rec).Error; err != nil {
			return nil, storageErr(err)
		}
		return nil, nil
	}
	var result TransactionResult
	if err := json.Unmarshal([]byte(rec.Response), &result); err != nil {
		return nil, consistencyErr("stored idempotent response for key %s is unreadable", key)
	}
	return &result, nil
}

func (s *LedgerService) storeIdempotent(tx *gorm.DB, userID, key string, result *TransactionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return consistencyErr("cannot encode idempotent response: %v", err)
	}
	rec := models.IdempotencyKey{
		Key:       key,
		UserID:    userID,
		Response:  string(payload),
		ExpiresAt: time.Now().Add(s.IdempotencyTTL),
	}
	if err := tx.Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errIdemRace
		}
		return storageErr(err)
	}
	return nil
}

func (s *LedgerService) replayAfterRace(userID, key string) (*TransactionResult, error) {
	result, err := s.findIdempotent(s.DB, userID, key)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, consistencyErr("idempotency key %s committed elsewhere but not readable", key)
	}
	return result, nil
}

// --- fiber handlers ---

// CreateTransaction handles POST /api/transactions.
func (s *LedgerService) CreateTransaction(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)
	var req TransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}
	result, replayed, err := s.Create(userID, c.Get("Idempotency-Key"), &req)
	if err != nil {
		return respondErr(c, err)
	}
	status := fiber.StatusCreated
	if replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction": result.Transaction,
		"warnings":    result.Warnings,
		"replayed":    replayed,
	})
}

// UpdateTransaction handles PUT /api/transactions/:id.
func (s *LedgerService) UpdateTransaction(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)
	var req TransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}
	result, replayed, err := s.Update(userID, c.Params("id"), c.Get("Idempotency-Key"), &req)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{
		"transaction": result.Transaction,
		"warnings":    result.Warnings,
		"replayed":    replayed,
	})
}

// DeleteTransaction handles DELETE /api/transactions/:id.
func (s *LedgerService) DeleteTransaction(c *fiber.Ctx) error {
	if err := s.Delete(userIDFromCtx(c), c.Params("id")); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// BulkDeleteTransactions handles POST /api/transactions/bulk-delete.
func (s *LedgerService) BulkDeleteTransactions(c *fiber.Ctx) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return respondErr(c, validationErr("ids is required"))
	}
	count, err := s.BulkDelete(userIDFromCtx(c), req.IDs)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"deleted": count})
}

// GetTransactions handles GET /api/transactions with optional filters.
func (s *LedgerService) GetTransactions(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	q := s.DB.Where("user_id = ?", userID).Preload("Tags")
	if walletID := c.Query("walletId"); walletID != "" {
		q = q.Where("wallet_id = ? OR to_wallet_id = ?", walletID, walletID)
	}
	if txType := c.Query("type"); txType != "" {
		q = q.Where("type = ?", txType)
	}
	if categoryID := c.Query("categoryId"); categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	}
	if from := c.Query("from"); from != "" {
		d, err := parseDate(from)
		if err != nil {
			return respondErr(c, validationErr("invalid from date"))
		}
		q = q.Where("date >= ?", dateOnly(d))
	}
	if to := c.Query("to"); to != "" {
		d, err := parseDate(to)
		if err != nil {
			return respondErr(c, validationErr("invalid to date"))
		}
		q = q.Where("date <= ?", dateOnly(d))
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var txns []models.Transaction
	err := q.Order("date DESC, created_at DESC").
		Limit(limit).Offset(c.QueryInt("offset", 0)).
		Find(&txns).Error
	if err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(fiber.Map{"transactions": txns, "count": len(txns)})
}
