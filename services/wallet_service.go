package services

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"budget-ledger-service/currency"
	"budget-ledger-service/models"
	"budget-ledger-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WalletService struct {
	DB    *gorm.DB
	Rates *RateService
}

func NewWalletService(db *gorm.DB, rates *RateService) *WalletService {
	return &WalletService{DB: db, Rates: rates}
}

// WalletRequest is the wire shape for wallet create/update calls.
type WalletRequest struct {
	Name             string `json:"name"`
	Currency         string `json:"currency"`
	Type             string `json:"type"`
	Color            string `json:"color"`
	StartingBalance  string `json:"startingBalance"`
	IncludeInBalance *bool  `json:"includeInBalance"`
}

// CreateWalletForUser creates a wallet and, when a non-zero starting balance
// is given, an immutable Initial Balance system row. The system row is pure
// history: its value lives in StartingBalance and it has no balance effect.
func (s *WalletService) CreateWalletForUser(userID string, req *WalletRequest) (*models.Wallet, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationErr("name is required")
	}
	code, err := currency.Normalize(req.Currency)
	if err != nil {
		return nil, validationErr("invalid currency: %v", err)
	}
	if !models.ValidWalletType(req.Type) {
		return nil, validationErr("type must be cash, bank, or digital_wallet")
	}

	starting := decimal.Zero
	if req.StartingBalance != "" && req.StartingBalance != "0" {
		starting, err = currency.ParseAmount(req.StartingBalance, code)
		if err != nil {
			return nil, validationErr("startingBalance: %v", err)
		}
	}

	include := true
	if req.IncludeInBalance != nil {
		include = *req.IncludeInBalance
	}

	wallet := &models.Wallet{
		ID:               uuid.NewString(),
		UserID:           userID,
		Name:             name,
		Currency:         code,
		Type:             req.Type,
		Color:            req.Color,
		StartingBalance:  starting,
		CurrentBalance:   starting,
		IncludeInBalance: include,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wallet).Error; err != nil {
			return storageErr(err)
		}
		if starting.IsZero() {
			return nil
		}
		initCat, err := systemCategory(tx, models.CategorySlugInitialBalance)
		if err != nil {
			return err
		}
		initTxn := &models.Transaction{
			ID:                 uuid.NewString(),
			UserID:             userID,
			Type:               models.TransactionTypeIncome,
			IsSystem:           true,
			WalletID:           wallet.ID,
			CategoryID:         &initCat.ID,
			Amount:             starting,
			Currency:           code,
			Date:               dateOnly(time.Now()),
			Description:        "Initial balance",
			BaseCurrencyAmount: decimal.Zero,
		}
		if err := tx.Create(initTxn).Error; err != nil {
			return storageErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// AdjustBalance corrects a wallet to an exact target balance by recording a
// system Balance Adjustment row for the delta. The row never counts toward
// income/expense totals and cannot be edited or deleted afterwards.
func (s *WalletService) AdjustBalance(userID, walletID, targetBalance, dateStr, description string) (*models.Transaction, error) {
	var adjustment *models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		wallet, err := lockedWallet(tx, userID, walletID)
		if err != nil {
			return err
		}
		if wallet.IsArchived {
			return validationErr("wallet %q is archived", wallet.Name)
		}

		target, derr := decimal.NewFromString(strings.TrimSpace(targetBalance))
		if derr != nil {
			return validationErr("targetBalance must be a decimal string")
		}
		exp, eerr := currency.Exponent(wallet.Currency)
		if eerr != nil {
			return validationErr("%v", eerr)
		}
		target = target.Round(int32(exp))
		if target.IsNegative() && !wallet.AllowsOverdraft() {
			return overdraftErr(wallet.Name)
		}
		if target.Abs().GreaterThan(decimal.RequireFromString(mustMaxAmount(wallet.Currency))) {
			return validationErr("targetBalance exceeds the maximum of %s", mustMaxAmount(wallet.Currency))
		}

		date := dateOnly(time.Now())
		if dateStr != "" {
			d, perr := parseDate(dateStr)
			if perr != nil {
				return validationErr("invalid date (use YYYY-MM-DD)")
			}
			date = dateOnly(d)
		}
		today := dateOnly(time.Now())
		if date.Before(dateOnly(wallet.CreatedAt)) {
			return validationErr("adjustment date precedes wallet creation")
		}
		if date.After(today) {
			return validationErr("adjustment date cannot be in the future")
		}

		delta := target.Sub(wallet.CurrentBalance)
		if delta.IsZero() {
			return validationErr("balance already matches the target")
		}

		adjCat, err := systemCategory(tx, models.CategorySlugBalanceAdjustment)
		if err != nil {
			return err
		}
		txType := models.TransactionTypeIncome
		if delta.IsNegative() {
			txType = models.TransactionTypeExpense
		}
		if description == "" {
			description = "Balance adjustment"
		}
		adjustment = &models.Transaction{
			ID:                 uuid.NewString(),
			UserID:             userID,
			Type:               txType,
			IsSystem:           true,
			WalletID:           wallet.ID,
			CategoryID:         &adjCat.ID,
			Amount:             delta,
			Currency:           wallet.Currency,
			Date:               date,
			Description:        description,
			BaseCurrencyAmount: decimal.Zero,
		}
		if err := tx.Create(adjustment).Error; err != nil {
			return storageErr(err)
		}
		err2 := tx.Model(&models.Wallet{}).Where("id = ?", wallet.ID).
			Update("current_balance", target).Error
		if err2 != nil {
			return storageErr(err2)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

func mustMaxAmount(code string) string {
	max, err := currency.MaxAmountString(code)
	if err != nil {
		return "999999999999999"
	}
	return max
}

// --- fiber handlers ---

// CreateWallet handles POST /api/wallets.
func (s *WalletService) CreateWallet(c *fiber.Ctx) error {
	var req WalletRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}
	wallet, err := s.CreateWalletForUser(userIDFromCtx(c), &req)
	if err != nil {
		return respondErr(c, err)
	}
	log.Printf("Created wallet %s (%s %s) for user %s", wallet.Name, wallet.Currency, wallet.Type, wallet.UserID)
	return c.Status(fiber.StatusCreated).JSON(wallet)
}

// GetWallets handles GET /api/wallets. Archived wallets are excluded unless
// ?includeArchived=true.
func (s *WalletService) GetWallets(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	q := s.DB.Where("user_id = ?", userID)
	if c.Query("includeArchived") != "true" {
		q = q.Where("is_archived = false")
	}
	var wallets []models.Wallet
	if err := q.Order("created_at ASC").Find(&wallets).Error; err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(fiber.Map{"wallets": wallets})
}

// GetWallet handles GET /api/wallets/:id.
func (s *WalletService) GetWallet(c *fiber.Ctx) error {
	var wallet models.Wallet
	err := s.DB.Where("id = ? AND user_id = ?", c.Params("id"), userIDFromCtx(c)).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondErr(c, validationErr("wallet %s not found", c.Params("id")))
	}
	if err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(wallet)
}

// UpdateWallet handles PUT /api/wallets/:id. Currency is immutable once any
// transaction references the wallet; switching to cash is blocked while the
// balance is negative.
func (s *WalletService) UpdateWallet(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	var req WalletRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		wallet, err := lockedWallet(tx, userID, c.Params("id"))
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if name := strings.TrimSpace(req.Name); name != "" {
			updates["name"] = name
		}
		if req.Color != "" {
			updates["color"] = req.Color
		}
		if req.IncludeInBalance != nil {
			updates["include_in_balance"] = *req.IncludeInBalance
		}
		if req.Type != "" && req.Type != wallet.Type {
			if !models.ValidWalletType(req.Type) {
				return validationErr("type must be cash, bank, or digital_wallet")
			}
			if req.Type == models.WalletTypeCash && wallet.CurrentBalance.IsNegative() {
				return validationErr("cannot make a negative-balance wallet cash")
			}
			updates["type"] = req.Type
		}
		if req.Currency != "" {
			code, cerr := currency.Normalize(req.Currency)
			if cerr != nil {
				return validationErr("invalid currency: %v", cerr)
			}
			if code != wallet.Currency {
				var n int64
				if err := tx.Model(&models.Transaction{}).
					Where("wallet_id = ? OR to_wallet_id = ?", wallet.ID, wallet.ID).
					Count(&n).Error; err != nil {
					return storageErr(err)
				}
				if n > 0 {
					return validationErr("currency cannot change once the wallet has transactions")
				}
				updates["currency"] = code
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.Wallet{}).Where("id = ?", wallet.ID).Updates(updates).Error; err != nil {
			return storageErr(err)
		}
		return nil
	})
	if err != nil {
		return respondErr(c, err)
	}
	return s.GetWallet(c)
}

// ArchiveWallet handles PATCH /api/wallets/:id/archive. Soft: the wallet
// drops out of active lists and aggregates but keeps its history.
func (s *WalletService) ArchiveWallet(c *fiber.Ctx) error {
	return s.setArchived(c, true)
}

// RestoreWallet handles PATCH /api/wallets/:id/restore.
func (s *WalletService) RestoreWallet(c *fiber.Ctx) error {
	return s.setArchived(c, false)
}

func (s *WalletService) setArchived(c *fiber.Ctx, archived bool) error {
	userID := userIDFromCtx(c)
	res := s.DB.Model(&models.Wallet{}).
		Where("id = ? AND user_id = ?", c.Params("id"), userID).
		Update("is_archived", archived)
	if res.Error != nil {
		return respondErr(c, storageErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return respondErr(c, validationErr("wallet %s not found", c.Params("id")))
	}
	return c.JSON(fiber.Map{"archived": archived})
}

// AdjustWalletBalance handles POST /api/wallets/:id/adjust-balance.
func (s *WalletService) AdjustWalletBalance(c *fiber.Ctx) error {
	var req struct {
		TargetBalance string `json:"targetBalance"`
		Date          string `json:"date"`
		Description   string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}
	adjustment, err := s.AdjustBalance(userIDFromCtx(c), c.Params("id"), req.TargetBalance, req.Date, req.Description)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"adjustment": adjustment})
}

// UploadWalletIcon handles POST /api/wallets/:id/icon: stores the image and
// saves its URL on the wallet.
func (s *WalletService) UploadWalletIcon(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	var wallet models.Wallet
	err := s.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondErr(c, validationErr("wallet %s not found", c.Params("id")))
	}
	if err != nil {
		return respondErr(c, storageErr(err))
	}

	icon, err := c.FormFile("icon")
	if err != nil || icon.Size == 0 {
		return respondErr(c, validationErr("icon file is required"))
	}
	if icon.Size > 2*1024*1024 {
		return respondErr(c, validationErr("icon too large (max 2MB)"))
	}
	ext := filepath.Ext(icon.Filename)
	if ext == "" {
		ext = ".png"
	}

	var url string
	if utils.R2Enabled() {
		url, err = utils.UploadFileToR2(icon, "wallet-icons/"+uuid.NewString()+ext)
		if err != nil {
			log.Printf("R2 icon upload failed: %v", err)
			return respondErr(c, fmt.Errorf("icon upload failed"))
		}
	} else {
		local := utils.GetUploadPath("wallet-icons/" + uuid.NewString() + ext)
		if err := utils.SaveFile(icon, local); err != nil {
			return respondErr(c, fmt.Errorf("icon upload failed"))
		}
		url = "/" + local
	}

	err = s.DB.Model(&models.Wallet{}).Where("id = ?", wallet.ID).Update("icon_url", url).Error
	if err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(fiber.Map{"icon_url": url})
}
