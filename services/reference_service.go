package services

import (
	"errors"
	"log"
	"os"
	"strings"

	"budget-ledger-service/currency"
	"budget-ledger-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBaseCurrency is the reporting currency for users who have not set
// one yet.
func DefaultBaseCurrency() string {
	if c := os.Getenv("BASE_CURRENCY"); c != "" {
		return strings.ToUpper(c)
	}
	return "USD"
}

type ReferenceService struct {
	DB *gorm.DB
}

func NewReferenceService(db *gorm.DB) *ReferenceService {
	return &ReferenceService{DB: db}
}

// defaultCategories are seeded globally (empty UserID) so a fresh install has
// something to pick from.
var defaultCategories = []struct {
	Name  string
	Type  string
	Color string
}{
	{"Groceries", models.TransactionTypeExpense, "#e74c3c"},
	{"Rent", models.TransactionTypeExpense, "#e67e22"},
	{"Utilities", models.TransactionTypeExpense, "#f39c12"},
	{"Transportation", models.TransactionTypeExpense, "#3498db"},
	{"Entertainment", models.TransactionTypeExpense, "#9b59b6"},
	{"Salary", models.TransactionTypeIncome, "#27ae60"},
	{"Freelance", models.TransactionTypeIncome, "#16a085"},
}

// SeedReferenceData creates the system categories (Initial Balance, Balance
// Adjustment) and the global defaults. Idempotent: existing slugs are left
// untouched.
func SeedReferenceData(db *gorm.DB) error {
	rows := []models.Category{
		{ID: uuid.NewString(), Name: "Initial Balance", Slug: models.CategorySlugInitialBalance,
			Type: models.TransactionTypeIncome, IsSystem: true},
		{ID: uuid.NewString(), Name: "Balance Adjustment", Slug: models.CategorySlugBalanceAdjustment,
			Type: models.TransactionTypeIncome, IsSystem: true},
	}
	for _, dc := range defaultCategories {
		rows = append(rows, models.Category{
			ID:    uuid.NewString(),
			Name:  dc.Name,
			Slug:  slug.Make(dc.Name),
			Type:  dc.Type,
			Color: dc.Color,
		})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// systemCategory looks up one of the seeded system categories by slug.
func systemCategory(tx *gorm.DB, categorySlug string) (*models.Category, error) {
	var cat models.Category
	err := tx.Where("slug = ? AND is_system = true", categorySlug).First(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, consistencyErr("system category %q not seeded", categorySlug)
		}
		return nil, storageErr(err)
	}
	return &cat, nil
}

// GetCategories lists the categories visible to the user. System categories
// are excluded from pickers unless ?includeSystem=true.
func (s *ReferenceService) GetCategories(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	q := s.DB.Where("user_id = ? OR user_id = ''", userID)
	if c.Query("includeSystem") != "true" {
		q = q.Where("is_system = false")
	}
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}

	var categories []models.Category
	if err := q.Order("name ASC").Find(&categories).Error; err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(fiber.Map{"categories": categories})
}

// CreateCategory adds a user-owned category. POST /api/categories
func (s *ReferenceService) CreateCategory(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	var req struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Color string `json:"color"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return respondErr(c, validationErr("name is required"))
	}
	if req.Type != models.TransactionTypeIncome && req.Type != models.TransactionTypeExpense {
		return respondErr(c, validationErr("type must be income or expense"))
	}

	cat := models.Category{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   req.Name,
		Slug:   slug.Make(req.Name),
		Type:   req.Type,
		Color:  req.Color,
	}
	if err := s.DB.Create(&cat).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return respondErr(c, validationErr("category %q already exists", req.Name))
		}
		return respondErr(c, storageErr(err))
	}
	log.Printf("Created category %s (%s) for user %s", cat.Name, cat.ID, userID)
	return c.Status(fiber.StatusCreated).JSON(cat)
}

// GetTags lists the user's tags. GET /api/tags
func (s *ReferenceService) GetTags(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	var tags []models.Tag
	if err := s.DB.Where("user_id = ?", userID).Order("name ASC").Find(&tags).Error; err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(fiber.Map{"tags": tags})
}

// GetSettings returns the user's settings, materializing defaults on first
// read. GET /api/settings
func (s *ReferenceService) GetSettings(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	var settings models.UserSettings
	err := s.DB.Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.UserSettings{UserID: userID, BaseCurrency: DefaultBaseCurrency()}
	} else if err != nil {
		return respondErr(c, storageErr(err))
	}
	return c.JSON(settings)
}

// UpdateSettings sets the user's base currency. PUT /api/settings
func (s *ReferenceService) UpdateSettings(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	var req struct {
		BaseCurrency string `json:"base_currency"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, validationErr("invalid request body"))
	}
	code, err := currency.Normalize(req.BaseCurrency)
	if err != nil {
		return respondErr(c, validationErr("invalid base currency: %v", err))
	}

	settings := models.UserSettings{UserID: userID, BaseCurrency: code}
	saveErr := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_currency", "updated_at"}),
	}).Create(&settings).Error
	if saveErr != nil {
		return respondErr(c, storageErr(saveErr))
	}
	return c.JSON(settings)
}
