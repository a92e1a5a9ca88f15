// handlers/reference.go
package handlers

import (
	"budget-ledger-service/services"

	"github.com/gofiber/fiber/v2"
)

func SetupReferenceRoutes(api fiber.Router, reference *services.ReferenceService) {
	api.Get("/categories", reference.GetCategories)
	api.Post("/categories", reference.CreateCategory)
	api.Get("/tags", reference.GetTags)
	api.Get("/settings", reference.GetSettings)
	api.Put("/settings", reference.UpdateSettings)
}
