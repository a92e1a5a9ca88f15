// handlers/transaction.go
package handlers

import (
	"budget-ledger-service/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTransactionRoutes(api fiber.Router, ledger *services.LedgerService, rates *services.RateService) {
	api.Get("/transactions", ledger.GetTransactions)
	api.Post("/transactions", ledger.CreateTransaction)
	api.Post("/transactions/bulk-delete", ledger.BulkDeleteTransactions)
	api.Put("/transactions/:id", ledger.UpdateTransaction)
	api.Delete("/transactions/:id", ledger.DeleteTransaction)

	// Rate availability is checked by clients before submitting cross-currency
	// transactions, so it lives beside the transaction routes.
	api.Get("/exchange-rates/availability", rates.GetAvailability)
	api.Put("/exchange-rates", rates.UpsertRate)
}
