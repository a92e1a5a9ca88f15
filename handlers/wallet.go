// handlers/wallet.go
package handlers

import (
	"budget-ledger-service/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWalletRoutes(api fiber.Router, wallets *services.WalletService, aggregates *services.AggregateService) {
	api.Get("/wallets", wallets.GetWallets)
	api.Post("/wallets", wallets.CreateWallet)
	api.Get("/wallets/:id", wallets.GetWallet)
	api.Put("/wallets/:id", wallets.UpdateWallet)
	api.Patch("/wallets/:id/archive", wallets.ArchiveWallet)
	api.Patch("/wallets/:id/restore", wallets.RestoreWallet)
	api.Post("/wallets/:id/adjust-balance", wallets.AdjustWalletBalance)
	api.Post("/wallets/:id/icon", wallets.UploadWalletIcon)

	api.Get("/analytics/totals", aggregates.GetTotals)
	api.Get("/analytics/net-worth", aggregates.GetNetWorth)
}
