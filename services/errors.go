package services

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
)

// Machine-readable error kinds surfaced to clients alongside the message.
const (
	KindValidation           = "ValidationError"
	KindOverdraftBlocked     = "OverdraftBlocked"
	KindExchangeRateRequired = "ExchangeRateRequired"
	KindConsistency          = "ConsistencyError"
	KindStorageUnavailable   = "StorageUnavailable"
)

// LedgerError carries a kind so the frontend can branch on it without
// parsing messages.
type LedgerError struct {
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *LedgerError) Error() string { return e.Message }

func validationErr(format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func overdraftErr(walletName string) *LedgerError {
	return &LedgerError{
		Kind:    KindOverdraftBlocked,
		Message: fmt.Sprintf("cash wallet %q cannot go negative", walletName),
	}
}

func rateRequiredErr(from, to string) *LedgerError {
	return &LedgerError{
		Kind:    KindExchangeRateRequired,
		Message: fmt.Sprintf("no %s to %s exchange rate available — a manual rate is required", from, to),
	}
}

func consistencyErr(format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: KindConsistency, Message: fmt.Sprintf(format, args...)}
}

func storageErr(err error) *LedgerError {
	return &LedgerError{Kind: KindStorageUnavailable, Message: "storage unavailable: " + err.Error()}
}

func statusForKind(kind string) int {
	switch kind {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindOverdraftBlocked, KindExchangeRateRequired:
		return fiber.StatusConflict
	case KindStorageUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondErr maps a service error onto the wire shape {error, kind}.
func respondErr(c *fiber.Ctx, err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		if le.Kind == KindConsistency {
			log.Printf("❌ [LEDGER] consistency violation: %s", le.Message)
		}
		return c.Status(statusForKind(le.Kind)).JSON(fiber.Map{
			"error": le.Message,
			"kind":  le.Kind,
		})
	}
	log.Printf("❌ [LEDGER] internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"kind":  KindConsistency,
	})
}
