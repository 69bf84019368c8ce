package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_ledger/internal/payments"
)

// RegisterPaymentRoutes wires the ledger commands behind the per-wallet rate limiter.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, limiter fiber.Handler) {
	r.Post("/wallets/:walletId/deposits", limiter, h.Deposit)
	r.Post("/wallets/:walletId/withdrawals", limiter, h.Withdraw)
	r.Post("/wallets/:walletId/transfers", limiter, h.Transfer)
	r.Post("/wallets/:walletId/investments", limiter, h.Invest)
}

// RegisterClearingRoutes wires the operations reserved for the clearing side.
func RegisterClearingRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/wallets/:walletId/withdrawals/:txId/settlement", h.Settle)
}
