package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_ledger/internal/funding"
)

// RegisterFundingRoutes wires the round catalog.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Get("/rounds", h.List)
	r.Get("/rounds/:roundId", h.Get)
}
