package funding

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_ledger/internal/money"
)

// Handler exposes the round catalog over HTTP.
type Handler struct {
	registry *Registry
}

// NewHandler constructs a funding round handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

type participantResponse struct {
	InvestorID string `json:"investor_id"`
	Amount     string `json:"amount"`
}

// RoundResponse is the wire form of a round.
type RoundResponse struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Company      string                `json:"company"`
	Currency     string                `json:"currency"`
	TargetAmount string                `json:"target_amount"`
	RaisedAmount string                `json:"raised_amount"`
	Deadline     time.Time             `json:"deadline"`
	Open         bool                  `json:"open"`
	Participants []participantResponse `json:"participants"`
}

func (h *Handler) toResponse(r Round) RoundResponse {
	participants := make([]participantResponse, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, participantResponse{InvestorID: p.InvestorID, Amount: money.Text(p.Amount, r.Currency)})
	}
	return RoundResponse{
		ID:           r.ID,
		Name:         r.Name,
		Company:      r.Company,
		Currency:     r.Currency,
		TargetAmount: money.Text(r.TargetAmount, r.Currency),
		RaisedAmount: money.Text(r.RaisedAmount, r.Currency),
		Deadline:     r.Deadline,
		Open:         h.registry.Open(r),
		Participants: participants,
	}
}

// Get returns a single round.
func (h *Handler) Get(c *fiber.Ctx) error {
	round, err := h.registry.Get(c.UserContext(), c.Params("roundId"))
	if err != nil {
		if errors.Is(err, ErrRoundNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(h.toResponse(round))
}

// List returns the round catalog.
func (h *Handler) List(c *fiber.Ctx) error {
	rounds, err := h.registry.List(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RoundResponse, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, h.toResponse(r))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"rounds": out})
}
