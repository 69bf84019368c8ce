package wallet

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

type accountResponse struct {
	Ref         string `json:"ref"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
}

type walletResponse struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Balance        string            `json:"balance"`
	LinkedAccounts []accountResponse `json:"linked_accounts"`
	CreatedAt      time.Time         `json:"created_at"`
}

func toWalletResponse(w Wallet) walletResponse {
	accounts := make([]accountResponse, 0, len(w.LinkedAccounts))
	for _, a := range w.LinkedAccounts {
		accounts = append(accounts, accountResponse{Ref: a.Ref, DisplayName: a.DisplayName, Kind: a.Kind})
	}
	return walletResponse{
		ID:             w.ID,
		OwnerID:        w.OwnerID,
		Currency:       w.Currency,
		Status:         w.Status,
		Balance:        money.Text(w.Balance, w.Currency),
		LinkedAccounts: accounts,
		CreatedAt:      w.CreatedAt,
	}
}

// Create provisions a wallet for the owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	wallet, err := h.service.Create(userContext(c), CreateInput{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(wallet))
}

// Get returns wallet metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	wallet, err := h.service.Get(userContext(c), c.Params("walletId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(wallet))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	balance, err := h.service.Balance(userContext(c), walletID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": walletID,
		"balance":   money.Text(balance.Amount, balance.Currency),
		"currency":  balance.Currency,
		"display":   money.Format(balance.Amount, balance.Currency),
		"timestamp": balance.AsOf,
	})
}

type linkRequest struct {
	Ref         string `json:"ref"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
}

// LinkAccount attaches an external funding source to the wallet.
func (h *Handler) LinkAccount(c *fiber.Ctx) error {
	var req linkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.LinkAccount(userContext(c), c.Params("walletId"), LinkInput{
		Ref:         req.Ref,
		DisplayName: req.DisplayName,
		Kind:        req.Kind,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(accountResponse{Ref: acct.Ref, DisplayName: acct.DisplayName, Kind: acct.Kind})
}

// Transactions lists the wallet log, newest first unless ?order=chronological.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	order, err := ledger.ParseOrder(c.Query("order"))
	if err != nil {
		return toHTTPError(err)
	}
	st, err := h.service.Statement(userContext(c), c.Params("walletId"), order)
	if err != nil {
		return toHTTPError(err)
	}
	views := make([]ledger.View, 0, len(st.Entries))
	for _, tx := range st.Entries {
		views = append(views, ledger.NewView(tx, st.Status(tx)))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":    st.Wallet.ID,
		"transactions": views,
	})
}

// Audit cross-checks the cached balance against the ledger.
func (h *Handler) Audit(c *fiber.Ctx) error {
	report, err := h.service.Audit(userContext(c), c.Params("walletId"))
	if err != nil {
		return toHTTPError(err)
	}
	body := fiber.Map{
		"wallet_id":  report.WalletID,
		"cached":     money.Text(report.Cached, report.Currency),
		"recomputed": money.Text(report.Recomputed, report.Currency),
		"entries":    report.Entries,
		"consistent": report.Consistent(),
	}
	if report.ChainErr != nil {
		body["chain_error"] = report.ChainErr.Error()
	}
	return c.Status(http.StatusOK).JSON(body)
}

// userContext carries the authenticated user, when there is one, so the
// service can enforce ownership.
func userContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if uid, _ := c.Locals("user_id").(string); uid != "" {
		ctx = WithActor(ctx, uid)
	}
	return ctx
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAccountExists), errors.Is(err, ErrWalletExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
