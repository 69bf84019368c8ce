package payments

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

// Handler exposes the command interface over HTTP.
type Handler struct {
	processor *Processor
}

// NewHandler constructs a payment handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

type depositRequest struct {
	Amount    string `json:"amount"`
	SourceRef string `json:"source_ref"`
}

type withdrawRequest struct {
	Amount     string `json:"amount"`
	AccountRef string `json:"account_ref"`
}

type transferRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Memo      string `json:"memo"`
}

type investRequest struct {
	RoundID string `json:"round_id"`
	Amount  string `json:"amount"`
}

type settleRequest struct {
	Outcome string `json:"outcome"`
}

// Deposit credits the wallet from a linked account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.run(c, req.Amount, func(amount money.Amount) Command {
		return Deposit{Amount: amount, SourceRef: req.SourceRef}
	})
}

// Withdraw debits the wallet pending clearing.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.run(c, req.Amount, func(amount money.Amount) Command {
		return Withdraw{Amount: amount, Account: req.AccountRef}
	})
}

// Transfer sends funds to a recipient.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.run(c, req.Amount, func(amount money.Amount) Command {
		return Transfer{Amount: amount, Recipient: req.Recipient, Memo: req.Memo}
	})
}

// Invest commits funds to a round.
func (h *Handler) Invest(c *fiber.Ctx) error {
	var req investRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.run(c, req.Amount, func(amount money.Amount) Command {
		return Invest{RoundID: req.RoundID, Amount: amount}
	})
}

// Settle resolves a pending withdrawal.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.processor.Run(actorContext(c), c.Params("walletId"), Settle{TxID: c.Params("txId"), Outcome: ledger.Status(req.Outcome)})
	if err != nil {
		return toHTTPError(err)
	}
	return respond(c, res)
}

// run parses the amount in the wallet's currency and executes the command.
func (h *Handler) run(c *fiber.Ctx, rawAmount string, build func(money.Amount) Command) error {
	ctx := actorContext(c)
	walletID := c.Params("walletId")
	w, err := h.processor.Wallet(ctx, walletID)
	if err != nil {
		return toHTTPError(err)
	}
	amount, err := money.Parse(rawAmount, w.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.processor.Run(ctx, walletID, build(amount))
	if err != nil {
		return toHTTPError(err)
	}
	return respond(c, res)
}

func actorContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if uid, _ := c.Locals("user_id").(string); uid != "" {
		ctx = WithActor(ctx, uid)
	}
	return ctx
}

// respond reports the balance from the same commit as the entry.
func respond(c *fiber.Ctx, res Result) error {
	tx := res.Transaction
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction": ledger.NewView(tx, tx.Status),
		"balance":     money.Text(res.Balance, tx.Currency),
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrSelfSettlement):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, funding.ErrRoundNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, funding.ErrRoundClosed),
		errors.Is(err, funding.ErrRoundCapExceeded),
		errors.Is(err, ledger.ErrAlreadySettled):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
