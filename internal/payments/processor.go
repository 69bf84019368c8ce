package payments

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/logging"
	"github.com/congo-pay/congo_ledger/internal/money"
	"github.com/congo-pay/congo_ledger/internal/notification"
	"github.com/congo-pay/congo_ledger/internal/store"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

var (
	// ErrNotOwner indicates the caller does not own the wallet.
	ErrNotOwner = wallet.ErrNotOwner
	// ErrSelfSettlement is returned when an account holder tries to clear or
	// reverse a withdrawal from their own wallet.
	ErrSelfSettlement = errors.New("account holders cannot settle their own withdrawals")
	// ErrUnknownSource is returned when a command names an account the wallet has not linked.
	ErrUnknownSource = fmt.Errorf("%w: unknown linked account", ledger.ErrValidation)
)

const (
	labelYou  = "You"
	labelBank = "Bank Account"
)

// Backend is the storage the processor reads state from and commits to.
type Backend interface {
	Wallet(ctx context.Context, id string) (wallet.Wallet, error)
	Round(ctx context.Context, id string) (funding.Round, error)
	Find(ctx context.Context, walletID, txID string) (ledger.Transaction, error)
	Transactions(ctx context.Context, walletID string, order ledger.Order) iter.Seq2[ledger.Transaction, error]
	Commit(ctx context.Context, c store.Commit) (store.Receipt, error)
}

// WithActor marks ctx as acting for userID; commands then require ownership.
func WithActor(ctx context.Context, userID string) context.Context {
	return wallet.WithActor(ctx, userID)
}

// Processor validates and executes ledger-mutating commands. Commands against
// the same wallet (and, for invest, the same round) never interleave.
type Processor struct {
	backend  Backend
	notifier notification.Notifier
	logger   *slog.Logger
	policy   funding.CapPolicy
	locks    *keyedMutex
	now      func() time.Time
}

// NewProcessor constructs a transaction processor.
func NewProcessor(backend Backend, notifier notification.Notifier, logger *slog.Logger, policy funding.CapPolicy) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	if policy == "" {
		policy = funding.CapUncapped
	}
	return &Processor{
		backend:  backend,
		notifier: notifier,
		logger:   logger,
		policy:   policy,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// plan is what a command builds before the commit.
type plan struct {
	commit store.Commit
	// recipient receives a notification for an internal transfer leg.
	recipient string
}

// Result is the outcome of a command: the entry appended to the commanded
// wallet's log and that wallet's balance as of the same commit.
type Result struct {
	Transaction ledger.Transaction
	Balance     money.Amount
}

// Execute runs cmd against walletID and returns the entry appended to that
// wallet's log. A failed command leaves every balance, log and round unchanged.
func (p *Processor) Execute(ctx context.Context, walletID string, cmd Command) (ledger.Transaction, error) {
	res, err := p.Run(ctx, walletID, cmd)
	return res.Transaction, err
}

// Run is Execute that also reports the post-commit balance. Locks are held
// only until the commit returns; notifications go out after they are released.
func (p *Processor) Run(ctx context.Context, walletID string, cmd Command) (Result, error) {
	w, pl, receipt, err := p.commit(ctx, walletID, cmd)
	if err != nil {
		return Result{}, err
	}

	for _, tx := range receipt.Entries {
		p.logger.Info("transaction committed",
			logging.Entry(tx.WalletID, tx.ID, string(tx.Kind)),
			slog.String("amount", money.Text(tx.Amount, tx.Currency)),
			slog.String("status", string(tx.Status)),
		)
		dest := w.OwnerID
		if tx.WalletID != w.ID {
			dest = pl.recipient
		}
		p.notify(ctx, dest, tx)
	}
	return Result{Transaction: receipt.Entries[0], Balance: receipt.Balance(w.ID)}, nil
}

// commit plans and persists cmd while holding the locks it needs.
func (p *Processor) commit(ctx context.Context, walletID string, cmd Command) (wallet.Wallet, plan, store.Receipt, error) {
	keys, err := p.lockKeys(ctx, walletID, cmd)
	if err != nil {
		return wallet.Wallet{}, plan{}, store.Receipt{}, err
	}
	unlock := p.locks.Lock(keys...)
	defer unlock()

	w, err := p.backend.Wallet(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, plan{}, store.Receipt{}, err
	}
	if err := authorize(ctx, w, cmd); err != nil {
		return wallet.Wallet{}, plan{}, store.Receipt{}, err
	}

	var pl plan
	switch c := cmd.(type) {
	case Deposit:
		pl, err = p.deposit(w, c)
	case Withdraw:
		pl, err = p.withdraw(w, c)
	case Transfer:
		pl, err = p.transfer(ctx, w, c)
	case Invest:
		pl, err = p.invest(ctx, w, c)
	case Settle:
		pl, err = p.settle(ctx, w, c)
	default:
		err = fmt.Errorf("%w: unsupported command %T", ledger.ErrValidation, cmd)
	}
	if err != nil {
		return wallet.Wallet{}, plan{}, store.Receipt{}, err
	}

	pl.commit.Cap = p.policy
	pl.commit.Now = p.now()
	receipt, err := p.backend.Commit(ctx, pl.commit)
	if err != nil {
		p.logger.Warn("command rejected",
			slog.String("wallet_id", walletID),
			slog.String("kind", string(cmd.kind())),
			slog.Any("error", err),
		)
		return wallet.Wallet{}, plan{}, store.Receipt{}, err
	}
	return w, pl, receipt, nil
}

// authorize checks the actor in ctx against w. Holders command their own
// wallet; settlement is a clearing decision and never made by the holder.
func authorize(ctx context.Context, w wallet.Wallet, cmd Command) error {
	if _, ok := cmd.(Settle); ok {
		if wallet.ActorFrom(ctx) == w.OwnerID {
			return ErrSelfSettlement
		}
		return nil
	}
	return wallet.Authorize(ctx, w)
}

// lockKeys names the locks a command needs. Wallet currency and ownership
// never change, so an internal transfer can be detected before locking.
func (p *Processor) lockKeys(ctx context.Context, walletID string, cmd Command) ([]string, error) {
	keys := []string{walletKey(walletID)}
	switch c := cmd.(type) {
	case Invest:
		if c.RoundID != "" {
			keys = append(keys, roundKey(c.RoundID))
		}
	case Transfer:
		if to, ok, err := p.internalRecipient(ctx, walletID, c.Recipient); err != nil {
			return nil, err
		} else if ok {
			keys = append(keys, walletKey(to.ID))
		}
	}
	return keys, nil
}

// internalRecipient reports whether recipient names another wallet.
func (p *Processor) internalRecipient(ctx context.Context, fromID, recipient string) (wallet.Wallet, bool, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || recipient == fromID {
		return wallet.Wallet{}, false, nil
	}
	to, err := p.backend.Wallet(ctx, recipient)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return wallet.Wallet{}, false, nil
	}
	if err != nil {
		return wallet.Wallet{}, false, err
	}
	return to, true, nil
}

func requirePositive(amount money.Amount) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ledger.ErrValidation)
	}
	return nil
}

func requireFunds(w wallet.Wallet, amount money.Amount) error {
	if amount > w.Balance {
		return ledger.ErrInsufficientFunds
	}
	return nil
}

func (p *Processor) deposit(w wallet.Wallet, c Deposit) (plan, error) {
	if err := requirePositive(c.Amount); err != nil {
		return plan{}, err
	}
	ref := strings.TrimSpace(c.SourceRef)
	if ref == "" {
		return plan{}, fmt.Errorf("%w: source account is required", ledger.ErrValidation)
	}
	acct, ok := w.LinkedAccount(ref)
	if !ok {
		return plan{}, fmt.Errorf("%w: %s", ErrUnknownSource, ref)
	}
	return single(ledger.Transaction{
		WalletID:     w.ID,
		Kind:         ledger.KindDeposit,
		Direction:    ledger.DirectionCredit,
		Amount:       c.Amount,
		Currency:     w.Currency,
		Counterparty: ledger.Counterparty{Sender: acct.DisplayName, Receiver: labelYou},
		Status:       ledger.StatusCompleted,
		Memo:         "Deposit from " + acct.DisplayName,
	}), nil
}

func (p *Processor) withdraw(w wallet.Wallet, c Withdraw) (plan, error) {
	if err := requirePositive(c.Amount); err != nil {
		return plan{}, err
	}
	receiver := labelBank
	if ref := strings.TrimSpace(c.Account); ref != "" {
		acct, ok := w.LinkedAccount(ref)
		if !ok {
			return plan{}, fmt.Errorf("%w: %s", ErrUnknownSource, ref)
		}
		receiver = acct.DisplayName
	}
	if err := requireFunds(w, c.Amount); err != nil {
		return plan{}, err
	}
	return single(ledger.Transaction{
		WalletID:     w.ID,
		Kind:         ledger.KindWithdraw,
		Direction:    ledger.DirectionDebit,
		Amount:       c.Amount,
		Currency:     w.Currency,
		Counterparty: ledger.Counterparty{Sender: labelYou, Receiver: receiver},
		Status:       ledger.StatusPending,
		Memo:         "Withdrawal to " + receiver,
	}), nil
}

func (p *Processor) transfer(ctx context.Context, w wallet.Wallet, c Transfer) (plan, error) {
	if err := requirePositive(c.Amount); err != nil {
		return plan{}, err
	}
	recipient := strings.TrimSpace(c.Recipient)
	if recipient == "" {
		return plan{}, fmt.Errorf("%w: recipient is required", ledger.ErrValidation)
	}
	if recipient == w.ID {
		return plan{}, fmt.Errorf("%w: cannot transfer to the same wallet", ledger.ErrValidation)
	}
	if err := requireFunds(w, c.Amount); err != nil {
		return plan{}, err
	}
	memo := strings.TrimSpace(c.Memo)
	out := ledger.Transaction{
		WalletID:     w.ID,
		Kind:         ledger.KindTransfer,
		Direction:    ledger.DirectionDebit,
		Amount:       c.Amount,
		Currency:     w.Currency,
		Counterparty: ledger.Counterparty{Sender: labelYou, Receiver: recipient},
		Status:       ledger.StatusCompleted,
		Memo:         memo,
	}

	to, internal, err := p.internalRecipient(ctx, w.ID, recipient)
	if err != nil {
		return plan{}, err
	}
	if !internal {
		return single(out), nil
	}
	if to.Currency != w.Currency {
		return plan{}, fmt.Errorf("%w: recipient wallet holds %s, not %s", ledger.ErrValidation, to.Currency, w.Currency)
	}
	in := out
	in.WalletID = to.ID
	in.Direction = ledger.DirectionCredit
	in.Counterparty = ledger.Counterparty{Sender: w.ID, Receiver: labelYou}
	return plan{
		commit:    store.Commit{Entries: []ledger.Transaction{out, in}},
		recipient: to.OwnerID,
	}, nil
}

func (p *Processor) invest(ctx context.Context, w wallet.Wallet, c Invest) (plan, error) {
	if err := requirePositive(c.Amount); err != nil {
		return plan{}, err
	}
	if strings.TrimSpace(c.RoundID) == "" {
		return plan{}, fmt.Errorf("%w: round id is required", ledger.ErrValidation)
	}
	round, err := p.backend.Round(ctx, c.RoundID)
	if err != nil {
		return plan{}, err
	}
	if !funding.IsOpen(round, p.now()) {
		return plan{}, fmt.Errorf("%w: %s", funding.ErrRoundClosed, round.ID)
	}
	if round.Currency != w.Currency {
		return plan{}, fmt.Errorf("%w: round raises %s, wallet holds %s", ledger.ErrValidation, round.Currency, w.Currency)
	}
	if err := requireFunds(w, c.Amount); err != nil {
		return plan{}, err
	}
	receiver := round.Company
	if receiver == "" {
		receiver = round.ID
	}
	name := round.Name
	if name == "" {
		name = round.ID
	}
	entry := ledger.Transaction{
		WalletID:       w.ID,
		Kind:           ledger.KindInvest,
		Direction:      ledger.DirectionDebit,
		Amount:         c.Amount,
		Currency:       w.Currency,
		Counterparty:   ledger.Counterparty{Sender: labelYou, Receiver: receiver},
		Status:         ledger.StatusCompleted,
		Memo:           "Investment in " + name,
		RelatedRoundID: round.ID,
	}
	return plan{commit: store.Commit{
		Entries:    []ledger.Transaction{entry},
		Investment: &store.Investment{RoundID: round.ID, InvestorID: w.OwnerID, Amount: c.Amount},
	}}, nil
}

func (p *Processor) settle(ctx context.Context, w wallet.Wallet, c Settle) (plan, error) {
	if strings.TrimSpace(c.TxID) == "" {
		return plan{}, fmt.Errorf("%w: transaction id is required", ledger.ErrValidation)
	}
	if c.Outcome != ledger.StatusCompleted && c.Outcome != ledger.StatusFailed {
		return plan{}, fmt.Errorf("%w: settlement outcome must be completed or failed", ledger.ErrValidation)
	}
	orig, err := p.backend.Find(ctx, w.ID, c.TxID)
	if err != nil {
		return plan{}, err
	}
	if orig.Kind != ledger.KindWithdraw {
		return plan{}, fmt.Errorf("%w: only withdrawals settle, %s is a %s", ledger.ErrValidation, orig.ID, orig.Kind)
	}
	resolved, err := ledger.Resolve(p.backend.Transactions(ctx, w.ID, ledger.OrderChronological))
	if err != nil {
		return plan{}, err
	}
	if ledger.EffectiveStatus(orig, resolved) != ledger.StatusPending {
		return plan{}, fmt.Errorf("%w: %s", ledger.ErrAlreadySettled, orig.ID)
	}

	entry := ledger.Transaction{
		WalletID:     w.ID,
		Amount:       orig.Amount,
		Currency:     orig.Currency,
		Counterparty: ledger.Counterparty{Sender: orig.Sender, Receiver: orig.Receiver},
		Status:       ledger.StatusCompleted,
		RelatedTxID:  orig.ID,
	}
	if c.Outcome == ledger.StatusCompleted {
		entry.Kind = ledger.KindSettlement
		entry.Direction = ledger.DirectionNone
		entry.Memo = "Withdrawal cleared"
	} else {
		entry.Kind = ledger.KindReversal
		entry.Direction = ledger.DirectionCredit
		entry.Counterparty = ledger.Counterparty{Sender: orig.Receiver, Receiver: labelYou}
		entry.Memo = "Withdrawal reversed"
	}
	return single(entry), nil
}

func single(tx ledger.Transaction) plan {
	return plan{commit: store.Commit{Entries: []ledger.Transaction{tx}}}
}

func (p *Processor) notify(ctx context.Context, destination string, tx ledger.Transaction) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.Send(ctx, notification.Message{
		Kind:          notification.KindTransactionCommitted,
		Destination:   destination,
		Body:          describe(tx),
		WalletID:      tx.WalletID,
		TransactionID: tx.ID,
		EntryKind:     string(tx.Kind),
		Amount:        money.Text(tx.Amount, tx.Currency),
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		OccurredAt:    tx.Timestamp,
	})
	if err != nil {
		p.logger.Warn("notification failed", logging.Entry(tx.WalletID, tx.ID, string(tx.Kind)), slog.Any("error", err))
	}
}

func describe(tx ledger.Transaction) string {
	amount := money.Format(tx.Amount, tx.Currency)
	switch tx.Kind {
	case ledger.KindDeposit:
		return fmt.Sprintf("Deposited %s from %s", amount, tx.Sender)
	case ledger.KindWithdraw:
		return fmt.Sprintf("Withdrawal of %s to %s is pending", amount, tx.Receiver)
	case ledger.KindTransfer:
		if tx.Direction == ledger.DirectionCredit {
			return fmt.Sprintf("You received %s from wallet %s", amount, tx.Sender)
		}
		return fmt.Sprintf("Sent %s to %s", amount, tx.Receiver)
	case ledger.KindInvest:
		return fmt.Sprintf("Invested %s in %s", amount, tx.RelatedRoundID)
	case ledger.KindSettlement:
		return fmt.Sprintf("Withdrawal of %s cleared", amount)
	case ledger.KindReversal:
		return fmt.Sprintf("Withdrawal of %s failed and was returned", amount)
	default:
		return amount
	}
}

// Deposit credits walletID from one of its linked accounts.
func (p *Processor) Deposit(ctx context.Context, walletID string, amount money.Amount, sourceRef string) (ledger.Transaction, error) {
	return p.Execute(ctx, walletID, Deposit{Amount: amount, SourceRef: sourceRef})
}

// Withdraw debits walletID pending external clearing.
func (p *Processor) Withdraw(ctx context.Context, walletID string, amount money.Amount) (ledger.Transaction, error) {
	return p.Execute(ctx, walletID, Withdraw{Amount: amount})
}

// Transfer sends funds from walletID to recipient.
func (p *Processor) Transfer(ctx context.Context, walletID string, amount money.Amount, recipient, memo string) (ledger.Transaction, error) {
	return p.Execute(ctx, walletID, Transfer{Amount: amount, Recipient: recipient, Memo: memo})
}

// Invest commits funds from walletID to a funding round.
func (p *Processor) Invest(ctx context.Context, walletID, roundID string, amount money.Amount) (ledger.Transaction, error) {
	return p.Execute(ctx, walletID, Invest{RoundID: roundID, Amount: amount})
}

// Settle resolves a pending withdraw of walletID. It is a clearing operation:
// a ctx acting for the wallet owner is refused.
func (p *Processor) Settle(ctx context.Context, walletID, txID string, outcome ledger.Status) (ledger.Transaction, error) {
	return p.Execute(ctx, walletID, Settle{TxID: txID, Outcome: outcome})
}

// GetBalance returns the cached wallet balance.
func (p *Processor) GetBalance(ctx context.Context, walletID string) (money.Amount, error) {
	w, err := p.backend.Wallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// ListTransactions returns the wallet log in the requested order.
func (p *Processor) ListTransactions(ctx context.Context, walletID string, order ledger.Order) iter.Seq2[ledger.Transaction, error] {
	return p.backend.Transactions(ctx, walletID, order)
}

// GetFundingRound returns a round or funding.ErrRoundNotFound.
func (p *Processor) GetFundingRound(ctx context.Context, roundID string) (funding.Round, error) {
	return p.backend.Round(ctx, roundID)
}

// Wallet returns the wallet a command would run against.
func (p *Processor) Wallet(ctx context.Context, walletID string) (wallet.Wallet, error) {
	return p.backend.Wallet(ctx, walletID)
}
