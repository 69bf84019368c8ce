package payments

import (
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
)

// Command is one of Deposit, Withdraw, Transfer, Invest or Settle.
type Command interface {
	kind() ledger.Kind
}

// Deposit credits the wallet from one of its linked accounts.
type Deposit struct {
	Amount    money.Amount
	SourceRef string
}

// Withdraw debits the wallet pending external clearing. Account optionally
// names the linked account receiving the funds.
type Withdraw struct {
	Amount  money.Amount
	Account string
}

// Transfer sends funds to a named recipient or, when Recipient is the id of
// another wallet in the same currency, to that wallet.
type Transfer struct {
	Amount    money.Amount
	Recipient string
	Memo      string
}

// Invest commits funds to a funding round.
type Invest struct {
	RoundID string
	Amount  money.Amount
}

// Settle resolves a pending withdraw once external clearing reports back.
// Outcome is ledger.StatusCompleted or ledger.StatusFailed.
type Settle struct {
	TxID    string
	Outcome ledger.Status
}

func (Deposit) kind() ledger.Kind  { return ledger.KindDeposit }
func (Withdraw) kind() ledger.Kind { return ledger.KindWithdraw }
func (Transfer) kind() ledger.Kind { return ledger.KindTransfer }
func (Invest) kind() ledger.Kind   { return ledger.KindInvest }
func (Settle) kind() ledger.Kind   { return ledger.KindSettlement }
