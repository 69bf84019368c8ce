package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
)

// Investment is the round side of an invest command.
type Investment struct {
	RoundID    string
	InvestorID string
	Amount     money.Amount
}

// Commit is one atomic unit of work: every entry is appended to its wallet
// log and applied to its wallet balance, and the optional investment is
// recorded against its round. Either all of it is persisted or none of it.
type Commit struct {
	Entries    []ledger.Transaction
	Investment *Investment
	Cap        funding.CapPolicy
	Now        time.Time
}

// Receipt is what a successful commit persisted: the sealed entries in commit
// order and the resulting balance of every wallet touched.
type Receipt struct {
	Entries  []ledger.Transaction
	Balances map[string]money.Amount
}

// Balance returns the post-commit balance of walletID.
func (r Receipt) Balance(walletID string) money.Amount {
	return r.Balances[walletID]
}

func (c Commit) validate() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("%w: commit has no entries", ledger.ErrValidation)
	}
	if c.Investment != nil && !c.Investment.Amount.IsPositive() {
		return fmt.Errorf("%w: investment amount must be positive", ledger.ErrValidation)
	}
	return nil
}

// walletIDs returns the distinct wallets touched by the commit in lock order.
func (c Commit) walletIDs() []string {
	ids := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		ids = append(ids, e.WalletID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (c Commit) now() time.Time {
	if c.Now.IsZero() {
		return time.Now().UTC()
	}
	return c.Now
}

// stamped returns the entries with unset timestamps filled from the commit clock.
func (c Commit) stamped() []ledger.Transaction {
	now := c.now()
	out := make([]ledger.Transaction, len(c.Entries))
	for i, e := range c.Entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		out[i] = e
	}
	return out
}
