package wallet

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
)

var (
	// ErrWalletNotFound is returned when no wallet exists for an identifier.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrAccountExists is returned when linking a funding source twice.
	ErrAccountExists = errors.New("linked account already exists")
	// ErrWalletExists is returned when an owner already holds a wallet.
	ErrWalletExists = errors.New("owner already has a wallet")
	// ErrNotOwner indicates the caller does not own the wallet.
	ErrNotOwner = errors.New("not owner of wallet")
)

const (
	AccountKindBank = "bank"
	AccountKindCard = "card"
)

// LinkedAccount is an external funding source selectable for deposits.
type LinkedAccount struct {
	Ref         string
	DisplayName string
	Kind        string
}

// Wallet represents a stored value account backed by the ledger.
type Wallet struct {
	ID             string
	OwnerID        string
	Currency       string
	Status         string
	OpeningBalance money.Amount
	Balance        money.Amount
	// Head is the sequence number of the last entry reflected in Balance.
	Head           int64
	LinkedAccounts []LinkedAccount
	CreatedAt      time.Time
}

// LinkedAccount looks up a funding source by reference.
func (w Wallet) LinkedAccount(ref string) (LinkedAccount, bool) {
	for _, acct := range w.LinkedAccounts {
		if acct.Ref == ref {
			return acct, true
		}
	}
	return LinkedAccount{}, false
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   money.Amount
	Currency string
	AsOf     time.Time
}

// Apply returns w with the balance effect of tx applied. It never touches
// stored state; storage backends call it inside their atomic commit.
func Apply(w Wallet, tx ledger.Transaction) (Wallet, error) {
	if tx.WalletID != w.ID {
		return Wallet{}, fmt.Errorf("%w: entry belongs to wallet %s", ledger.ErrValidation, tx.WalletID)
	}
	if tx.Currency != w.Currency {
		return Wallet{}, fmt.Errorf("%w: currency %s does not match wallet currency %s", ledger.ErrValidation, tx.Currency, w.Currency)
	}
	next, err := w.Balance.Add(ledger.Effect(tx))
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	if next.IsNegative() {
		return Wallet{}, ledger.ErrInsufficientFunds
	}
	w.Balance = next
	return w, nil
}

// Recompute derives a balance from the opening balance and a wallet log.
func Recompute(opening money.Amount, seq iter.Seq2[ledger.Transaction, error]) (money.Amount, error) {
	balance := opening
	for tx, err := range seq {
		if err != nil {
			return 0, err
		}
		next, err := balance.Add(ledger.Effect(tx))
		if err != nil {
			return 0, err
		}
		balance = next
	}
	return balance, nil
}
