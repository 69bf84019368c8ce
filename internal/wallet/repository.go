package wallet

import (
	"context"
	"iter"

	"github.com/congo-pay/congo_ledger/internal/ledger"
)

// Repository persists wallet metadata. Balances are only ever changed by a
// storage commit, so there is no balance setter here.
type Repository interface {
	CreateWallet(ctx context.Context, wallet Wallet) error
	Wallet(ctx context.Context, id string) (Wallet, error)
	AddLinkedAccount(ctx context.Context, walletID string, account LinkedAccount) error
}

// History reads wallet logs from the ledger entry store.
type History interface {
	Transactions(ctx context.Context, walletID string, order ledger.Order) iter.Seq2[ledger.Transaction, error]
}
