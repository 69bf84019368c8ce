package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

// Memory keeps wallets, rounds and the journal in process. A single RWMutex
// covers all three, so readers only ever observe whole commits.
type Memory struct {
	mu      sync.RWMutex
	wallets map[string]wallet.Wallet
	// owners maps an owner to the one wallet it holds.
	owners  map[string]string
	rounds  map[string]funding.Round
	journal *ledger.Journal
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		wallets: make(map[string]wallet.Wallet),
		owners:  make(map[string]string),
		rounds:  make(map[string]funding.Round),
		journal: ledger.NewJournal(),
	}
}

// CreateWallet stores a new wallet. An owner holds at most one.
func (m *Memory) CreateWallet(_ context.Context, w wallet.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[w.ID]; ok {
		return fmt.Errorf("%w: wallet %s already exists", ledger.ErrValidation, w.ID)
	}
	if id, ok := m.owners[w.OwnerID]; ok {
		return fmt.Errorf("%w: %s holds %s", wallet.ErrWalletExists, w.OwnerID, id)
	}
	w.LinkedAccounts = slices.Clone(w.LinkedAccounts)
	m.wallets[w.ID] = w
	m.owners[w.OwnerID] = w.ID
	return nil
}

// Wallet returns a copy of the stored wallet.
func (m *Memory) Wallet(_ context.Context, id string) (wallet.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return wallet.Wallet{}, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, id)
	}
	w.LinkedAccounts = slices.Clone(w.LinkedAccounts)
	return w, nil
}

// AddLinkedAccount attaches a funding source to a wallet.
func (m *Memory) AddLinkedAccount(_ context.Context, walletID string, acct wallet.LinkedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, walletID)
	}
	if _, exists := w.LinkedAccount(acct.Ref); exists {
		return fmt.Errorf("%w: %s", wallet.ErrAccountExists, acct.Ref)
	}
	w.LinkedAccounts = append(slices.Clone(w.LinkedAccounts), acct)
	m.wallets[walletID] = w
	return nil
}

// Transactions returns the wallet log. Each iteration snapshots the log under
// the store lock.
func (m *Memory) Transactions(_ context.Context, walletID string, order ledger.Order) iter.Seq2[ledger.Transaction, error] {
	return func(yield func(ledger.Transaction, error) bool) {
		m.mu.RLock()
		entries, err := ledger.Collect(m.journal.List(walletID, order))
		m.mu.RUnlock()
		if err != nil {
			yield(ledger.Transaction{}, err)
			return
		}
		for _, tx := range entries {
			if !yield(tx, nil) {
				return
			}
		}
	}
}

// Find returns one entry of a wallet log.
func (m *Memory) Find(_ context.Context, walletID, txID string) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.journal.Find(walletID, txID)
}

// CreateRound imports a round.
func (m *Memory) CreateRound(_ context.Context, r funding.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; ok {
		return fmt.Errorf("%w: %s", funding.ErrRoundExists, r.ID)
	}
	r.Participants = slices.Clone(r.Participants)
	m.rounds[r.ID] = r
	return nil
}

// Round returns a copy of a stored round.
func (m *Memory) Round(_ context.Context, id string) (funding.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[id]
	if !ok {
		return funding.Round{}, fmt.Errorf("%w: %s", funding.ErrRoundNotFound, id)
	}
	r.Participants = slices.Clone(r.Participants)
	return r, nil
}

// Rounds lists rounds by deadline.
func (m *Memory) Rounds(_ context.Context) ([]funding.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]funding.Round, 0, len(m.rounds))
	for _, r := range m.rounds {
		r.Participants = slices.Clone(r.Participants)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WithdrawRound closes a round for further investment.
func (m *Memory) WithdrawRound(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return fmt.Errorf("%w: %s", funding.ErrRoundNotFound, id)
	}
	r.Withdrawn = true
	m.rounds[id] = r
	return nil
}

// Commit applies c atomically. Every new state is computed before anything
// is written, so a failure at any step leaves the store untouched.
func (m *Memory) Commit(_ context.Context, c Commit) (Receipt, error) {
	if err := c.validate(); err != nil {
		return Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]wallet.Wallet)
	for _, id := range c.walletIDs() {
		w, ok := m.wallets[id]
		if !ok {
			return Receipt{}, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, id)
		}
		next[id] = w
	}
	for _, e := range c.Entries {
		if err := m.checkResolution(e); err != nil {
			return Receipt{}, err
		}
		w, err := wallet.Apply(next[e.WalletID], e)
		if err != nil {
			return Receipt{}, err
		}
		next[e.WalletID] = w
	}

	var round funding.Round
	if inv := c.Investment; inv != nil {
		r, ok := m.rounds[inv.RoundID]
		if !ok {
			return Receipt{}, fmt.Errorf("%w: %s", funding.ErrRoundNotFound, inv.RoundID)
		}
		if err := c.Cap.Admit(r, inv.Amount, c.now()); err != nil {
			return Receipt{}, err
		}
		recorded, err := funding.Record(r, inv.InvestorID, inv.Amount)
		if err != nil {
			return Receipt{}, err
		}
		round = recorded
	}

	stored, err := m.journal.AppendBatch(c.stamped()...)
	if err != nil {
		return Receipt{}, err
	}
	for _, tx := range stored {
		w := next[tx.WalletID]
		w.Head = tx.Seq
		next[tx.WalletID] = w
	}
	receipt := Receipt{Entries: stored, Balances: make(map[string]money.Amount, len(next))}
	for id, w := range next {
		m.wallets[id] = w
		receipt.Balances[id] = w.Balance
	}
	if c.Investment != nil {
		m.rounds[round.ID] = round
	}
	return receipt, nil
}

// checkResolution rejects a second settlement or reversal of the same withdraw.
func (m *Memory) checkResolution(e ledger.Transaction) error {
	if e.RelatedTxID == "" {
		return nil
	}
	for tx := range m.journal.List(e.WalletID, ledger.OrderChronological) {
		if tx.RelatedTxID == e.RelatedTxID {
			return fmt.Errorf("%w: %s", ledger.ErrAlreadySettled, e.RelatedTxID)
		}
	}
	return nil
}
