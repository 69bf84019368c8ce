package ledger

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal is a concurrency-safe, in-memory, append-only store of wallet logs.
// It exposes no update or delete operation.
type Journal struct {
	mu       sync.RWMutex
	byWallet map[string][]Transaction
	now      func() time.Time
}

// NewJournal creates an empty journal using the wall clock.
func NewJournal() *Journal {
	return NewJournalWithClock(func() time.Time { return time.Now().UTC() })
}

// NewJournalWithClock creates an empty journal with an injected clock.
func NewJournalWithClock(now func() time.Time) *Journal {
	return &Journal{byWallet: make(map[string][]Transaction), now: now}
}

// Append validates, seals and stores a single entry.
func (j *Journal) Append(tx Transaction) (Transaction, error) {
	stored, err := j.AppendBatch(tx)
	if err != nil {
		return Transaction{}, err
	}
	return stored[0], nil
}

// AppendBatch stores several entries as one unit: either every entry is
// appended or none is.
func (j *Journal) AppendBatch(txs ...Transaction) ([]Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	tails := make(map[string]Transaction)
	prepared := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		prev, ok := tails[tx.WalletID]
		if !ok {
			if log := j.byWallet[tx.WalletID]; len(log) > 0 {
				prev = log[len(log)-1]
			}
		}
		sealed, err := Prepare(prev, tx, j.now())
		if err != nil {
			return nil, err
		}
		tails[tx.WalletID] = sealed
		prepared = append(prepared, sealed)
	}
	for _, tx := range prepared {
		j.byWallet[tx.WalletID] = append(j.byWallet[tx.WalletID], tx)
	}
	return prepared, nil
}

// Prepare validates tx and fills the fields assigned at append time: id,
// sequence, timestamp and hash chain. prev is the wallet's current tail entry
// (zero value for an empty log).
func Prepare(prev Transaction, tx Transaction, now time.Time) (Transaction, error) {
	if err := Validate(tx); err != nil {
		return Transaction{}, err
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.Seq = prev.Seq + 1
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	// storage keeps microseconds; the hash must survive a round trip
	tx.Timestamp = tx.Timestamp.UTC().Truncate(time.Microsecond)
	if tx.Timestamp.Before(prev.Timestamp) {
		tx.Timestamp = prev.Timestamp
	}
	return Seal(prev.Hash, tx), nil
}

// List returns the wallet log in the requested order. Each iteration works on
// the log as it was when the iteration started, so the sequence can be ranged
// over any number of times.
func (j *Journal) List(walletID string, order Order) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		j.mu.RLock()
		snapshot := slices.Clone(j.byWallet[walletID])
		j.mu.RUnlock()

		if order == OrderNewestFirst {
			slices.Reverse(snapshot)
		}
		for _, tx := range snapshot {
			if !yield(tx, nil) {
				return
			}
		}
	}
}

// Find looks up a single entry of a wallet log.
func (j *Journal) Find(walletID, id string) (Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, tx := range j.byWallet[walletID] {
		if tx.ID == id {
			return tx, nil
		}
	}
	return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
}

// Len reports the number of entries in a wallet log.
func (j *Journal) Len(walletID string) int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.byWallet[walletID])
}
