package ledger

import (
	"encoding/hex"
	"fmt"
	"iter"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Seal links tx to its predecessor and computes its hash.
func Seal(prevHash string, tx Transaction) Transaction {
	tx.PrevHash = prevHash
	tx.Hash = digest(tx)
	return tx
}

func digest(tx Transaction) string {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	fields := []string{
		tx.PrevHash,
		tx.ID,
		tx.WalletID,
		strconv.FormatInt(tx.Seq, 10),
		string(tx.Kind),
		string(tx.Direction),
		strconv.FormatInt(int64(tx.Amount), 10),
		tx.Currency,
		tx.Sender,
		tx.Receiver,
		string(tx.Status),
		tx.Memo,
		strconv.FormatInt(tx.Timestamp.UnixNano(), 10),
		tx.RelatedRoundID,
		tx.RelatedTxID,
	}
	for _, f := range fields {
		// length prefix keeps field boundaries unambiguous
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks a chronological wallet log: sequence numbers start at 1
// without gaps, timestamps never decrease, and every hash matches its entry
// and its predecessor.
func VerifyChain(seq iter.Seq2[Transaction, error]) error {
	var prev Transaction
	for tx, err := range seq {
		if err != nil {
			return err
		}
		if tx.Seq != prev.Seq+1 {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrChainBroken, prev.Seq+1, tx.Seq)
		}
		if tx.PrevHash != prev.Hash {
			return fmt.Errorf("%w: entry %s does not link to its predecessor", ErrChainBroken, tx.ID)
		}
		if tx.Timestamp.Before(prev.Timestamp) {
			return fmt.Errorf("%w: entry %s goes back in time", ErrChainBroken, tx.ID)
		}
		if digest(tx) != tx.Hash {
			return fmt.Errorf("%w: entry %s was altered", ErrChainBroken, tx.ID)
		}
		prev = tx
	}
	return nil
}

// Collect drains a sequence into a slice.
func Collect(seq iter.Seq2[Transaction, error]) ([]Transaction, error) {
	var out []Transaction
	for tx, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// Resolve derives the effective status of every withdraw in a wallet log from
// the settlement and reversal entries that reference it.
func Resolve(seq iter.Seq2[Transaction, error]) (map[string]Status, error) {
	statuses := make(map[string]Status)
	resolved := make(map[string]Status)
	for tx, err := range seq {
		if err != nil {
			return nil, err
		}
		switch tx.Kind {
		case KindWithdraw:
			statuses[tx.ID] = tx.Status
		case KindSettlement:
			resolved[tx.RelatedTxID] = StatusCompleted
		case KindReversal:
			resolved[tx.RelatedTxID] = StatusFailed
		}
	}
	for id, st := range resolved {
		if _, ok := statuses[id]; ok {
			statuses[id] = st
		}
	}
	return statuses, nil
}

// EffectiveStatus returns the status to display for tx given the resolution map.
func EffectiveStatus(tx Transaction, resolved map[string]Status) Status {
	if st, ok := resolved[tx.ID]; ok {
		return st
	}
	return tx.Status
}

// All adapts a slice to the sequence form used by the readers in this package.
func All(txs []Transaction) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		for _, tx := range txs {
			if !yield(tx, nil) {
				return
			}
		}
	}
}

// UpTo truncates a chronological sequence after the entry with sequence head.
func UpTo(seq iter.Seq2[Transaction, error], head int64) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		for tx, err := range seq {
			if err == nil && tx.Seq > head {
				return
			}
			if !yield(tx, err) {
				return
			}
		}
	}
}
