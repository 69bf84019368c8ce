package ledger

import (
	"time"

	"github.com/congo-pay/congo_ledger/internal/money"
)

// View is the wire representation of an entry.
type View struct {
	ID             string    `json:"id"`
	WalletID       string    `json:"wallet_id"`
	Seq            int64     `json:"seq"`
	Kind           Kind      `json:"kind"`
	Direction      Direction `json:"direction"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Status         Status    `json:"status"`
	Memo           string    `json:"memo,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	RelatedRoundID string    `json:"related_round_id,omitempty"`
	RelatedTxID    string    `json:"related_tx_id,omitempty"`
	Hash           string    `json:"hash"`
}

// NewView renders tx, reporting status instead of the status recorded at append time.
func NewView(tx Transaction, status Status) View {
	return View{
		ID:             tx.ID,
		WalletID:       tx.WalletID,
		Seq:            tx.Seq,
		Kind:           tx.Kind,
		Direction:      tx.Direction,
		Amount:         money.Text(tx.Amount, tx.Currency),
		Currency:       tx.Currency,
		Sender:         tx.Sender,
		Receiver:       tx.Receiver,
		Status:         status,
		Memo:           tx.Memo,
		Timestamp:      tx.Timestamp,
		RelatedRoundID: tx.RelatedRoundID,
		RelatedTxID:    tx.RelatedTxID,
		Hash:           tx.Hash,
	}
}
