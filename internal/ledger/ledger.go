package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/congo-pay/congo_ledger/internal/money"
)

var (
	// ErrValidation marks malformed input: non-positive amounts, missing fields,
	// inconsistent kind/direction pairs. Callers fix the input; nothing is retried.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds occurs when a debit would take a wallet balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransactionNotFound is returned when a referenced entry does not exist in a wallet log.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrChainBroken indicates the stored hash chain does not match the entries.
	ErrChainBroken = errors.New("ledger hash chain broken")

	// ErrAlreadySettled is returned when a withdraw already has a settlement or reversal.
	ErrAlreadySettled = errors.New("withdrawal already settled")
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindTransfer Kind = "transfer"
	KindInvest   Kind = "invest"
	// KindSettlement confirms a pending withdraw cleared. It carries no balance effect.
	KindSettlement Kind = "settlement"
	// KindReversal compensates a withdraw whose clearing failed.
	KindReversal Kind = "reversal"
)

// Direction is the sign of an entry's balance effect.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
	DirectionNone   Direction = "none"
)

// Status of an entry at the time it was appended.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Order selects the iteration order of a wallet log.
type Order int

const (
	// OrderNewestFirst is the display order and the default.
	OrderNewestFirst Order = iota
	// OrderChronological is the append order, used for recomputation and audits.
	OrderChronological
)

// ParseOrder maps the query-string form of an ordering.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newest", "desc", "newest_first":
		return OrderNewestFirst, nil
	case "chronological", "asc", "oldest":
		return OrderChronological, nil
	default:
		return 0, fmt.Errorf("%w: unknown order %q", ErrValidation, s)
	}
}

// Counterparty holds the display labels of both sides of an entry.
type Counterparty struct {
	Sender   string
	Receiver string
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID        string
	WalletID  string
	Seq       int64
	Kind      Kind
	Direction Direction
	Amount    money.Amount
	Currency  string
	Counterparty
	Status         Status
	Memo           string
	Timestamp      time.Time
	RelatedRoundID string
	RelatedTxID    string
	PrevHash       string
	Hash           string
}

var directions = map[Kind][]Direction{
	KindDeposit:    {DirectionCredit},
	KindWithdraw:   {DirectionDebit},
	KindTransfer:   {DirectionDebit, DirectionCredit},
	KindInvest:     {DirectionDebit},
	KindSettlement: {DirectionNone},
	KindReversal:   {DirectionCredit},
}

// Validate checks the structural rules every entry must satisfy before it is stored.
func Validate(tx Transaction) error {
	if strings.TrimSpace(tx.WalletID) == "" {
		return fmt.Errorf("%w: wallet id is required", ErrValidation)
	}
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if strings.TrimSpace(tx.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	allowed, ok := directions[tx.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, tx.Kind)
	}
	valid := false
	for _, d := range allowed {
		if d == tx.Direction {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s cannot be a %q entry", ErrValidation, tx.Kind, tx.Direction)
	}
	switch tx.Status {
	case StatusPending, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, tx.Status)
	}
	if (tx.Kind == KindInvest) != (tx.RelatedRoundID != "") {
		return fmt.Errorf("%w: round reference is required on invest entries only", ErrValidation)
	}
	resolves := tx.Kind == KindSettlement || tx.Kind == KindReversal
	if resolves != (tx.RelatedTxID != "") {
		return fmt.Errorf("%w: transaction reference is required on settlement and reversal entries only", ErrValidation)
	}
	return nil
}

// Effect returns the signed balance change the entry carries.
func Effect(tx Transaction) money.Amount {
	switch tx.Direction {
	case DirectionCredit:
		return tx.Amount
	case DirectionDebit:
		return tx.Amount.Neg()
	default:
		return 0
	}
}
