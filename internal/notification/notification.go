package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// KindTransactionCommitted is sent once per ledger entry after its commit.
	KindTransactionCommitted = "ledger.transaction.committed"
)

// Message describes a notification payload.
type Message struct {
	Kind          string    `json:"kind"`
	Destination   string    `json:"destination"`
	Body          string    `json:"body"`
	WalletID      string    `json:"wallet_id"`
	TransactionID string    `json:"transaction_id"`
	EntryKind     string    `json:"entry_kind"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("wallet_id", message.WalletID),
		slog.String("tx_id", message.TransactionID),
		slog.String("body", message.Body),
	)
	return nil
}

// Multi fans a message out to several notifiers.
type Multi []Notifier

// Send delivers to every notifier and joins their errors.
func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
