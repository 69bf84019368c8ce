package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
)

const (
	statusActive = "active"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo            Repository
	history         History
	defaultCurrency string
	now             func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository, history History, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Service{
		repo:            repo,
		history:         history,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID        string
	Currency       string
	OpeningBalance money.Amount
}

// Create provisions a wallet. An owner holds at most one wallet, and a caller
// may only provision its own.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if uid := ActorFrom(ctx); uid != "" {
		if input.OwnerID == "" {
			input.OwnerID = uid
		}
		if input.OwnerID != uid {
			return Wallet{}, ErrNotOwner
		}
	}
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, fmt.Errorf("%w: owner id: %v", ledger.ErrValidation, err)
	}
	if input.OpeningBalance.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: opening balance must not be negative", ledger.ErrValidation)
	}

	currency := input.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	currency, err := money.Currency(currency)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}

	wallet := Wallet{
		ID:             uuid.New().String(),
		OwnerID:        input.OwnerID,
		Currency:       currency,
		Status:         statusActive,
		OpeningBalance: input.OpeningBalance,
		Balance:        input.OpeningBalance,
		CreatedAt:      s.now(),
	}

	if err := s.repo.CreateWallet(ctx, wallet); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	wallet, err := s.repo.Wallet(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	if err := Authorize(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// LinkInput describes an external funding source.
type LinkInput struct {
	Ref         string
	DisplayName string
	Kind        string
}

// LinkAccount attaches a funding source usable for deposits.
func (s *Service) LinkAccount(ctx context.Context, walletID string, input LinkInput) (LinkedAccount, error) {
	acct := LinkedAccount{
		Ref:         strings.TrimSpace(input.Ref),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Kind:        strings.ToLower(strings.TrimSpace(input.Kind)),
	}
	if acct.Ref == "" {
		return LinkedAccount{}, fmt.Errorf("%w: account reference is required", ledger.ErrValidation)
	}
	if acct.DisplayName == "" {
		acct.DisplayName = acct.Ref
	}
	switch acct.Kind {
	case "":
		acct.Kind = AccountKindBank
	case AccountKindBank, AccountKindCard:
	default:
		return LinkedAccount{}, fmt.Errorf("%w: unknown account kind %q", ledger.ErrValidation, input.Kind)
	}
	if _, err := s.Get(ctx, walletID); err != nil {
		return LinkedAccount{}, err
	}
	if err := s.repo.AddLinkedAccount(ctx, walletID, acct); err != nil {
		return LinkedAccount{}, err
	}
	return acct, nil
}

// Balance returns the cached wallet balance.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: wallet.Balance, Currency: wallet.Currency, AsOf: s.now()}, nil
}

// Statement is a wallet log with the effective status of every entry.
type Statement struct {
	Wallet   Wallet
	Entries  []ledger.Transaction
	Statuses map[string]ledger.Status
}

// Status returns the status to display for tx.
func (st Statement) Status(tx ledger.Transaction) ledger.Status {
	return ledger.EffectiveStatus(tx, st.Statuses)
}

// Statement lists the wallet log in the requested order.
func (s *Service) Statement(ctx context.Context, id string, order ledger.Order) (Statement, error) {
	wallet, err := s.Get(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	entries, err := ledger.Collect(s.history.Transactions(ctx, id, order))
	if err != nil {
		return Statement{}, err
	}
	statuses, err := ledger.Resolve(ledger.All(entries))
	if err != nil {
		return Statement{}, err
	}
	return Statement{Wallet: wallet, Entries: entries, Statuses: statuses}, nil
}

// AuditReport compares the cached balance with the one derived from history.
type AuditReport struct {
	WalletID   string
	Currency   string
	Cached     money.Amount
	Recomputed money.Amount
	Entries    int
	ChainErr   error
}

// Consistent reports whether the cached balance matches history and the chain verifies.
func (r AuditReport) Consistent() bool {
	return r.Cached == r.Recomputed && r.ChainErr == nil
}

// Audit recomputes the balance from the chronological log up to the wallet's
// head entry and verifies the hash chain. Entries appended after the wallet
// was read are ignored, so the comparison is made against one snapshot.
func (s *Service) Audit(ctx context.Context, id string) (AuditReport, error) {
	wallet, err := s.Get(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	log := ledger.UpTo(s.history.Transactions(ctx, id, ledger.OrderChronological), wallet.Head)
	recomputed, err := Recompute(wallet.OpeningBalance, log)
	if err != nil {
		return AuditReport{}, err
	}
	entries := 0
	for _, err := range log {
		if err != nil {
			return AuditReport{}, err
		}
		entries++
	}
	return AuditReport{
		WalletID:   wallet.ID,
		Currency:   wallet.Currency,
		Cached:     wallet.Balance,
		Recomputed: recomputed,
		Entries:    entries,
		ChainErr:   ledger.VerifyChain(log),
	}, nil
}
