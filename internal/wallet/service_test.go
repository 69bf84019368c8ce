package wallet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/store"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

func TestServiceCreateAndBalance(t *testing.T) {
	mem := store.NewMemory()
	svc := wallet.NewService(mem, mem, "USD")

	ctx := context.Background()
	ownerID := uuid.NewString()
	w, err := svc.Create(ctx, wallet.CreateInput{OwnerID: ownerID, OpeningBalance: 2_500})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %s", w.Currency)
	}

	fetched, err := svc.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if fetched.ID != w.ID || fetched.OwnerID != ownerID {
		t.Fatalf("expected wallet ID %s, got %s", w.ID, fetched.ID)
	}

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 2_500 {
		t.Fatalf("expected balance 2500, got %d", balance.Amount)
	}
}

func TestServiceCreateValidation(t *testing.T) {
	mem := store.NewMemory()
	svc := wallet.NewService(mem, mem, "USD")
	ctx := context.Background()

	cases := map[string]wallet.CreateInput{
		"owner not a uuid": {OwnerID: "bob"},
		"unknown currency": {OwnerID: uuid.NewString(), Currency: "ZZZ"},
		"negative opening": {OwnerID: uuid.NewString(), OpeningBalance: -1},
	}
	for name, in := range cases {
		if _, err := svc.Create(ctx, in); !errors.Is(err, ledger.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestServiceLinkAccount(t *testing.T) {
	mem := store.NewMemory()
	svc := wallet.NewService(mem, mem, "USD")
	ctx := context.Background()
	w, _ := svc.Create(ctx, wallet.CreateInput{OwnerID: uuid.NewString()})

	acct, err := svc.LinkAccount(ctx, w.ID, wallet.LinkInput{Ref: " visa-4242 ", Kind: "Card"})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if acct.Ref != "visa-4242" || acct.DisplayName != "visa-4242" || acct.Kind != wallet.AccountKindCard {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if _, err := svc.LinkAccount(ctx, w.ID, wallet.LinkInput{Ref: "x", Kind: "crypto"}); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.LinkAccount(ctx, w.ID, wallet.LinkInput{Ref: "visa-4242"}); !errors.Is(err, wallet.ErrAccountExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestServiceAuditDetectsDrift(t *testing.T) {
	mem := store.NewMemory()
	svc := wallet.NewService(mem, mem, "USD")
	ctx := context.Background()
	w, _ := svc.Create(ctx, wallet.CreateInput{OwnerID: uuid.NewString(), OpeningBalance: 1_000})

	deposit := ledger.Transaction{
		WalletID: w.ID, Kind: ledger.KindDeposit, Direction: ledger.DirectionCredit,
		Amount: 250, Currency: "USD", Status: ledger.StatusCompleted,
	}
	if _, err := mem.Commit(ctx, store.Commit{Entries: []ledger.Transaction{deposit}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	report, err := svc.Audit(ctx, w.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent() || report.Cached != 1_250 || report.Entries != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	drifted := wallet.AuditReport{Cached: 1_250, Recomputed: 1_000}
	if drifted.Consistent() {
		t.Fatalf("expected drift to be reported")
	}
}

func TestApplyRejectsOverdraftAndCurrencyMismatch(t *testing.T) {
	w := wallet.Wallet{ID: "w", Currency: "USD", Balance: 100}
	debit := ledger.Transaction{WalletID: "w", Direction: ledger.DirectionDebit, Amount: 101, Currency: "USD"}
	if _, err := wallet.Apply(w, debit); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	debit.Amount, debit.Currency = 10, "EUR"
	if _, err := wallet.Apply(w, debit); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	debit.Currency = "USD"
	next, err := wallet.Apply(w, debit)
	if err != nil || next.Balance != 90 || w.Balance != 100 {
		t.Fatalf("apply should return a new wallet: %+v, %v", next, err)
	}
}

func TestServiceCreateOneWalletPerOwner(t *testing.T) {
	mem := store.NewMemory()
	svc := wallet.NewService(mem, mem, "USD")
	ctx := context.Background()
	owner := uuid.NewString()

	if _, err := svc.Create(ctx, wallet.CreateInput{OwnerID: owner}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := svc.Create(ctx, wallet.CreateInput{OwnerID: owner, Currency: "EUR"}); !errors.Is(err, wallet.ErrWalletExists) {
		t.Fatalf("expected wallet exists error, got %v", err)
	}
}

func TestServiceEnforcesOwnership(t *testing.T) {
	mem := store.NewMemory()
	svc := wallet.NewService(mem, mem, "USD")
	owner, stranger := uuid.NewString(), uuid.NewString()
	asOwner := wallet.WithActor(context.Background(), owner)
	asStranger := wallet.WithActor(context.Background(), stranger)

	if _, err := svc.Create(asStranger, wallet.CreateInput{OwnerID: owner}); !errors.Is(err, wallet.ErrNotOwner) {
		t.Fatalf("expected not owner creating a wallet for someone else, got %v", err)
	}
	w, err := svc.Create(asOwner, wallet.CreateInput{})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.OwnerID != owner {
		t.Fatalf("expected owner %s taken from the caller, got %s", owner, w.OwnerID)
	}

	checks := map[string]func(ctx context.Context) error{
		"get": func(ctx context.Context) error {
			_, err := svc.Get(ctx, w.ID)
			return err
		},
		"balance": func(ctx context.Context) error {
			_, err := svc.Balance(ctx, w.ID)
			return err
		},
		"statement": func(ctx context.Context) error {
			_, err := svc.Statement(ctx, w.ID, ledger.OrderNewestFirst)
			return err
		},
		"audit": func(ctx context.Context) error {
			_, err := svc.Audit(ctx, w.ID)
			return err
		},
	}
	for name, check := range checks {
		if err := check(asStranger); !errors.Is(err, wallet.ErrNotOwner) {
			t.Fatalf("%s: expected not owner, got %v", name, err)
		}
		if err := check(asOwner); err != nil {
			t.Fatalf("%s as owner: %v", name, err)
		}
	}

	if _, err := svc.LinkAccount(asStranger, w.ID, wallet.LinkInput{Ref: "chase-1"}); !errors.Is(err, wallet.ErrNotOwner) {
		t.Fatalf("expected not owner linking an account, got %v", err)
	}
	got, _ := svc.Get(asOwner, w.ID)
	if len(got.LinkedAccounts) != 0 {
		t.Fatalf("rejected link was stored: %+v", got.LinkedAccounts)
	}
}
