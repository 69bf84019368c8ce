package payments

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/logging"
	"github.com/congo-pay/congo_ledger/internal/money"
	"github.com/congo-pay/congo_ledger/internal/notification"
	"github.com/congo-pay/congo_ledger/internal/store"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *testNotifier) last() notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return notification.Message{}
	}
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	ctx      context.Context
	mem      *store.Memory
	wallets  *wallet.Service
	registry *funding.Registry
	notifier *testNotifier
	proc     *Processor
	now      time.Time
}

func newFixture(t *testing.T, policy funding.CapPolicy) *fixture {
	t.Helper()
	mem := store.NewMemory()
	notifier := &testNotifier{}
	f := &fixture{
		ctx:      context.Background(),
		mem:      mem,
		wallets:  wallet.NewService(mem, mem, "USD"),
		registry: funding.NewRegistry(mem),
		notifier: notifier,
		proc:     NewProcessor(mem, notifier, logging.Discard(), policy),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.proc.now = func() time.Time { return f.now }
	return f
}

// newWallet opens a USD wallet with a linked bank account "bank-1".
func (f *fixture) newWallet(t *testing.T, opening money.Amount) wallet.Wallet {
	t.Helper()
	w, err := f.wallets.Create(f.ctx, wallet.CreateInput{OwnerID: uuid.NewString(), Currency: "USD", OpeningBalance: opening})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := f.wallets.LinkAccount(f.ctx, w.ID, wallet.LinkInput{Ref: "bank-1", DisplayName: "Bank Account"}); err != nil {
		t.Fatalf("link account: %v", err)
	}
	return w
}

func (f *fixture) newRound(t *testing.T, id string, target money.Amount, deadline time.Time) {
	t.Helper()
	_, err := f.registry.Create(f.ctx, funding.Round{
		ID: id, Name: "Series A", Company: "Tech Startup Inc", Currency: "USD",
		TargetAmount: target, Deadline: deadline,
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, walletID string) money.Amount {
	t.Helper()
	b, err := f.proc.GetBalance(f.ctx, walletID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f *fixture) entries(t *testing.T, walletID string) []ledger.Transaction {
	t.Helper()
	out, err := ledger.Collect(f.proc.ListTransactions(f.ctx, walletID, ledger.OrderChronological))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return out
}

func (f *fixture) assertConsistent(t *testing.T, walletID string) {
	t.Helper()
	report, err := f.wallets.Audit(f.ctx, walletID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("wallet %s inconsistent: cached %d recomputed %d chain %v", walletID, report.Cached, report.Recomputed, report.ChainErr)
	}
}

func usd(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s, "USD")
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return a
}

func TestScenarioDepositWithdrawInvest(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, usd(t, "1000.00"))
	f.newRound(t, "seriesA", usd(t, "10000"), f.now.Add(30*24*time.Hour))

	dep, err := f.proc.Deposit(f.ctx, w.ID, usd(t, "500.00"), "bank-1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dep.Kind != ledger.KindDeposit || dep.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected deposit entry: %+v", dep)
	}
	if got := f.balance(t, w.ID); got != usd(t, "1500.00") {
		t.Fatalf("expected 1500.00, got %s", money.Text(got, "USD"))
	}

	if _, err := f.proc.Withdraw(f.ctx, w.ID, usd(t, "2000.00")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := f.balance(t, w.ID); got != usd(t, "1500.00") {
		t.Fatalf("balance changed after rejected withdraw: %s", money.Text(got, "USD"))
	}

	inv, err := f.proc.Invest(f.ctx, w.ID, "seriesA", usd(t, "300.00"))
	if err != nil {
		t.Fatalf("invest: %v", err)
	}
	if inv.Kind != ledger.KindInvest || inv.Status != ledger.StatusCompleted || inv.RelatedRoundID != "seriesA" {
		t.Fatalf("unexpected invest entry: %+v", inv)
	}
	if got := f.balance(t, w.ID); got != usd(t, "1200.00") {
		t.Fatalf("expected 1200.00, got %s", money.Text(got, "USD"))
	}
	round, err := f.proc.GetFundingRound(f.ctx, "seriesA")
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.RaisedAmount != usd(t, "300.00") {
		t.Fatalf("expected raised 300.00, got %s", money.Text(round.RaisedAmount, "USD"))
	}
	if p, ok := round.Participant(w.OwnerID); !ok || p.Amount != usd(t, "300.00") {
		t.Fatalf("expected participant entry, got %+v", round.Participants)
	}
	if n := len(f.entries(t, w.ID)); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	f.assertConsistent(t, w.ID)
}

func TestRejectedCommandsLeaveBalanceUnchanged(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 100)
	f.newRound(t, "seriesA", 10_000, f.now.Add(time.Hour))

	cases := []struct {
		name string
		cmd  Command
		want error
	}{
		{"withdraw over balance", Withdraw{Amount: 101}, ledger.ErrInsufficientFunds},
		{"transfer over balance", Transfer{Amount: 101, Recipient: "Alice"}, ledger.ErrInsufficientFunds},
		{"invest over balance", Invest{RoundID: "seriesA", Amount: 101}, ledger.ErrInsufficientFunds},
		{"zero deposit", Deposit{Amount: 0, SourceRef: "bank-1"}, ledger.ErrValidation},
		{"negative withdraw", Withdraw{Amount: -5}, ledger.ErrValidation},
		{"unknown source", Deposit{Amount: 10, SourceRef: "card-9"}, ErrUnknownSource},
		{"missing recipient", Transfer{Amount: 10, Recipient: "  "}, ledger.ErrValidation},
		{"self transfer", Transfer{Amount: 10, Recipient: w.ID}, ledger.ErrValidation},
		{"unknown round", Invest{RoundID: "seriesZ", Amount: 10}, funding.ErrRoundNotFound},
	}
	for _, tc := range cases {
		if _, err := f.proc.Execute(f.ctx, w.ID, tc.cmd); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if got := f.balance(t, w.ID); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
	if n := len(f.entries(t, w.ID)); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
	round, _ := f.proc.GetFundingRound(f.ctx, "seriesA")
	if round.RaisedAmount != 0 {
		t.Fatalf("round changed by rejected commands: %+v", round)
	}
}

func TestUnknownSourceIsValidationError(t *testing.T) {
	if !errors.Is(ErrUnknownSource, ledger.ErrValidation) {
		t.Fatalf("unknown source should be a validation error")
	}
}

func TestDepositThenWithdrawRestoresBalance(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 2_500)

	if _, err := f.proc.Deposit(f.ctx, w.ID, 750, "bank-1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	out, err := f.proc.Withdraw(f.ctx, w.ID, 750)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Status != ledger.StatusPending {
		t.Fatalf("expected pending withdraw, got %s", out.Status)
	}
	if got := f.balance(t, w.ID); got != 2_500 {
		t.Fatalf("expected 2500, got %d", got)
	}
	if n := len(f.entries(t, w.ID)); n != 2 {
		t.Fatalf("expected exactly two entries, got %d", n)
	}
}

func TestConcurrentWithdrawalsExactlyOneSucceeds(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, funding.CapUncapped)
		const a, b = money.Amount(600), money.Amount(500)
		w := f.newWallet(t, a)

		var g errgroup.Group
		results := make([]error, 2)
		for j, amt := range []money.Amount{a, b} {
			g.Go(func() error {
				_, results[j] = f.proc.Withdraw(f.ctx, w.ID, amt)
				return nil
			})
		}
		g.Wait()

		ok, insufficient := 0, 0
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 || insufficient != 1 {
			t.Fatalf("expected one success and one rejection, got %d/%d", ok, insufficient)
		}
		if got := f.balance(t, w.ID); got.IsNegative() {
			t.Fatalf("negative balance %d", got)
		}
		f.assertConsistent(t, w.ID)
	}
}

func TestConcurrentCommandsNeverOverdraw(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 200)
	f.newRound(t, "seriesA", 1_000, f.now.Add(time.Hour))

	var g errgroup.Group
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 60; i++ {
		var cmd Command
		switch i % 3 {
		case 0:
			cmd = Withdraw{Amount: 10}
		case 1:
			cmd = Transfer{Amount: 10, Recipient: "Alice"}
		default:
			cmd = Invest{RoundID: "seriesA", Amount: 10}
		}
		g.Go(func() error {
			_, err := f.proc.Execute(f.ctx, w.ID, cmd)
			if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
				return err
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if succeeded != 20 {
		t.Fatalf("expected 20 successful commands, got %d", succeeded)
	}
	if got := f.balance(t, w.ID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
	f.assertConsistent(t, w.ID)

	round, _ := f.proc.GetFundingRound(f.ctx, "seriesA")
	var invested money.Amount
	for _, tx := range f.entries(t, w.ID) {
		if tx.Kind == ledger.KindInvest {
			invested += tx.Amount
		}
	}
	if round.RaisedAmount != invested {
		t.Fatalf("round raised %d but ledger shows %d invested", round.RaisedAmount, invested)
	}
}

func TestRecomputedBalanceMatchesAfterRandomCommands(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 5_000)
	f.newRound(t, "seriesA", 100_000, f.now.Add(time.Hour))
	rng := rand.New(rand.NewSource(7))

	var pending []string
	for i := 0; i < 200; i++ {
		amount := money.Amount(rng.Intn(900) + 1)
		var cmd Command
		switch rng.Intn(5) {
		case 0:
			cmd = Deposit{Amount: amount, SourceRef: "bank-1"}
		case 1:
			cmd = Withdraw{Amount: amount}
		case 2:
			cmd = Transfer{Amount: amount, Recipient: "Bob", Memo: "rent"}
		case 3:
			cmd = Invest{RoundID: "seriesA", Amount: amount}
		default:
			if len(pending) == 0 {
				continue
			}
			outcome := ledger.StatusCompleted
			if rng.Intn(2) == 0 {
				outcome = ledger.StatusFailed
			}
			cmd = Settle{TxID: pending[0], Outcome: outcome}
			pending = pending[1:]
		}
		tx, err := f.proc.Execute(f.ctx, w.ID, cmd)
		if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Fatalf("command %d (%T): %v", i, cmd, err)
		}
		if err == nil && tx.Kind == ledger.KindWithdraw {
			pending = append(pending, tx.ID)
		}
		if got := f.balance(t, w.ID); got.IsNegative() {
			t.Fatalf("negative balance after command %d", i)
		}
	}
	f.assertConsistent(t, w.ID)
}

func TestInvestIntoClosedRound(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 1_000)
	f.newRound(t, "expired", 10_000, f.now.Add(-time.Minute))
	f.newRound(t, "withdrawn", 10_000, f.now.Add(time.Hour))
	if err := f.registry.Withdraw(f.ctx, "withdrawn"); err != nil {
		t.Fatalf("withdraw round: %v", err)
	}

	for _, id := range []string{"expired", "withdrawn"} {
		if _, err := f.proc.Invest(f.ctx, w.ID, id, 100); !errors.Is(err, funding.ErrRoundClosed) {
			t.Fatalf("%s: expected round closed, got %v", id, err)
		}
	}
	// deadline is exclusive
	f.newRound(t, "edge", 10_000, f.now)
	if _, err := f.proc.Invest(f.ctx, w.ID, "edge", 100); !errors.Is(err, funding.ErrRoundClosed) {
		t.Fatalf("expected round closed at deadline, got %v", err)
	}
	if got := f.balance(t, w.ID); got != 1_000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
}

func TestInvestAccumulatesParticipant(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 20_000)
	f.newRound(t, "seriesA", 10_000, f.now.Add(time.Hour))

	for _, amt := range []money.Amount{4_000, 3_000, 5_000} {
		if _, err := f.proc.Invest(f.ctx, w.ID, "seriesA", amt); err != nil {
			t.Fatalf("invest: %v", err)
		}
	}
	round, _ := f.proc.GetFundingRound(f.ctx, "seriesA")
	// uncapped: raising past the target is allowed
	if round.RaisedAmount != 12_000 {
		t.Fatalf("expected raised 12000, got %d", round.RaisedAmount)
	}
	if len(round.Participants) != 1 || round.Participants[0].Amount != 12_000 {
		t.Fatalf("expected one merged participant, got %+v", round.Participants)
	}
	if got := f.balance(t, w.ID); got != 8_000 {
		t.Fatalf("expected balance 8000, got %d", got)
	}
}

func TestInvestCappedAtTarget(t *testing.T) {
	f := newFixture(t, funding.CapAtTarget)
	w := f.newWallet(t, 20_000)
	f.newRound(t, "seriesA", 10_000, f.now.Add(time.Hour))

	if _, err := f.proc.Invest(f.ctx, w.ID, "seriesA", 8_000); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if _, err := f.proc.Invest(f.ctx, w.ID, "seriesA", 2_001); !errors.Is(err, funding.ErrRoundCapExceeded) {
		t.Fatalf("expected cap exceeded, got %v", err)
	}
	if _, err := f.proc.Invest(f.ctx, w.ID, "seriesA", 2_000); err != nil {
		t.Fatalf("invest up to target: %v", err)
	}
	round, _ := f.proc.GetFundingRound(f.ctx, "seriesA")
	if round.RaisedAmount != 10_000 {
		t.Fatalf("expected raised 10000, got %d", round.RaisedAmount)
	}
	if got := f.balance(t, w.ID); got != 10_000 {
		t.Fatalf("expected balance 10000, got %d", got)
	}
}

func TestSettleWithdrawal(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 1_000)

	cleared, err := f.proc.Withdraw(f.ctx, w.ID, 300)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	bounced, err := f.proc.Withdraw(f.ctx, w.ID, 200)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	settlement, err := f.proc.Settle(f.ctx, w.ID, cleared.ID, ledger.StatusCompleted)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settlement.Kind != ledger.KindSettlement || settlement.RelatedTxID != cleared.ID {
		t.Fatalf("unexpected settlement entry: %+v", settlement)
	}
	if got := f.balance(t, w.ID); got != 500 {
		t.Fatalf("settlement must not move the balance, got %d", got)
	}

	reversal, err := f.proc.Settle(f.ctx, w.ID, bounced.ID, ledger.StatusFailed)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.Kind != ledger.KindReversal || reversal.Direction != ledger.DirectionCredit {
		t.Fatalf("unexpected reversal entry: %+v", reversal)
	}
	if got := f.balance(t, w.ID); got != 700 {
		t.Fatalf("expected reversal to restore 200, got %d", got)
	}

	if _, err := f.proc.Settle(f.ctx, w.ID, bounced.ID, ledger.StatusCompleted); !errors.Is(err, ledger.ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}

	st, err := f.wallets.Statement(f.ctx, w.ID, ledger.OrderChronological)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if st.Status(cleared) != ledger.StatusCompleted || st.Status(bounced) != ledger.StatusFailed {
		t.Fatalf("unexpected effective statuses: %v", st.Statuses)
	}
	// the original entries are untouched
	if st.Entries[0].Status != ledger.StatusPending || st.Entries[0].Hash != cleared.Hash {
		t.Fatalf("withdraw entry was modified: %+v", st.Entries[0])
	}
	f.assertConsistent(t, w.ID)
}

func TestSettleRejectsNonWithdrawals(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 0)
	dep, _ := f.proc.Deposit(f.ctx, w.ID, 100, "bank-1")

	if _, err := f.proc.Settle(f.ctx, w.ID, dep.ID, ledger.StatusFailed); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.proc.Settle(f.ctx, w.ID, uuid.NewString(), ledger.StatusFailed); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.proc.Settle(f.ctx, w.ID, dep.ID, ledger.StatusPending); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error for pending outcome, got %v", err)
	}
}

func TestInternalTransferCreditsRecipient(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	from := f.newWallet(t, 1_000)
	to := f.newWallet(t, 50)

	tx, err := f.proc.Transfer(f.ctx, from.ID, 400, to.ID, "dinner")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.WalletID != from.ID || tx.Direction != ledger.DirectionDebit || tx.Memo != "dinner" {
		t.Fatalf("unexpected sender entry: %+v", tx)
	}
	if got := f.balance(t, from.ID); got != 600 {
		t.Fatalf("expected sender 600, got %d", got)
	}
	if got := f.balance(t, to.ID); got != 450 {
		t.Fatalf("expected recipient 450, got %d", got)
	}
	in := f.entries(t, to.ID)
	if len(in) != 1 || in[0].Direction != ledger.DirectionCredit || in[0].Sender != from.ID {
		t.Fatalf("unexpected recipient log: %+v", in)
	}
	if msg := f.notifier.last(); msg.Destination != to.OwnerID || msg.WalletID != to.ID {
		t.Fatalf("expected recipient notification, got %+v", msg)
	}
	f.assertConsistent(t, from.ID)
	f.assertConsistent(t, to.ID)
}

func TestOpposingInternalTransfersDoNotDeadlock(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	a := f.newWallet(t, 10_000)
	b := f.newWallet(t, 10_000)

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		g.Go(func() error {
			_, err := f.proc.Transfer(f.ctx, from.ID, 7, to.ID, "")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if total := f.balance(t, a.ID) + f.balance(t, b.ID); total != 20_000 {
		t.Fatalf("money created or destroyed: total %d", total)
	}
	f.assertConsistent(t, a.ID)
	f.assertConsistent(t, b.ID)
}

func TestExternalTransferOnlyDebitsSender(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 1_000)

	tx, err := f.proc.Transfer(f.ctx, w.ID, 250, "Alice Johnson", "lunch")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.Receiver != "Alice Johnson" || tx.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected entry: %+v", tx)
	}
	if msg := f.notifier.last(); msg.Destination != w.OwnerID || msg.Kind != notification.KindTransactionCommitted {
		t.Fatalf("unexpected notification: %+v", msg)
	}
}

func TestCommandsRequireOwnership(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 1_000)

	ctx := WithActor(f.ctx, uuid.NewString())
	if _, err := f.proc.Execute(ctx, w.ID, Withdraw{Amount: 1}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	ctx = WithActor(f.ctx, w.OwnerID)
	if _, err := f.proc.Execute(ctx, w.ID, Withdraw{Amount: 1}); err != nil {
		t.Fatalf("owner withdraw: %v", err)
	}
}

func TestUnknownWallet(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	if _, err := f.proc.Deposit(f.ctx, "missing", 10, "bank-1"); !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestHolderCannotSettleOwnWithdrawal(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 1_000)
	holder := WithActor(f.ctx, w.OwnerID)

	pending, err := f.proc.Withdraw(holder, w.ID, 400)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := f.proc.Settle(holder, w.ID, pending.ID, ledger.StatusFailed); !errors.Is(err, ErrSelfSettlement) {
		t.Fatalf("expected self settlement refusal, got %v", err)
	}
	if got := f.balance(t, w.ID); got != 600 {
		t.Fatalf("refused settlement moved the balance to %d", got)
	}

	clearing := WithActor(f.ctx, "payout-bot")
	if _, err := f.proc.Settle(clearing, w.ID, pending.ID, ledger.StatusFailed); err != nil {
		t.Fatalf("clearing settle: %v", err)
	}
	if got := f.balance(t, w.ID); got != 1_000 {
		t.Fatalf("expected reversal to restore 1000, got %d", got)
	}
}

func TestRunReportsCommittedBalance(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	from := f.newWallet(t, 1_000)
	to := f.newWallet(t, 0)

	res, err := f.proc.Run(f.ctx, from.ID, Transfer{Amount: 250, Recipient: to.ID})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Transaction.WalletID != from.ID || res.Balance != 750 {
		t.Fatalf("expected sender entry with balance 750, got %+v", res)
	}
}

// blockingNotifier holds the first Send until release is closed.
type blockingNotifier struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) Send(context.Context, notification.Message) error {
	first := false
	n.once.Do(func() { first = true })
	if first {
		close(n.entered)
		<-n.release
	}
	return nil
}

func TestSlowNotifierDoesNotHoldWalletLock(t *testing.T) {
	f := newFixture(t, funding.CapUncapped)
	w := f.newWallet(t, 1_000)
	n := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	proc := NewProcessor(f.mem, n, logging.Discard(), funding.CapUncapped)

	first := make(chan error, 1)
	go func() {
		_, err := proc.Deposit(f.ctx, w.ID, 100, "bank-1")
		first <- err
	}()
	select {
	case <-n.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first command never reached the notifier")
	}

	second := make(chan error, 1)
	go func() {
		_, err := proc.Withdraw(f.ctx, w.ID, 50)
		second <- err
	}()
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second command: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(n.release)
		t.Fatalf("second command waited on the first command's notification")
	}

	close(n.release)
	if err := <-first; err != nil {
		t.Fatalf("first command: %v", err)
	}
	if got := f.balance(t, w.ID); got != 1_050 {
		t.Fatalf("expected balance 1050, got %d", got)
	}
}
