package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"github.com/google/uuid"

	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/logging"
	"github.com/congo-pay/congo_ledger/internal/store"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

func memEnv(t *testing.T) (*env, *store.Memory, *bytes.Buffer) {
	t.Helper()
	mem := store.NewMemory()
	out := &bytes.Buffer{}
	e := &env{
		out:    out,
		logger: logging.Discard(),
		open: func(context.Context) (backend, func(), error) {
			return mem, func() {}, nil
		},
		migrate: func(context.Context) error { return nil },
	}
	return e, mem, out
}

func run(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd.Execute(context.Background(), fs)
}

func TestSeedRoundsSkipsExisting(t *testing.T) {
	e, mem, out := memEnv(t)
	path := filepath.Join(t.TempDir(), "rounds.yaml")
	catalog := `rounds:
  - id: series-a
    name: Series A
    company: Tech Startup Inc
    currency: USD
    target: "10000.00"
    deadline: 2027-01-01
`
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	if st := run(t, &seedRoundsCmd{env: e}, "-file", path); st != subcommands.ExitSuccess {
		t.Fatalf("first seed: status %d", st)
	}
	if st := run(t, &seedRoundsCmd{env: e}, "-file", path); st != subcommands.ExitSuccess {
		t.Fatalf("second seed: status %d", st)
	}
	if !strings.Contains(out.String(), "imported 0 rounds, skipped 1 existing") {
		t.Fatalf("unexpected output %q", out.String())
	}
	r, err := mem.Round(context.Background(), "series-a")
	if err != nil || r.TargetAmount != 1_000_000 {
		t.Fatalf("round not imported: %+v %v", r, err)
	}

	if st := run(t, &withdrawRoundCmd{env: e}, "-round", "series-a"); st != subcommands.ExitSuccess {
		t.Fatalf("withdraw: status %d", st)
	}
	if r, _ := mem.Round(context.Background(), "series-a"); !r.Withdrawn {
		t.Fatalf("expected round withdrawn")
	}
}

func TestSettleAndAudit(t *testing.T) {
	e, mem, out := memEnv(t)
	ctx := context.Background()

	w, err := wallet.NewService(mem, mem, "USD").Create(ctx, wallet.CreateInput{OwnerID: uuid.NewString(), OpeningBalance: 10_000})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	proc, err := e.processor(mem)
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	wd, err := proc.Withdraw(ctx, w.ID, 2_500)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if st := run(t, &settleCmd{env: e}, "-wallet", w.ID, "-tx", wd.ID, "-outcome", string(ledger.StatusFailed)); st != subcommands.ExitSuccess {
		t.Fatalf("settle: status %d", st)
	}
	if st := run(t, &settleCmd{env: e}, "-wallet", w.ID, "-tx", wd.ID); st != subcommands.ExitFailure {
		t.Fatalf("second settle should fail, got %d", st)
	}
	if got, _ := proc.GetBalance(ctx, w.ID); got != 10_000 {
		t.Fatalf("expected reversal to restore 10000, got %d", got)
	}

	out.Reset()
	if st := run(t, &auditCmd{env: e}, "-wallet", w.ID); st != subcommands.ExitSuccess {
		t.Fatalf("audit: status %d (%s)", st, out.String())
	}
	if !strings.Contains(out.String(), "consistent") {
		t.Fatalf("unexpected audit output %q", out.String())
	}
}

func TestCommandsRequireFlags(t *testing.T) {
	e, _, _ := memEnv(t)
	if st := run(t, &auditCmd{env: e}); st != subcommands.ExitUsageError {
		t.Fatalf("audit without wallet: %d", st)
	}
	if st := run(t, &settleCmd{env: e}, "-wallet", "w"); st != subcommands.ExitUsageError {
		t.Fatalf("settle without tx: %d", st)
	}
	if st := run(t, &withdrawRoundCmd{env: e}); st != subcommands.ExitUsageError {
		t.Fatalf("withdraw-round without id: %d", st)
	}
	if st := run(t, &migrateCmd{env: e}); st != subcommands.ExitSuccess {
		t.Fatalf("migrate: %d", st)
	}
}

func TestCommandsAreRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range commands(newEnv(&bytes.Buffer{})) {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "seed-rounds", "withdraw-round", "audit", "settle"} {
		if !names[want] {
			t.Fatalf("command %s not registered", want)
		}
	}
}
