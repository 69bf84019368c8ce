package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

type migrateCmd struct {
	env *env
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create or update the ledger schema" }
func (*migrateCmd) Usage() string {
	return `ledgerctl migrate

  Applies the embedded schema to the database named by DATABASE_URL.
  Running it twice is harmless.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.env.migrate(ctx); err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.env.out, "schema up to date")
	return subcommands.ExitSuccess
}

type seedRoundsCmd struct {
	env  *env
	file string
}

func (*seedRoundsCmd) Name() string     { return "seed-rounds" }
func (*seedRoundsCmd) Synopsis() string { return "import funding rounds from a YAML catalog" }
func (*seedRoundsCmd) Usage() string {
	return `ledgerctl seed-rounds -file <rounds.yaml>

  Imports every round of the catalog. Rounds that already exist are skipped.
`
}

func (c *seedRoundsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "rounds.yaml", "Path to the round catalog.")
}

func (c *seedRoundsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rounds, err := funding.LoadCatalog(c.file)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	b, closeFn, err := c.env.open(ctx)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	registry := funding.NewRegistry(b)
	imported, skipped := 0, 0
	for _, r := range rounds {
		if _, err := registry.Create(ctx, r); err != nil {
			if errors.Is(err, funding.ErrRoundExists) {
				skipped++
				continue
			}
			c.env.fail(fmt.Errorf("round %s: %w", r.ID, err))
			return subcommands.ExitFailure
		}
		imported++
	}
	fmt.Fprintf(c.env.out, "imported %d rounds, skipped %d existing\n", imported, skipped)
	return subcommands.ExitSuccess
}

type withdrawRoundCmd struct {
	env   *env
	round string
}

func (*withdrawRoundCmd) Name() string     { return "withdraw-round" }
func (*withdrawRoundCmd) Synopsis() string { return "close a funding round to new investment" }
func (*withdrawRoundCmd) Usage() string {
	return `ledgerctl withdraw-round -round <id>
`
}

func (c *withdrawRoundCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.round, "round", "", "Identifier of the round to withdraw.")
}

func (c *withdrawRoundCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.round == "" {
		c.env.fail(errors.New("-round is required"))
		return subcommands.ExitUsageError
	}
	b, closeFn, err := c.env.open(ctx)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	if err := funding.NewRegistry(b).Withdraw(ctx, c.round); err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.env.out, "round %s withdrawn\n", c.round)
	return subcommands.ExitSuccess
}

type auditCmd struct {
	env    *env
	wallet string
}

func (*auditCmd) Name() string     { return "audit" }
func (*auditCmd) Synopsis() string { return "recompute a wallet balance and verify its hash chain" }
func (*auditCmd) Usage() string {
	return `ledgerctl audit -wallet <id>

  Exits non-zero when the cached balance disagrees with the log or the
  chain does not verify.
`
}

func (c *auditCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.wallet, "wallet", "", "Identifier of the wallet to audit.")
}

func (c *auditCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.wallet == "" {
		c.env.fail(errors.New("-wallet is required"))
		return subcommands.ExitUsageError
	}
	b, closeFn, err := c.env.open(ctx)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	report, err := wallet.NewService(b, b, "").Audit(ctx, c.wallet)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.env.out, "wallet %s: %d entries, cached %s, recomputed %s\n",
		report.WalletID, report.Entries,
		money.Format(report.Cached, report.Currency),
		money.Format(report.Recomputed, report.Currency))
	if !report.Consistent() {
		if report.ChainErr != nil {
			fmt.Fprintf(c.env.out, "chain: %v\n", report.ChainErr)
		}
		fmt.Fprintln(c.env.out, "INCONSISTENT")
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.env.out, "consistent")
	return subcommands.ExitSuccess
}

type settleCmd struct {
	env     *env
	wallet  string
	tx      string
	outcome string
}

func (*settleCmd) Name() string     { return "settle" }
func (*settleCmd) Synopsis() string { return "record the clearing outcome of a pending withdrawal" }
func (*settleCmd) Usage() string {
	return `ledgerctl settle -wallet <id> -tx <id> -outcome completed|failed

  A failed outcome credits the amount back to the wallet.
`
}

func (c *settleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.wallet, "wallet", "", "Identifier of the wallet holding the withdrawal.")
	f.StringVar(&c.tx, "tx", "", "Identifier of the withdrawal entry.")
	f.StringVar(&c.outcome, "outcome", string(ledger.StatusCompleted), "Clearing outcome: completed or failed.")
}

func (c *settleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.wallet == "" || c.tx == "" {
		c.env.fail(errors.New("-wallet and -tx are required"))
		return subcommands.ExitUsageError
	}
	b, closeFn, err := c.env.open(ctx)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	proc, err := c.env.processor(b)
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	tx, err := proc.Settle(ctx, c.wallet, c.tx, ledger.Status(c.outcome))
	if err != nil {
		c.env.fail(err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.env.out, "%s %s recorded for %s (%s)\n",
		tx.Kind, tx.ID, tx.RelatedTxID, money.Format(tx.Amount, tx.Currency))
	return subcommands.ExitSuccess
}
