// Command ledgerctl runs operator tasks against the ledger database.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	env := newEnv(os.Stdout)
	for _, c := range commands(env) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func commands(env *env) []subcommands.Command {
	return []subcommands.Command{
		&migrateCmd{env: env},
		&seedRoundsCmd{env: env},
		&withdrawRoundCmd{env: env},
		&auditCmd{env: env},
		&settleCmd{env: env},
	}
}
