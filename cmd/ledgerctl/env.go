package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/infra"
	"github.com/congo-pay/congo_ledger/internal/logging"
	"github.com/congo-pay/congo_ledger/internal/notification"
	"github.com/congo-pay/congo_ledger/internal/payments"
	"github.com/congo-pay/congo_ledger/internal/store"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

// backend is the storage surface the commands work against.
type backend interface {
	wallet.Repository
	wallet.History
	funding.Repository
	payments.Backend
}

// env carries what every command needs. open and migrate are swapped out in tests.
type env struct {
	out     io.Writer
	logger  *slog.Logger
	open    func(ctx context.Context) (backend, func(), error)
	migrate func(ctx context.Context) error
}

func newEnv(out io.Writer) *env {
	e := &env{out: out, logger: logging.New(os.Getenv("LOG_LEVEL"))}
	e.open = func(ctx context.Context) (backend, func(), error) {
		db, err := connect(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(db), db.Close, nil
	}
	e.migrate = func(ctx context.Context) error {
		db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		return store.Migrate(ctx, db)
	}
	return e
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	return infra.NewPostgresPool(ctx, url, "ledgerctl")
}

func (e *env) processor(b backend) (*payments.Processor, error) {
	policy, err := funding.ParseCapPolicy(os.Getenv("ROUND_CAP_POLICY"))
	if err != nil {
		return nil, err
	}
	return payments.NewProcessor(b, notification.NewLoggerNotifier(e.logger), e.logger, policy), nil
}

func (e *env) fail(err error) {
	fmt.Fprintln(os.Stderr, err)
}
