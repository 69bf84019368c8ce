package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/congo_ledger/internal/funding"
	"github.com/congo-pay/congo_ledger/internal/ledger"
	"github.com/congo-pay/congo_ledger/internal/money"
	"github.com/congo-pay/congo_ledger/internal/wallet"
)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	ownerConstraint = "wallets_owner"
)

// Migrate creates the tables the Postgres store needs. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Postgres persists wallets, ledger entries and rounds in PostgreSQL. Every
// commit runs in one database transaction with the touched rows locked.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const walletColumns = `id, owner_id, currency, status, opening_balance, balance, head, created_at`

func scanWallet(row pgx.Row) (wallet.Wallet, error) {
	var w wallet.Wallet
	var opening, balance int64
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Status, &opening, &balance, &w.Head, &w.CreatedAt); err != nil {
		return wallet.Wallet{}, err
	}
	w.OpeningBalance = money.Amount(opening)
	w.Balance = money.Amount(balance)
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

// CreateWallet inserts a wallet row. An owner holds at most one.
func (p *Postgres) CreateWallet(ctx context.Context, w wallet.Wallet) error {
	_, err := p.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.OwnerID, w.Currency, w.Status, int64(w.OpeningBalance), int64(w.Balance), w.Head, w.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == ownerConstraint {
			return fmt.Errorf("%w: %s", wallet.ErrWalletExists, w.OwnerID)
		}
		return fmt.Errorf("%w: wallet %s already exists", ledger.ErrValidation, w.ID)
	}
	return err
}

// Wallet loads a wallet with its linked accounts.
func (p *Postgres) Wallet(ctx context.Context, id string) (wallet.Wallet, error) {
	w, err := scanWallet(p.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Wallet{}, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, id)
		}
		return wallet.Wallet{}, err
	}

	rows, err := p.db.Query(ctx, `SELECT ref, display_name, kind FROM linked_accounts
        WHERE wallet_id = $1 ORDER BY created_at, ref`, id)
	if err != nil {
		return wallet.Wallet{}, err
	}
	w.LinkedAccounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.LinkedAccount, error) {
		var a wallet.LinkedAccount
		err := row.Scan(&a.Ref, &a.DisplayName, &a.Kind)
		return a, err
	})
	if err != nil {
		return wallet.Wallet{}, err
	}
	return w, nil
}

// AddLinkedAccount attaches a funding source to a wallet.
func (p *Postgres) AddLinkedAccount(ctx context.Context, walletID string, acct wallet.LinkedAccount) error {
	_, err := p.db.Exec(ctx, `INSERT INTO linked_accounts (wallet_id, ref, display_name, kind)
        VALUES ($1, $2, $3, $4)`, walletID, acct.Ref, acct.DisplayName, acct.Kind)
	switch {
	case isPgError(err, pgUniqueViolation):
		return fmt.Errorf("%w: %s", wallet.ErrAccountExists, acct.Ref)
	case isPgError(err, pgForeignKeyViolation):
		return fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, walletID)
	}
	return err
}

const entryColumns = `id, wallet_id, seq, kind, direction, amount, currency, sender, receiver, status, memo,
        created_at, COALESCE(related_round_id, ''), COALESCE(related_tx_id, ''), prev_hash, hash`

func scanEntry(row pgx.Row) (ledger.Transaction, error) {
	var tx ledger.Transaction
	var amount int64
	err := row.Scan(&tx.ID, &tx.WalletID, &tx.Seq, &tx.Kind, &tx.Direction, &amount, &tx.Currency,
		&tx.Sender, &tx.Receiver, &tx.Status, &tx.Memo, &tx.Timestamp, &tx.RelatedRoundID,
		&tx.RelatedTxID, &tx.PrevHash, &tx.Hash)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.Amount = money.Amount(amount)
	tx.Timestamp = tx.Timestamp.UTC()
	return tx, nil
}

// Transactions streams the wallet log. Each iteration runs one query, which
// reads a consistent snapshot.
func (p *Postgres) Transactions(ctx context.Context, walletID string, order ledger.Order) iter.Seq2[ledger.Transaction, error] {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE wallet_id = $1 ORDER BY seq DESC`
	if order == ledger.OrderChronological {
		query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE wallet_id = $1 ORDER BY seq ASC`
	}
	return func(yield func(ledger.Transaction, error) bool) {
		rows, err := p.db.Query(ctx, query, walletID)
		if err != nil {
			yield(ledger.Transaction{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			tx, err := scanEntry(rows)
			if err != nil {
				yield(ledger.Transaction{}, err)
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ledger.Transaction{}, err)
		}
	}
}

// Find loads one entry of a wallet log.
func (p *Postgres) Find(ctx context.Context, walletID, txID string) (ledger.Transaction, error) {
	tx, err := scanEntry(p.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1 AND id = $2`, walletID, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, txID)
	}
	return tx, err
}

const roundColumns = `id, name, company, currency, target_amount, raised_amount, deadline, withdrawn, created_at`

func scanRound(row pgx.Row) (funding.Round, error) {
	var r funding.Round
	var target, raised int64
	if err := row.Scan(&r.ID, &r.Name, &r.Company, &r.Currency, &target, &raised, &r.Deadline, &r.Withdrawn, &r.CreatedAt); err != nil {
		return funding.Round{}, err
	}
	r.TargetAmount = money.Amount(target)
	r.RaisedAmount = money.Amount(raised)
	r.Deadline = r.Deadline.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// CreateRound imports a round.
func (p *Postgres) CreateRound(ctx context.Context, r funding.Round) error {
	_, err := p.db.Exec(ctx, `INSERT INTO funding_rounds (`+roundColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Name, r.Company, r.Currency, int64(r.TargetAmount), int64(r.RaisedAmount), r.Deadline, r.Withdrawn, r.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return fmt.Errorf("%w: %s", funding.ErrRoundExists, r.ID)
	}
	return err
}

// Round loads a round with its participants.
func (p *Postgres) Round(ctx context.Context, id string) (funding.Round, error) {
	r, err := scanRound(p.db.QueryRow(ctx, `SELECT `+roundColumns+` FROM funding_rounds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return funding.Round{}, fmt.Errorf("%w: %s", funding.ErrRoundNotFound, id)
		}
		return funding.Round{}, err
	}
	participants, err := p.participants(ctx, id)
	if err != nil {
		return funding.Round{}, err
	}
	r.Participants = participants[id]
	return r, nil
}

// Rounds lists rounds by deadline.
func (p *Postgres) Rounds(ctx context.Context) ([]funding.Round, error) {
	rows, err := p.db.Query(ctx, `SELECT `+roundColumns+` FROM funding_rounds ORDER BY deadline, id`)
	if err != nil {
		return nil, err
	}
	rounds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (funding.Round, error) {
		return scanRound(row)
	})
	if err != nil {
		return nil, err
	}
	participants, err := p.participants(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range rounds {
		rounds[i].Participants = participants[rounds[i].ID]
	}
	return rounds, nil
}

// participants groups participant rows by round; an empty roundID loads all.
func (p *Postgres) participants(ctx context.Context, roundID string) (map[string][]funding.Participant, error) {
	rows, err := p.db.Query(ctx, `SELECT round_id, investor_id, amount FROM round_participants
        WHERE $1 = '' OR round_id = $1 ORDER BY round_id, investor_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]funding.Participant)
	for rows.Next() {
		var rid string
		var part funding.Participant
		var amount int64
		if err := rows.Scan(&rid, &part.InvestorID, &amount); err != nil {
			return nil, err
		}
		part.Amount = money.Amount(amount)
		out[rid] = append(out[rid], part)
	}
	return out, rows.Err()
}

// WithdrawRound closes a round for further investment.
func (p *Postgres) WithdrawRound(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `UPDATE funding_rounds SET withdrawn = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", funding.ErrRoundNotFound, id)
	}
	return nil
}

// Commit applies c in one database transaction. Wallet rows are locked in id
// order, then the round row, so concurrent commits from any number of
// replicas serialize on the rows they share.
func (p *Postgres) Commit(ctx context.Context, c Commit) (Receipt, error) {
	if err := c.validate(); err != nil {
		return Receipt{}, err
	}
	now := c.now()

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Receipt{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	wallets := make(map[string]wallet.Wallet)
	tails := make(map[string]ledger.Transaction)
	for _, id := range c.walletIDs() {
		w, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Receipt{}, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, id)
			}
			return Receipt{}, err
		}
		wallets[id] = w
		tail, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries
            WHERE wallet_id = $1 ORDER BY seq DESC LIMIT 1`, id))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, err
		}
		tails[id] = tail
	}

	if inv := c.Investment; inv != nil {
		round, err := scanRound(tx.QueryRow(ctx, `SELECT `+roundColumns+` FROM funding_rounds WHERE id = $1 FOR UPDATE`, inv.RoundID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Receipt{}, fmt.Errorf("%w: %s", funding.ErrRoundNotFound, inv.RoundID)
			}
			return Receipt{}, err
		}
		if err := c.Cap.Admit(round, inv.Amount, now); err != nil {
			return Receipt{}, err
		}
		if _, err := tx.Exec(ctx, `UPDATE funding_rounds SET raised_amount = raised_amount + $2 WHERE id = $1`,
			inv.RoundID, int64(inv.Amount)); err != nil {
			return Receipt{}, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO round_participants (round_id, investor_id, amount) VALUES ($1, $2, $3)
            ON CONFLICT (round_id, investor_id) DO UPDATE SET amount = round_participants.amount + EXCLUDED.amount`,
			inv.RoundID, inv.InvestorID, int64(inv.Amount)); err != nil {
			return Receipt{}, err
		}
	}

	stored := make([]ledger.Transaction, 0, len(c.Entries))
	for _, e := range c.stamped() {
		w, err := wallet.Apply(wallets[e.WalletID], e)
		if err != nil {
			return Receipt{}, err
		}
		sealed, err := ledger.Prepare(tails[e.WalletID], e, now)
		if err != nil {
			return Receipt{}, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, wallet_id, seq, kind, direction, amount, currency,
            sender, receiver, status, memo, created_at, related_round_id, related_tx_id, prev_hash, hash)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''), $15, $16)`,
			sealed.ID, sealed.WalletID, sealed.Seq, string(sealed.Kind), string(sealed.Direction), int64(sealed.Amount),
			sealed.Currency, sealed.Sender, sealed.Receiver, string(sealed.Status), sealed.Memo, sealed.Timestamp,
			sealed.RelatedRoundID, sealed.RelatedTxID, sealed.PrevHash, sealed.Hash); err != nil {
			if isPgError(err, pgUniqueViolation) && sealed.RelatedTxID != "" {
				return Receipt{}, fmt.Errorf("%w: %s", ledger.ErrAlreadySettled, sealed.RelatedTxID)
			}
			return Receipt{}, err
		}
		w.Head = sealed.Seq
		wallets[e.WalletID] = w
		tails[e.WalletID] = sealed
		stored = append(stored, sealed)
	}

	receipt := Receipt{Entries: stored, Balances: make(map[string]money.Amount, len(wallets))}
	for _, id := range c.walletIDs() {
		w := wallets[id]
		if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $2, head = $3 WHERE id = $1`,
			id, int64(w.Balance), w.Head); err != nil {
			return Receipt{}, err
		}
		receipt.Balances[id] = w.Balance
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
