package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/congo-pay/congo_ledger/internal/money"
)

// Repository persists funding rounds. Raised amounts and participants change
// only through the storage commit of an invest command.
type Repository interface {
	CreateRound(ctx context.Context, round Round) error
	Round(ctx context.Context, id string) (Round, error)
	Rounds(ctx context.Context) ([]Round, error)
	WithdrawRound(ctx context.Context, id string) error
}

// Registry is the catalog of investable rounds.
type Registry struct {
	repo Repository
	now  func() time.Time
}

// NewRegistry builds a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns a round or ErrRoundNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Round, error) {
	return r.repo.Round(ctx, id)
}

// List returns every round in the catalog.
func (r *Registry) List(ctx context.Context) ([]Round, error) {
	return r.repo.Rounds(ctx)
}

// Create imports a round produced by the origination process.
func (r *Registry) Create(ctx context.Context, round Round) (Round, error) {
	cur, err := money.Currency(round.Currency)
	if err != nil {
		return Round{}, fmt.Errorf("%w: %v", ErrInvalidRound, err)
	}
	round.Currency = cur
	if round.CreatedAt.IsZero() {
		round.CreatedAt = r.now()
	}
	if err := round.Validate(); err != nil {
		return Round{}, err
	}
	if err := r.repo.CreateRound(ctx, round); err != nil {
		return Round{}, err
	}
	return round, nil
}

// Withdraw closes a round explicitly; it stops accepting investment at once.
func (r *Registry) Withdraw(ctx context.Context, id string) error {
	return r.repo.WithdrawRound(ctx, id)
}

// Open reports whether the round is currently accepting investment.
func (r *Registry) Open(round Round) bool {
	return IsOpen(round, r.now())
}
