package wallet

import "context"

type actorKey struct{}

// WithActor marks ctx as acting for userID. Operations on a wallet then
// require userID to own it. A context without an actor is trusted, which is
// how operator tooling runs.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the user ctx acts for, or "" when none was set.
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// Authorize returns ErrNotOwner when ctx acts for someone other than the owner of w.
func Authorize(ctx context.Context, w Wallet) error {
	if uid := ActorFrom(ctx); uid != "" && uid != w.OwnerID {
		return ErrNotOwner
	}
	return nil
}
