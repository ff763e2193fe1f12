package token

import (
	"context"
	"time"
)

// Store persists tokens keyed by secret digest.
//
// Deactivation methods only touch active rows, so repeating them is harmless.
type Store interface {
	// Create inserts t.
	Create(ctx context.Context, t Token) error
	// ReplaceActive deactivates every active token of t.Kind owned by t.UserID
	// and inserts t, as one step serialized per user. It returns the ids of
	// the deactivated tokens.
	ReplaceActive(ctx context.Context, t Token, now time.Time) ([]string, error)

	FindByHash(ctx context.Context, hash string) (Token, bool, error)

	DeactivateByHash(ctx context.Context, hash string, at time.Time) (bool, error)
	DeactivateAllForUser(ctx context.Context, userID int64, at time.Time) (int, error)
	// DeactivateExpired deactivates active tokens with expires_at <= now.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)

	// ListForUser returns every token of userID, newest first.
	ListForUser(ctx context.Context, userID int64) ([]Token, error)
	// DeleteInactiveBefore removes inactive tokens that expired before the cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}
