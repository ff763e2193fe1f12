package session

import (
	"context"
	"time"
)

// Store persists sessions keyed by token digest.
//
// Every state change applies only to ACTIVE rows, which is what keeps
// terminal states final.
type Store interface {
	// OpenExclusive closes every ACTIVE session of s.UserID (CLOSED,
	// ended_at=now) and inserts s, serialized per user. It returns the ids of
	// the sessions it closed.
	OpenExclusive(ctx context.Context, s Session, now time.Time) ([]string, error)

	FindByHash(ctx context.Context, hash string) (Session, bool, error)

	// Touch sets last_accessed_at on an ACTIVE session.
	Touch(ctx context.Context, hash string, at time.Time) (bool, error)

	// End moves the ACTIVE session matching hash to the terminal state to and
	// returns it. ok is false when nothing ACTIVE matched.
	End(ctx context.Context, hash string, to State, at time.Time) (s Session, ok bool, err error)

	// EndAllForUser moves every ACTIVE session of userID to the terminal state to.
	EndAllForUser(ctx context.Context, userID int64, to State, at time.Time) ([]Session, error)

	// ExpireIdle moves ACTIVE sessions last accessed before cutoff to EXPIRED.
	ExpireIdle(ctx context.Context, cutoff, at time.Time) ([]Session, error)

	// ListForUser returns every session of userID in any state, newest first.
	ListForUser(ctx context.Context, userID int64) ([]Session, error)
}
