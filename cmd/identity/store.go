package identity

import (
	"context"
	"time"
)

// Store persists credentials.
//
// Lookups report absence through the bool result, never through an error.
// Mutations on a missing id return a NotFoundError.
type Store interface {
	// FindByEmail matches the email exactly as stored.
	FindByEmail(ctx context.Context, email string) (Credential, bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Create persists c. It fails with ErrDuplicateEmail when the email exists.
	// ID and CreatedAt are assigned when empty.
	Create(ctx context.Context, c Credential) (Credential, error)

	GetByID(ctx context.Context, id string) (Credential, bool, error)
	// List returns credentials oldest first. A nil userType lists every type.
	List(ctx context.Context, userType *UserType) ([]Credential, error)

	UpdatePassword(ctx context.Context, id, stored string) error
	UpdateNotes(ctx context.Context, id string, notes *string) error
	SetActive(ctx context.Context, id string, active bool) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}
