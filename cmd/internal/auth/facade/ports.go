package facade

import (
	"context"
	"log/slog"
	"time"

	"hfauth/cmd/identity"
)

// Transactor runs fn inside one storage transaction when the backend has them.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTransactor runs fn directly.
type NopTransactor struct{}

func (NopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Metrics records facade outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Login(method, result string)
	Validation(kind, result string)
	Refresh(result string)
	Logout()
	Swept(kind string, n int)
}

type nopMetrics struct{}

func (nopMetrics) Login(string, string)      {}
func (nopMetrics) Validation(string, string) {}
func (nopMetrics) Refresh(string)            {}
func (nopMetrics) Logout()                   {}
func (nopMetrics) Swept(string, int)         {}

// ResetNotifier delivers password reset secrets to the account owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, c identity.Credential, secret string, expiresAt time.Time) error
}

// LogResetNotifier logs that a reset was requested. It never logs the secret.
type LogResetNotifier struct {
	Log *slog.Logger
}

func (n LogResetNotifier) NotifyPasswordReset(_ context.Context, c identity.Credential, _ string, expiresAt time.Time) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("auth.reset.notify", "credential_id", c.ID, "user_id", c.UserID, "expires_at", expiresAt)
	return nil
}
