// Package facade is the single entry point the HTTP layer uses for
// authentication: login, logout, validation, refresh, session administration,
// registration, and password reset.
//
// Multi-step operations run inside Transactor.WithinTx. On Postgres that is a
// real transaction; the in-memory backend gets a no-op transactor, so Login
// also compensates by revoking a freshly issued token when opening the
// session fails. Events are published only after the operation commits.
package facade
