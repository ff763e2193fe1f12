// Package session tracks interactive sessions bound to a user, a device class,
// and a client IP.
//
// A user has at most one ACTIVE session: Open closes whatever was active
// before creating the new one ("most recent session wins"). Sessions leave
// ACTIVE for exactly one terminal state (EXPIRED, CLOSED, REVOKED) and never
// move again.
//
// Validate expires sessions lazily once they have been idle longer than
// Config.IdleTimeout but deliberately does not refresh last-accessed-at;
// callers that want sliding expiry call Touch.
package session
