// Package identity holds login credentials: the email/password records that map
// a caller onto a numeric user id owned by the user directory.
//
// Credentials are never deleted. The only disable path is the active flag.
package identity
