package token

import "time"

// Kind classifies what a token may be used for.
type Kind string

const (
	KindLogin   Kind = "LOGIN"
	KindRefresh Kind = "REFRESH"
	KindReset   Kind = "RESET_PASSWORD"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLogin, KindRefresh, KindReset:
		return true
	default:
		return false
	}
}

// Token is a bearer token record.
//
// Secret is populated only on the value returned from an Issue call.
// CredentialID is set on RESET_PASSWORD tokens only and names the credential
// whose password the token may change.
type Token struct {
	ID            string
	UserID        int64
	Secret        string
	SecretHash    string
	Kind          Kind
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Active        bool
	DeactivatedAt *time.Time
	OriginIP      string
	UserAgent     string
	CredentialID  string
}

// Expired reports whether t is past its expiry at now (now >= expires_at).
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether t is active and unexpired at now.
func (t Token) Usable(now time.Time) bool {
	return t.Active && !t.Expired(now)
}
