package identity

import (
	"strings"
	"time"
)

// UserType is the role attached to a credential.
type UserType string

const (
	UserClient     UserType = "CLIENT"
	UserTechnician UserType = "TECHNICIAN"
	UserAdmin      UserType = "ADMIN"
)

// Valid reports whether t is a known user type.
func (t UserType) Valid() bool {
	switch t {
	case UserClient, UserTechnician, UserAdmin:
		return true
	default:
		return false
	}
}

// ParseUserType accepts a user type in any letter case. Empty means CLIENT.
func ParseUserType(s string) (UserType, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UserClient, true
	}
	t := UserType(strings.ToUpper(s))
	return t, t.Valid()
}

// Credential is a stored login identity.
//
// Password holds the hasher's stored form and must never be serialized to
// clients.
type Credential struct {
	ID          string
	Email       string
	Password    string
	UserID      int64
	UserType    UserType
	Active      bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
	Notes       *string
}

// NormalizeEmail trims surrounding whitespace. Matching stays case-sensitive.
func NormalizeEmail(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeNotes trims notes and maps blank input to nil.
func NormalizeNotes(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}
