package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy bounds the secrets accepted at registration and reset.
// Login never applies it: stored credentials predate any policy change.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Validate checks password against the policy, counting runes.
func (p Policy) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return ErrPasswordTooShort
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return ErrPasswordTooLong
	}
	if p.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	onlyDigits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111":
		return true
	}
	return false
}
