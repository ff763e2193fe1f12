package session

import "time"

// State is the lifecycle state of a session.
type State string

const (
	StateActive  State = "ACTIVE"
	StateExpired State = "EXPIRED"
	StateClosed  State = "CLOSED"
	StateRevoked State = "REVOKED"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateClosed || s == StateRevoked
}

// Session is a stored session.
//
// Token is populated only on the value returned from Open.
type Session struct {
	ID             string
	UserID         int64
	Token          string
	TokenHash      string
	State          State
	StartedAt      time.Time
	LastAccessedAt time.Time
	EndedAt        *time.Time
	ClientIP       string
	Device         string
	Browser        string
}

// IdleFor returns how long s has gone without access at now.
func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastAccessedAt)
}
