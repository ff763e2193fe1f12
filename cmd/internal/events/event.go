package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types published by the auth facade.
const (
	TypeSessionOpened   = "session.opened"
	TypeSessionClosed   = "session.closed"
	TypeSessionExpired  = "session.expired"
	TypeSessionsRevoked = "sessions.revoked"
	TypeTokenRevoked    = "token.revoked"
)

// Wire-only envelope types.
const (
	TypeHello    = "hello"
	TypeHelloAck = "hello.ack"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"
)

// Version is the envelope protocol version.
const Version = 1

// Event is one lifecycle change for a user.
type Event struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	Count     int       `json:"count,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Envelope is the websocket frame.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

var clientTypes = map[string]struct{}{
	TypeHello: {},
	TypePing:  {},
}

// Validate checks an envelope received from a client.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := clientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

// HelloPayload carries the bearer token when the upgrade request had none.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload confirms the subscription.
type HelloAckPayload struct {
	ConnID string `json:"conn_id"`
	UserID int64  `json:"user_id"`
}

// ErrorPayload reports a protocol error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
