package events

import "sync"

// Principal is the identity a subscriber authenticated with.
type Principal struct {
	UserID  int64
	TokenID string
}

// Client is one websocket subscriber.
//
// Send is never closed by the server, so a concurrent Publish cannot panic;
// done signals shutdown instead. revoked asks the writer to flush what is
// queued and then disconnect.
type Client struct {
	ConnID  string
	UserID  int64
	TokenID string
	Send    chan Envelope

	done       chan struct{}
	closeOnce  sync.Once
	revoked    chan struct{}
	revokeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, p Principal, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID:  connID,
		UserID:  p.UserID,
		TokenID: p.TokenID,
		Send:    make(chan Envelope, sendQueueSize),
		done:    make(chan struct{}),
		revoked: make(chan struct{}),
	}
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// Revoked is closed once the credentials behind the client stop being valid.
func (c *Client) Revoked() <-chan struct{} {
	return c.revoked
}

// Revoke marks the client's credentials as revoked (idempotent).
func (c *Client) Revoke() {
	if c == nil {
		return
	}
	c.revokeOnce.Do(func() { close(c.revoked) })
}

// revokedBy reports whether e ends the authorization this client holds.
func (c *Client) revokedBy(e Event) bool {
	switch e.Type {
	case TypeSessionsRevoked:
		return true
	case TypeTokenRevoked:
		return c.TokenID != "" && c.TokenID == e.TokenID
	default:
		return false
	}
}
