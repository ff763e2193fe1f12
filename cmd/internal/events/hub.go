package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"hfauth/cmd/identity/ids"
)

// ClientGauge tracks connected subscribers. prometheus.Gauge satisfies it.
type ClientGauge interface {
	Inc()
	Dec()
}

// Hub routes events to the subscribers of the affected user.
//
// Publish never blocks: a subscriber whose queue is full misses the event.
// A sessions.revoked event, or a token.revoked event naming the subscriber's
// token, is delivered and then the subscriber is revoked.
type Hub struct {
	log   *slog.Logger
	gauge ClientGauge

	mu     sync.RWMutex
	byUser map[int64]map[string]*Client
}

// NewHub constructs a Hub. gauge may be nil.
func NewHub(log *slog.Logger, gauge ClientGauge) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		gauge:  gauge,
		byUser: make(map[int64]map[string]*Client),
	}
}

// Subscribe registers c for its user's events.
func (h *Hub) Subscribe(c *Client) {
	if h == nil || c == nil || c.ConnID == "" {
		return
	}

	h.mu.Lock()
	set, ok := h.byUser[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.byUser[c.UserID] = set
	}
	_, existed := set[c.ConnID]
	set[c.ConnID] = c
	h.mu.Unlock()

	if !existed && h.gauge != nil {
		h.gauge.Inc()
	}
	h.log.Info("events.subscribe", "conn_id", c.ConnID, "user_id", c.UserID)
}

// Unsubscribe removes c and signals it to stop.
func (h *Hub) Unsubscribe(c *Client) {
	if h == nil || c == nil {
		return
	}

	h.mu.Lock()
	_, existed := h.byUser[c.UserID][c.ConnID]
	if existed {
		delete(h.byUser[c.UserID], c.ConnID)
		if len(h.byUser[c.UserID]) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	h.mu.Unlock()

	// Remove before closing so a broadcaster never holds a closing client.
	c.Close()

	if existed {
		if h.gauge != nil {
			h.gauge.Dec()
		}
		h.log.Info("events.unsubscribe", "conn_id", c.ConnID, "user_id", c.UserID)
	}
}

// Subscribers returns the number of connected clients for userID.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Publish implements Publisher.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("events.publish.encode", "type", e.Type, "err", err)
		return
	}
	env, err := newEnvelope(e.Type, payload, e.At)
	if err != nil {
		h.log.Error("events.publish.envelope", "type", e.Type, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped, revoked := 0, 0
	for _, c := range h.byUser[e.UserID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			dropped++
		}
		if c.revokedBy(e) {
			c.Revoke()
			revoked++
		}
	}
	if dropped > 0 {
		h.log.Warn("events.publish.dropped", "type", e.Type, "user_id", e.UserID, "dropped", dropped)
	}
	if revoked > 0 {
		h.log.Info("events.subscribers.revoked", "type", e.Type, "user_id", e.UserID, "count", revoked)
	}
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) (Envelope, error) {
	id, err := ids.NewULID(ts)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC(), Payload: payload}, nil
}
