package events

import "time"

// frameLimiter admits at most limit inbound frames per sliding window.
//
// It keeps the timestamps of the last limit admitted frames in a ring, so a
// frame is admitted when the oldest of them has left the window. A limiter
// belongs to one connection's read loop and is not safe for concurrent use.
type frameLimiter struct {
	window time.Duration
	ring   []time.Time
	next   int
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &frameLimiter{window: window, ring: make([]time.Time, limit)}
}

func (l *frameLimiter) allow(now time.Time) bool {
	oldest := l.ring[l.next]
	if !oldest.IsZero() && now.Sub(oldest) < l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}
