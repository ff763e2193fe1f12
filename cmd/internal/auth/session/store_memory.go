package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store guarded by one mutex.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Session
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Session)}
}

func (m *MemoryStore) OpenExclusive(ctx context.Context, s Session, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byHash[s.TokenHash]; dup {
		return nil, ErrDuplicateToken
	}

	var closed []string
	for _, cur := range m.byHash {
		if cur.UserID == s.UserID && cur.State == StateActive {
			end(cur, StateClosed, now)
			closed = append(closed, cur.ID)
		}
	}

	s.Token = ""
	c := cloneSession(s)
	m.byHash[s.TokenHash] = &c
	return closed, nil
}

func (m *MemoryStore) FindByHash(ctx context.Context, hash string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byHash[hash]
	if !ok {
		return Session{}, false, nil
	}
	return cloneSession(*s), true, nil
}

func (m *MemoryStore) Touch(ctx context.Context, hash string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byHash[hash]
	if !ok || s.State != StateActive {
		return false, nil
	}
	s.LastAccessedAt = at.UTC()
	return true, nil
}

func (m *MemoryStore) End(ctx context.Context, hash string, to State, at time.Time) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byHash[hash]
	if !ok || s.State != StateActive {
		return Session{}, false, nil
	}
	end(s, to, at)
	return cloneSession(*s), true, nil
}

func (m *MemoryStore) EndAllForUser(ctx context.Context, userID int64, to State, at time.Time) ([]Session, error) {
	return m.endWhere(ctx, to, at, func(s *Session) bool { return s.UserID == userID })
}

func (m *MemoryStore) ExpireIdle(ctx context.Context, cutoff, at time.Time) ([]Session, error) {
	return m.endWhere(ctx, StateExpired, at, func(s *Session) bool { return s.LastAccessedAt.Before(cutoff) })
}

func (m *MemoryStore) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]Session, 0)
	for _, s := range m.byHash {
		if s.UserID == userID {
			out = append(out, cloneSession(*s))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) endWhere(ctx context.Context, to State, at time.Time, match func(*Session) bool) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.byHash {
		if s.State == StateActive && match(s) {
			end(s, to, at)
			out = append(out, cloneSession(*s))
		}
	}
	return out, nil
}

func end(s *Session, to State, at time.Time) {
	at = at.UTC()
	s.State = to
	s.EndedAt = &at
}

func cloneSession(s Session) Session {
	if s.EndedAt != nil {
		at := *s.EndedAt
		s.EndedAt = &at
	}
	return s
}
