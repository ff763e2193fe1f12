package token

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. A single mutex serializes writers,
// which covers the per-user ReplaceActive requirement.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Token
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Token)}
}

func (s *MemoryStore) Create(ctx context.Context, t Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t)
}

func (s *MemoryStore) ReplaceActive(ctx context.Context, t Token, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byHash[t.SecretHash]; dup {
		return nil, ErrDuplicateSecret
	}

	var replaced []string
	for _, cur := range s.byHash {
		if cur.UserID == t.UserID && cur.Kind == t.Kind && cur.Active {
			deactivate(cur, now)
			replaced = append(replaced, cur.ID)
		}
	}
	if err := s.insertLocked(t); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, hash string) (Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byHash[hash]
	if !ok {
		return Token{}, false, nil
	}
	return cloneToken(*t), true, nil
}

func (s *MemoryStore) DeactivateByHash(ctx context.Context, hash string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byHash[hash]
	if !ok || !t.Active {
		return false, nil
	}
	deactivate(t, at)
	return true, nil
}

func (s *MemoryStore) DeactivateAllForUser(ctx context.Context, userID int64, at time.Time) (int, error) {
	return s.deactivateWhere(ctx, at, func(t *Token) bool { return t.UserID == userID })
}

func (s *MemoryStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	return s.deactivateWhere(ctx, now, func(t *Token) bool { return t.Expired(now) })
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID int64) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]Token, 0)
	for _, t := range s.byHash {
		if t.UserID == userID {
			out = append(out, cloneToken(*t))
		}
	}
	s.mu.Unlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for h, t := range s.byHash {
		if !t.Active && t.ExpiresAt.Before(cutoff) {
			delete(s.byHash, h)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) deactivateWhere(ctx context.Context, at time.Time, match func(*Token) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.byHash {
		if t.Active && match(t) {
			deactivate(t, at)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) insertLocked(t Token) error {
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if _, dup := s.byHash[t.SecretHash]; dup {
		return ErrDuplicateSecret
	}
	t.Secret = ""
	c := cloneToken(t)
	s.byHash[t.SecretHash] = &c
	return nil
}

func deactivate(t *Token, at time.Time) {
	at = at.UTC()
	t.Active = false
	t.DeactivatedAt = &at
}

func cloneToken(t Token) Token {
	if t.DeactivatedAt != nil {
		at := *t.DeactivatedAt
		t.DeactivatedAt = &at
	}
	return t
}

// sortNewestFirst orders by issued_at, then id, descending.
func sortNewestFirst(ts []Token) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].IssuedAt.Equal(ts[j].IssuedAt) {
			return ts[i].IssuedAt.After(ts[j].IssuedAt)
		}
		return ts[i].ID > ts[j].ID
	})
}
