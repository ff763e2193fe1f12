package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"hfauth/cmd/identity/ids"
	"hfauth/cmd/internal/clock"
)

// MemoryStore is an in-process Store used when no database is configured and
// in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Credential
	byEmail map[string]string

	clock clock.Clock
	ids   ids.Generator
}

// NewMemoryStore returns an empty store. Nil clock or generator fall back to
// the defaults.
func NewMemoryStore(clk clock.Clock, gen ids.Generator) *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Credential),
		byEmail: make(map[string]string),
		clock:   clock.OrSystem(clk),
		ids:     ids.OrDefault(gen),
	}
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return Credential{}, false, nil
	}
	return cloneCredential(s.byID[id]), true, nil
}

func (s *MemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, ok, err := s.FindByEmail(ctx, email)
	return ok, err
}

func (s *MemoryStore) Create(ctx context.Context, c Credential) (Credential, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	c, err := prepareCreate(op, c, s.clock.Now(), s.ids)
	if err != nil {
		return Credential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byEmail[c.Email]; dup {
		return Credential{}, ConflictError{Op: op, Field: "email"}
	}
	if _, dup := s.byID[c.ID]; dup {
		return Credential{}, ConflictError{Op: op, Field: "id"}
	}

	s.byID[c.ID] = cloneCredential(c)
	s.byEmail[c.Email] = c.ID
	return cloneCredential(c), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return Credential{}, false, nil
	}
	return cloneCredential(c), true, nil
}

func (s *MemoryStore) List(ctx context.Context, userType *UserType) ([]Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Credential, 0, len(s.byID))
	for _, c := range s.byID {
		if userType != nil && c.UserType != *userType {
			continue
		}
		out = append(out, cloneCredential(c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, id, stored string) error {
	const op = "identity.UpdatePassword"
	if stored == "" {
		return invalid(op, "empty password")
	}
	return s.update(ctx, op, id, func(c *Credential) { c.Password = stored })
}

func (s *MemoryStore) UpdateNotes(ctx context.Context, id string, notes *string) error {
	notes = NormalizeNotes(notes)
	return s.update(ctx, "identity.UpdateNotes", id, func(c *Credential) { c.Notes = notes })
}

func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, "identity.SetActive", id, func(c *Credential) { c.Active = active })
}

func (s *MemoryStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return s.update(ctx, "identity.RecordLogin", id, func(c *Credential) { c.LastLoginAt = &at })
}

func (s *MemoryStore) update(ctx context.Context, op, id string, fn func(*Credential)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "credential"}
	}
	fn(&c)
	s.byID[id] = c
	return nil
}

// prepareCreate validates c and fills the generated fields.
func prepareCreate(op string, c Credential, now time.Time, gen ids.Generator) (Credential, error) {
	c.Email = NormalizeEmail(c.Email)
	if c.Email == "" {
		return Credential{}, invalid(op, "email is required")
	}
	if c.Password == "" {
		return Credential{}, invalid(op, "password is required")
	}
	if c.UserType == "" {
		c.UserType = UserClient
	}
	if !c.UserType.Valid() {
		return Credential{}, invalid(op, "unknown user type")
	}
	c.Notes = NormalizeNotes(c.Notes)

	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if c.ID == "" {
		id, err := gen.NewID(c.CreatedAt)
		if err != nil {
			return Credential{}, err
		}
		c.ID = id
	}
	return c, nil
}

func cloneCredential(c Credential) Credential {
	if c.LastLoginAt != nil {
		t := *c.LastLoginAt
		c.LastLoginAt = &t
	}
	if c.Notes != nil {
		n := *c.Notes
		c.Notes = &n
	}
	return c
}
