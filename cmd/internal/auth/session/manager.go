package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hfauth/cmd/identity/ids"
	"hfauth/cmd/internal/clock"
	sectoken "hfauth/cmd/security/token"
)

// Manager implements the session lifecycle over a Store.
type Manager struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	ids    ids.Generator
	digest sectoken.Digester
	log    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option          { return func(m *Manager) { m.clock = clock.OrSystem(c) } }
func WithGenerator(g ids.Generator) Option    { return func(m *Manager) { m.ids = ids.OrDefault(g) } }
func WithDigester(d sectoken.Digester) Option { return func(m *Manager) { m.digest = d } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager constructs a Manager over store.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		cfg:    cfg,
		clock:  clock.System{},
		ids:    ids.Default{},
		digest: sectoken.NewDigester(nil),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Opened is the result of Open: the new session (with its plaintext token)
// and the ids of the sessions it displaced.
type Opened struct {
	Session
	Closed []string
}

// Open closes every ACTIVE session of userID and starts a new one.
func (m *Manager) Open(ctx context.Context, userID int64, ip, userAgent string) (Opened, error) {
	now := m.clock.Now()

	id, err := m.ids.NewID(now)
	if err != nil {
		return Opened{}, err
	}
	tok, err := m.ids.NewSessionToken()
	if err != nil {
		return Opened{}, err
	}

	s := Session{
		ID:             id,
		UserID:         userID,
		Token:          tok,
		TokenHash:      m.digest.Digest(tok),
		State:          StateActive,
		StartedAt:      now,
		LastAccessedAt: now,
		ClientIP:       strings.TrimSpace(ip),
		Device:         ClassifyDevice(userAgent),
		Browser:        ClassifyBrowser(userAgent),
	}

	closed, err := m.store.OpenExclusive(ctx, s, now)
	if err != nil {
		return Opened{}, fmt.Errorf("session.Open: %w", err)
	}
	if len(closed) > 0 {
		m.log.Debug("session.open.replaced", "user_id", userID, "closed", len(closed))
	}
	return Opened{Session: s, Closed: closed}, nil
}

// Touch bumps last-accessed-at of the ACTIVE session matching token. It
// reports whether anything changed.
func (m *Manager) Touch(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return m.store.Touch(ctx, m.digest.Digest(token), m.clock.Now())
}

// Lookup returns the ACTIVE session matching token. A session idle longer
// than Config.IdleTimeout is moved to EXPIRED and reported as absent; the
// expired session is returned in expired so callers can publish it.
func (m *Manager) Lookup(ctx context.Context, token string) (s Session, ok bool, expired *Session, err error) {
	if token == "" {
		return Session{}, false, nil, nil
	}

	s, found, err := m.store.FindByHash(ctx, m.digest.Digest(token))
	if err != nil || !found || s.State != StateActive {
		return Session{}, false, nil, err
	}

	now := m.clock.Now()
	if s.IdleFor(now) > m.cfg.IdleTimeout {
		ended, changed, err := m.store.End(ctx, s.TokenHash, StateExpired, now)
		if err != nil {
			return Session{}, false, nil, err
		}
		if changed {
			m.log.Debug("session.expired", "session_id", ended.ID, "user_id", ended.UserID)
			return Session{}, false, &ended, nil
		}
		return Session{}, false, nil, nil
	}
	return s, true, nil, nil
}

// Validate reports whether token matches a usable ACTIVE session. It never
// updates last-accessed-at.
func (m *Manager) Validate(ctx context.Context, token string) (bool, error) {
	_, ok, _, err := m.Lookup(ctx, token)
	return ok, err
}

// Close moves the ACTIVE session matching token to CLOSED. Sessions already
// in a terminal state are left alone.
func (m *Manager) Close(ctx context.Context, token string) (Session, bool, error) {
	if token == "" {
		return Session{}, false, nil
	}
	return m.store.End(ctx, m.digest.Digest(token), StateClosed, m.clock.Now())
}

// CloseAllForUser revokes every ACTIVE session of userID.
func (m *Manager) CloseAllForUser(ctx context.Context, userID int64) ([]Session, error) {
	return m.store.EndAllForUser(ctx, userID, StateRevoked, m.clock.Now())
}

// ListForUser returns userID's sessions in every state, newest first.
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	return m.store.ListForUser(ctx, userID)
}

// SweepIdle expires ACTIVE sessions idle longer than Config.SweepIdleAfter.
func (m *Manager) SweepIdle(ctx context.Context) ([]Session, error) {
	now := m.clock.Now()
	return m.store.ExpireIdle(ctx, now.Add(-m.cfg.SweepIdleAfter), now)
}
