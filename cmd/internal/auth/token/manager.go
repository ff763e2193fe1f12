package token

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hfauth/cmd/identity/ids"
	"hfauth/cmd/internal/clock"
	sectoken "hfauth/cmd/security/token"
)

// Manager issues, validates, and revokes tokens.
//
// Absence is never an error: unknown secrets validate to false, resolve to no
// owner, and revoke as a no-op.
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

// IssueLogin deactivates every active LOGIN token of userID and issues a new
// one valid for Config.LoginTTL. replaced holds the ids of the deactivated
// tokens.
func (m *Manager) IssueLogin(ctx context.Context, userID int64, ip, userAgent string) (t Token, replaced []string, err error) {
	t, err = m.newToken(userID, KindLogin, ip, userAgent)
	if err != nil {
		return Token{}, nil, err
	}

	replaced, err = m.store.ReplaceActive(ctx, t, t.IssuedAt)
	if err != nil {
		return Token{}, nil, fmt.Errorf("token.IssueLogin: %w", err)
	}
	if len(replaced) > 0 {
		m.log.Debug("token.login.replaced", "user_id", userID, "deactivated", len(replaced))
	}
	return t, replaced, nil
}

// IssueRefresh issues a REFRESH token. Refresh tokens of one user coexist.
func (m *Manager) IssueRefresh(ctx context.Context, userID int64) (Token, error) {
	return m.issue(ctx, "token.IssueRefresh", userID, KindRefresh)
}

// IssueReset issues a RESET_PASSWORD token bound to credentialID, replacing
// earlier unused reset tokens of the same user.
func (m *Manager) IssueReset(ctx context.Context, userID int64, credentialID string) (Token, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return Token{}, ErrMissingCredential
	}
	t, err := m.newToken(userID, KindReset, "", "")
	if err != nil {
		return Token{}, err
	}
	t.CredentialID = credentialID
	if _, err := m.store.ReplaceActive(ctx, t, t.IssuedAt); err != nil {
		return Token{}, fmt.Errorf("token.IssueReset: %w", err)
	}
	return t, nil
}

func (m *Manager) issue(ctx context.Context, op string, userID int64, kind Kind) (Token, error) {
	t, err := m.newToken(userID, kind, "", "")
	if err != nil {
		return Token{}, err
	}
	if err := m.store.Create(ctx, t); err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (m *Manager) newToken(userID int64, kind Kind, ip, userAgent string) (Token, error) {
	now := m.clock.Now()

	id, err := m.ids.NewID(now)
	if err != nil {
		return Token{}, err
	}
	secret, err := m.ids.NewTokenSecret(now)
	if err != nil {
		return Token{}, err
	}

	return Token{
		ID:         id,
		UserID:     userID,
		Secret:     secret,
		SecretHash: m.digest.Digest(secret),
		Kind:       kind,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.cfg.ttl(kind)),
		Active:     true,
		OriginIP:   strings.TrimSpace(ip),
		UserAgent:  strings.TrimSpace(userAgent),
	}, nil
}

// Lookup returns the active, unexpired token matching secret. An expired match
// is deactivated on the way out.
func (m *Manager) Lookup(ctx context.Context, secret string) (Token, bool, error) {
	if secret == "" {
		return Token{}, false, nil
	}

	t, ok, err := m.store.FindByHash(ctx, m.digest.Digest(secret))
	if err != nil || !ok || !t.Active {
		return Token{}, false, err
	}

	now := m.clock.Now()
	if t.Expired(now) {
		if _, err := m.store.DeactivateByHash(ctx, t.SecretHash, now); err != nil {
			return Token{}, false, err
		}
		m.log.Debug("token.expired", "token_id", t.ID, "user_id", t.UserID, "kind", string(t.Kind))
		return Token{}, false, nil
	}
	return t, true, nil
}

// Validate reports whether secret matches an active, unexpired token.
func (m *Manager) Validate(ctx context.Context, secret string) (bool, error) {
	_, ok, err := m.Lookup(ctx, secret)
	return ok, err
}

// ResolveOwner returns the owner of the active, unexpired token matching secret.
func (m *Manager) ResolveOwner(ctx context.Context, secret string) (int64, bool, error) {
	t, ok, err := m.Lookup(ctx, secret)
	if err != nil || !ok {
		return 0, false, err
	}
	return t.UserID, true, nil
}

// Revoke deactivates the token matching secret whatever its state. changed
// is false when nothing matched or the token was already inactive.
func (m *Manager) Revoke(ctx context.Context, secret string) (t Token, changed bool, err error) {
	if secret == "" {
		return Token{}, false, nil
	}

	hash := m.digest.Digest(secret)
	t, found, err := m.store.FindByHash(ctx, hash)
	if err != nil || !found {
		return Token{}, false, err
	}

	now := m.clock.Now()
	changed, err = m.store.DeactivateByHash(ctx, hash, now)
	if err != nil {
		return Token{}, false, err
	}
	if changed {
		t.Active = false
		t.DeactivatedAt = &now
	}
	return t, changed, nil
}

// RevokeAllForUser deactivates every active token of userID.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	return m.store.DeactivateAllForUser(ctx, userID, m.clock.Now())
}

// SweepExpired deactivates every active token past its expiry.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.DeactivateExpired(ctx, m.clock.Now())
}

// PurgeInactive deletes inactive tokens that expired more than
// Config.Retention ago.
func (m *Manager) PurgeInactive(ctx context.Context) (int, error) {
	return m.store.DeleteInactiveBefore(ctx, m.clock.Now().Add(-m.cfg.Retention))
}

// ListForUser returns userID's tokens newest first, without secrets.
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]Token, error) {
	ts, err := m.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range ts {
		ts[i].Secret = ""
	}
	return ts, nil
}

// Now exposes the manager's clock to collaborators sharing it.
func (m *Manager) Now() time.Time { return m.clock.Now() }
