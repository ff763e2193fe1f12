package facade

import (
	"context"
	"errors"
	"time"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
	"hfauth/cmd/internal/events"
)

// LoginResult is returned by Login and LoginWithPassword. Token.Secret and
// Session.Token carry the only plaintext copies.
type LoginResult struct {
	Token   token.Token
	Session session.Session

	// Credential is set by LoginWithPassword.
	Credential *identity.Credential
}

// Login issues a LOGIN token and opens a session for userID, replacing the
// user's previous login token and active session.
func (s *Service) Login(ctx context.Context, userID int64, ip, userAgent string) (LoginResult, error) {
	res, err := s.login(ctx, userID, ip, userAgent)
	s.metrics.Login("user_id", result(err))
	return res, err
}

func (s *Service) login(ctx context.Context, userID int64, ip, userAgent string) (LoginResult, error) {
	if userID <= 0 {
		return LoginResult{}, invalidInput("user_id must be positive")
	}

	var (
		issued   token.Token
		replaced []string
		opened   session.Opened
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		issued, replaced, err = s.tokens.IssueLogin(ctx, userID, ip, userAgent)
		if err != nil {
			return err
		}
		opened, err = s.sessions.Open(ctx, userID, ip, userAgent)
		return err
	})
	if err != nil {
		if issued.Secret != "" {
			// Without a real transaction the token outlives the failed Open.
			if _, _, rerr := s.tokens.Revoke(context.WithoutCancel(ctx), issued.Secret); rerr != nil {
				s.log.Error("auth.login.compensate.fail", "user_id", userID, "err", rerr)
			}
		}
		s.log.Error("auth.login.fail", "user_id", userID, "err", err)
		return LoginResult{}, err
	}

	now := opened.StartedAt
	evs := make([]events.Event, 0, len(opened.Closed)+len(replaced)+1)
	for _, id := range opened.Closed {
		evs = append(evs, events.Event{Type: events.TypeSessionClosed, UserID: userID, SessionID: id, Reason: "replaced", At: now})
	}
	evs = append(evs, events.Event{Type: events.TypeSessionOpened, UserID: userID, SessionID: opened.ID, At: now})
	evs = append(evs, replacedTokenEvents(userID, replaced, "", now)...)
	s.publish(evs)

	s.log.Info("auth.login.ok", "user_id", userID, "session_id", opened.ID, "device", opened.Device, "browser", opened.Browser)
	return LoginResult{Token: issued, Session: opened.Session}, nil
}

// LoginWithPassword authenticates email/password and then performs Login for
// the credential's user. Every authentication failure is ErrInvalidCredentials.
func (s *Service) LoginWithPassword(ctx context.Context, email, plain, ip, userAgent string) (LoginResult, error) {
	res, err := s.loginWithPassword(ctx, email, plain, ip, userAgent)
	switch {
	case err == nil:
		s.metrics.Login("password", "ok")
	case errors.Is(err, ErrInvalidCredentials):
		s.metrics.Login("password", "invalid")
	default:
		s.metrics.Login("password", "error")
	}
	return res, err
}

func (s *Service) loginWithPassword(ctx context.Context, email, plain, ip, userAgent string) (LoginResult, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || plain == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	c, found, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		_, _ = s.hasher.Verify(s.dummyStored, plain)
		return LoginResult{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(c.Password, plain)
	if err != nil {
		s.log.Warn("auth.login.verify.fail", "credential_id", c.ID, "err", err)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !ok || !c.Active {
		return LoginResult{}, ErrInvalidCredentials
	}

	res, err := s.login(ctx, c.UserID, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.creds.RecordLogin(ctx, c.ID, res.Session.StartedAt); err != nil {
		s.log.Warn("auth.login.last_login.fail", "credential_id", c.ID, "err", err)
	} else {
		at := res.Session.StartedAt
		c.LastLoginAt = &at
	}
	c.Password = ""
	res.Credential = &c
	return res, nil
}

// Logout revokes the bearer token and closes the session. Both halves are
// idempotent, so logging out twice succeeds.
func (s *Service) Logout(ctx context.Context, bearer, sessionToken string) error {
	secret := StripBearer(bearer)
	sessionToken = StripBearer(sessionToken)

	var (
		revoked      token.Token
		tokenChanged bool
		closed       session.Session
		closedOK     bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		revoked, tokenChanged, err = s.tokens.Revoke(ctx, secret)
		if err != nil {
			return err
		}
		closed, closedOK, err = s.sessions.Close(ctx, sessionToken)
		return err
	})
	if err != nil {
		s.log.Error("auth.logout.fail", "err", err)
		return err
	}

	// Revocations go last: subscribers holding the token disconnect after them.
	var evs []events.Event
	if closedOK {
		evs = append(evs, events.Event{Type: events.TypeSessionClosed, UserID: closed.UserID, SessionID: closed.ID, Reason: "logout", At: at(closed.EndedAt)})
	}
	if tokenChanged {
		evs = append(evs, events.Event{Type: events.TypeTokenRevoked, UserID: revoked.UserID, TokenID: revoked.ID, Reason: "logout", At: at(revoked.DeactivatedAt)})
	}
	s.publish(evs)
	s.metrics.Logout()

	s.log.Info("auth.logout.ok", "token_revoked", tokenChanged, "session_closed", closedOK)
	return nil
}

// ValidateResult reports whether a bearer token is usable and who owns it.
type ValidateResult struct {
	Valid     bool
	UserID    int64
	TokenID   string
	Kind      token.Kind
	ExpiresAt time.Time
}

// Validate checks a bearer token. Invalid tokens are a normal result, not an
// error.
func (s *Service) Validate(ctx context.Context, bearer string) (ValidateResult, error) {
	t, ok, err := s.tokens.Lookup(ctx, StripBearer(bearer))
	if err != nil {
		s.metrics.Validation("token", "error")
		return ValidateResult{}, err
	}
	if !ok || !bearerKind(t.Kind) {
		s.metrics.Validation("token", "invalid")
		return ValidateResult{}, nil
	}
	s.metrics.Validation("token", "valid")
	return ValidateResult{Valid: true, UserID: t.UserID, TokenID: t.ID, Kind: t.Kind, ExpiresAt: t.ExpiresAt}, nil
}

// Authenticate adapts Validate to events.Authenticator.
func (s *Service) Authenticate(ctx context.Context, bearer string) (events.Principal, bool, error) {
	res, err := s.Validate(ctx, bearer)
	if err != nil || !res.Valid {
		return events.Principal{}, false, err
	}
	return events.Principal{UserID: res.UserID, TokenID: res.TokenID}, true, nil
}

// Refresh exchanges a usable bearer token for a new LOGIN token of the same
// owner. The old token is revoked. Unresolvable tokens fail with
// ErrInvalidToken and nothing is issued.
func (s *Service) Refresh(ctx context.Context, bearer string) (token.Token, error) {
	secret := StripBearer(bearer)

	var (
		issued   token.Token
		revoked  token.Token
		replaced []string
		changed  bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		old, ok, err := s.tokens.Lookup(ctx, secret)
		if err != nil {
			return err
		}
		if !ok || !bearerKind(old.Kind) {
			return ErrInvalidToken
		}

		issued, replaced, err = s.tokens.IssueLogin(ctx, old.UserID, RefreshOriginIP, RefreshOriginUserAgent)
		if err != nil {
			return err
		}
		revoked, changed, err = s.tokens.Revoke(ctx, secret)
		if err != nil {
			return err
		}
		if !changed {
			// IssueLogin already retired a LOGIN predecessor.
			revoked, changed = old, true
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrInvalidToken):
		s.metrics.Refresh("invalid")
		return token.Token{}, err
	case err != nil:
		s.metrics.Refresh("error")
		s.log.Error("auth.refresh.fail", "err", err)
		return token.Token{}, err
	}
	s.metrics.Refresh("ok")

	evs := replacedTokenEvents(issued.UserID, replaced, revoked.ID, issued.IssuedAt)
	if changed {
		evs = append(evs, events.Event{Type: events.TypeTokenRevoked, UserID: revoked.UserID, TokenID: revoked.ID, Reason: "refresh", At: issued.IssuedAt})
	}
	s.publish(evs)
	s.log.Info("auth.refresh.ok", "user_id", issued.UserID, "token_id", issued.ID)
	return issued, nil
}

// replacedTokenEvents reports LOGIN tokens retired by a newer login, except
// skipID which the caller reports itself.
func replacedTokenEvents(userID int64, replaced []string, skipID string, now time.Time) []events.Event {
	var evs []events.Event
	for _, id := range replaced {
		if id == skipID {
			continue
		}
		evs = append(evs, events.Event{Type: events.TypeTokenRevoked, UserID: userID, TokenID: id, Reason: "replaced", At: now})
	}
	return evs
}

func at(p *time.Time) time.Time {
	if p == nil {
		return time.Now().UTC()
	}
	return *p
}
