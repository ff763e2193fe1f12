package facade

import (
	"context"

	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
	"hfauth/cmd/internal/events"
)

// CloseAllResult counts what CloseAllSessions ended.
type CloseAllResult struct {
	Sessions int
	Tokens   int
}

// CloseAllSessions revokes every active token and session of userID.
func (s *Service) CloseAllSessions(ctx context.Context, userID int64) (CloseAllResult, error) {
	if userID <= 0 {
		return CloseAllResult{}, invalidInput("user_id must be positive")
	}

	var (
		res    CloseAllResult
		closed []session.Session
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		// Tokens before sessions: every multi-step operation locks in this order.
		if res.Tokens, err = s.tokens.RevokeAllForUser(ctx, userID); err != nil {
			return err
		}
		closed, err = s.sessions.CloseAllForUser(ctx, userID)
		res.Sessions = len(closed)
		return err
	})
	if err != nil {
		s.log.Error("auth.sessions.close_all.fail", "user_id", userID, "err", err)
		return CloseAllResult{}, err
	}

	s.publish([]events.Event{{
		Type:   events.TypeSessionsRevoked,
		UserID: userID,
		Count:  res.Sessions,
		Reason: "close_all",
		At:     s.tokens.Now(),
	}})
	s.log.Info("auth.sessions.close_all.ok", "user_id", userID, "sessions", res.Sessions, "tokens", res.Tokens)
	return res, nil
}

// ListSessions returns every session of userID, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]session.Session, error) {
	if userID <= 0 {
		return nil, invalidInput("user_id must be positive")
	}
	return s.sessions.ListForUser(ctx, userID)
}

// ListTokens returns every token of userID, newest first, without secrets.
func (s *Service) ListTokens(ctx context.Context, userID int64) ([]token.Token, error) {
	if userID <= 0 {
		return nil, invalidInput("user_id must be positive")
	}
	return s.tokens.ListForUser(ctx, userID)
}

// SessionStatus is the result of ValidateSession.
type SessionStatus struct {
	Valid   bool
	Session session.Session
}

// ValidateSession checks a session token without touching it.
func (s *Service) ValidateSession(ctx context.Context, sessionToken string) (SessionStatus, error) {
	sess, ok, expired, err := s.sessions.Lookup(ctx, StripBearer(sessionToken))
	if err != nil {
		s.metrics.Validation("session", "error")
		return SessionStatus{}, err
	}
	if expired != nil {
		s.publish([]events.Event{{Type: events.TypeSessionExpired, UserID: expired.UserID, SessionID: expired.ID, Reason: "idle", At: at(expired.EndedAt)}})
	}
	if !ok {
		s.metrics.Validation("session", "invalid")
		return SessionStatus{}, nil
	}
	s.metrics.Validation("session", "valid")
	return SessionStatus{Valid: true, Session: sess}, nil
}

// TouchSession records activity on an ACTIVE session. It reports whether a
// session was touched.
func (s *Service) TouchSession(ctx context.Context, sessionToken string) (bool, error) {
	return s.sessions.Touch(ctx, StripBearer(sessionToken))
}

// SweepResult counts what one Sweep pass changed.
type SweepResult struct {
	ExpiredTokens   int
	ExpiredSessions int
	PurgedTokens    int
}

// Sweep deactivates expired tokens, expires idle sessions, and purges old
// inactive tokens. Each step runs even if an earlier one failed; the first
// error is returned.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res      SweepResult
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := s.tokens.SweepExpired(ctx)
	keep(err)
	res.ExpiredTokens = n
	s.metrics.Swept("tokens_expired", n)

	expired, err := s.sessions.SweepIdle(ctx)
	keep(err)
	res.ExpiredSessions = len(expired)
	s.metrics.Swept("sessions_expired", len(expired))
	evs := make([]events.Event, 0, len(expired))
	for _, e := range expired {
		evs = append(evs, events.Event{Type: events.TypeSessionExpired, UserID: e.UserID, SessionID: e.ID, Reason: "sweep", At: at(e.EndedAt)})
	}
	s.publish(evs)

	n, err = s.tokens.PurgeInactive(ctx)
	keep(err)
	res.PurgedTokens = n
	s.metrics.Swept("tokens_purged", n)

	return res, firstErr
}
