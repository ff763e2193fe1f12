package facade

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
	"hfauth/cmd/internal/events"
	"hfauth/cmd/security/password"
)

// BearerPrefix is stripped (case-sensitively) from presented tokens.
const BearerPrefix = "Bearer "

// Refresh re-issues LOGIN tokens with this fixed origin.
const (
	RefreshOriginIP        = "127.0.0.1"
	RefreshOriginUserAgent = "Refresh"
)

const dummyPassword = "hfauth-dummy-password"

// Deps wires a Service. Credentials, Tokens, and Sessions are required.
type Deps struct {
	Credentials identity.Store
	Tokens      *token.Manager
	Sessions    *session.Manager

	Hasher   password.Hasher
	Policy   password.Policy
	Tx       Transactor
	Events   events.Publisher
	Metrics  Metrics
	Notifier ResetNotifier
	Log      *slog.Logger
}

// Service composes the credential store and the token and session managers.
type Service struct {
	creds    identity.Store
	tokens   *token.Manager
	sessions *session.Manager

	hasher   password.Hasher
	policy   password.Policy
	tx       Transactor
	events   events.Publisher
	metrics  Metrics
	notifier ResetNotifier
	log      *slog.Logger

	// dummyStored is verified against on unknown emails so a miss costs
	// about as much as a wrong password.
	dummyStored string
}

// New constructs a Service. Optional dependencies fall back to no-ops and the
// plain hasher.
func New(d Deps) (*Service, error) {
	if d.Credentials == nil || d.Tokens == nil || d.Sessions == nil {
		return nil, errors.New("facade: credentials, tokens, and sessions are required")
	}

	s := &Service{
		creds:    d.Credentials,
		tokens:   d.Tokens,
		sessions: d.Sessions,
		hasher:   d.Hasher,
		policy:   d.Policy,
		tx:       d.Tx,
		events:   d.Events,
		metrics:  d.Metrics,
		notifier: d.Notifier,
		log:      d.Log,
	}
	if s.hasher == nil {
		s.hasher = password.Plain{}
	}
	if s.tx == nil {
		s.tx = NopTransactor{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = LogResetNotifier{Log: s.log}
	}

	dummy, err := s.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("facade: hash dummy password: %w", err)
	}
	s.dummyStored = dummy

	return s, nil
}

// StripBearer removes a leading "Bearer " (exact case) and surrounding space.
func StripBearer(raw string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), BearerPrefix))
}

// bearerKind reports whether k may authenticate API calls.
func bearerKind(k token.Kind) bool {
	return k == token.KindLogin || k == token.KindRefresh
}

func (s *Service) publish(evs []events.Event) {
	for _, e := range evs {
		s.events.Publish(e)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
