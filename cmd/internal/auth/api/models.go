package api

import (
	"time"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/facade"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
)

type loginRequest struct {
	UserID   *int64  `json:"user_id"`
	Email    *string `json:"email"`
	Password string  `json:"password"`
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	UserID   int64   `json:"user_id"`
	UserType string  `json:"user_type"`
	Notes    *string `json:"notes"`
}

type updateCredentialRequest struct {
	Notes  *string `json:"notes"`
	Active *bool   `json:"active"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type credentialResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	UserID      int64      `json:"user_id"`
	UserType    string     `json:"user_type"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
	Notes       *string    `json:"notes"`
}

type tokenResponse struct {
	ID            string     `json:"id"`
	UserID        int64      `json:"user_id"`
	Token         string     `json:"token,omitempty"`
	Kind          string     `json:"kind"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	OriginIP      string     `json:"origin_ip"`
	UserAgent     string     `json:"user_agent"`
}

type sessionResponse struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	SessionToken   string     `json:"session_token,omitempty"`
	State          string     `json:"state"`
	StartedAt      time.Time  `json:"started_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ClientIP       string     `json:"client_ip"`
	Device         string     `json:"device"`
	Browser        string     `json:"browser"`
}

type loginResponse struct {
	Token      tokenResponse       `json:"token"`
	Session    sessionResponse     `json:"session"`
	Credential *credentialResponse `json:"credential,omitempty"`
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	UserID    int64      `json:"user_id,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type sessionStatusResponse struct {
	Valid   bool             `json:"valid"`
	Session *sessionResponse `json:"session,omitempty"`
}

type touchResponse struct {
	Touched bool `json:"touched"`
}

type closeAllResponse struct {
	Sessions int `json:"sessions"`
	Tokens   int `json:"tokens"`
}

func toCredentialResponse(c identity.Credential) credentialResponse {
	return credentialResponse{
		ID:          c.ID,
		Email:       c.Email,
		UserID:      c.UserID,
		UserType:    string(c.UserType),
		Active:      c.Active,
		CreatedAt:   c.CreatedAt,
		LastLoginAt: c.LastLoginAt,
		Notes:       c.Notes,
	}
}

func toTokenResponse(t token.Token) tokenResponse {
	return tokenResponse{
		ID:            t.ID,
		UserID:        t.UserID,
		Token:         t.Secret,
		Kind:          string(t.Kind),
		IssuedAt:      t.IssuedAt,
		ExpiresAt:     t.ExpiresAt,
		Active:        t.Active,
		DeactivatedAt: t.DeactivatedAt,
		OriginIP:      t.OriginIP,
		UserAgent:     t.UserAgent,
	}
}

func toSessionResponse(s session.Session) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		UserID:         s.UserID,
		SessionToken:   s.Token,
		State:          string(s.State),
		StartedAt:      s.StartedAt,
		LastAccessedAt: s.LastAccessedAt,
		EndedAt:        s.EndedAt,
		ClientIP:       s.ClientIP,
		Device:         s.Device,
		Browser:        s.Browser,
	}
}

func toLoginResponse(res facade.LoginResult) loginResponse {
	out := loginResponse{
		Token:   toTokenResponse(res.Token),
		Session: toSessionResponse(res.Session),
	}
	if res.Credential != nil {
		c := toCredentialResponse(*res.Credential)
		out.Credential = &c
	}
	return out
}
