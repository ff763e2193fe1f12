package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/facade"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
	"hfauth/cmd/internal/clock"
	"hfauth/cmd/security/password"

	"github.com/stretchr/testify/require"
)

type resetCapture struct {
	secret string
}

func (c *resetCapture) NotifyPasswordReset(_ context.Context, _ identity.Credential, secret string, _ time.Time) error {
	c.secret = secret
	return nil
}

type apiFixture struct {
	mux   *http.ServeMux
	clk   *clock.Manual
	reset *resetCapture
}

func newAPIFixture(t *testing.T, cfg Config) apiFixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	reset := &resetCapture{}
	svc, err := facade.New(facade.Deps{
		Credentials: identity.NewMemoryStore(clk, nil),
		Tokens:      token.NewManager(token.NewMemoryStore(), token.DefaultConfig(), token.WithClock(clk)),
		Sessions:    session.NewManager(session.NewMemoryStore(), session.DefaultConfig(), session.WithClock(clk)),
		Policy:      password.Policy{MinLength: 8, MaxLength: 128},
		Notifier:    reset,
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewHandler(log, svc, cfg).Register(mux)
	return apiFixture{mux: mux, clk: clk, reset: reset}
}

func (f apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (f apiFixture) register(t *testing.T, email, pw string, userID int64) credentialResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email": email, "password": pw, "user_id": userID,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[credentialResponse](t, rec)
}

func (f apiFixture) passwordLogin(t *testing.T, email, pw string) loginResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": email, "password": pw}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[loginResponse](t, rec)
}

func TestLogin_ByUserIDThenValidateAndLogout(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())

	rec := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"user_id": 42}, map[string]string{
		"X-Forwarded-For": "203.0.113.9, 10.0.0.1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decodeBody[loginResponse](t, rec)
	require.True(t, strings.HasPrefix(login.Token.Token, "HF_"))
	require.True(t, strings.HasPrefix(login.Session.SessionToken, "SES_"))
	require.Equal(t, "Desktop", login.Session.Device)
	require.Equal(t, "Chrome", login.Session.Browser)
	require.Equal(t, "203.0.113.9", login.Session.ClientIP)
	require.Equal(t, "LOGIN", login.Token.Kind)

	bearer := map[string]string{"Authorization": "Bearer " + login.Token.Token}
	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[validateResponse](t, rec)
	require.True(t, v.Valid)
	require.EqualValues(t, 42, v.UserID)

	rec = f.do(t, http.MethodPost, "/api/auth/logout", nil, map[string]string{
		"Authorization": "Bearer " + login.Token.Token,
		"Session-Token": login.Session.SessionToken,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/logout", nil, map[string]string{
		"Authorization": "Bearer " + login.Token.Token,
		"Session-Token": login.Session.SessionToken,
	})
	require.Equal(t, http.StatusNoContent, rec.Code, "logout is idempotent")

	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, bearer)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthFailures_ShareOneBody(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())
	f.register(t, "ana@example.com", "correct-horse", 7)

	wrongPassword := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "ana@example.com", "password": "nope-nope-nope"}, nil)
	unknownEmail := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "bob@example.com", "password": "correct-horse"}, nil)
	badToken := f.do(t, http.MethodPost, "/api/auth/validate", nil, map[string]string{"Authorization": "Bearer HF_deadbeef_1"})
	badRefresh := f.do(t, http.MethodPost, "/api/auth/refresh", nil, map[string]string{"Authorization": "Bearer HF_deadbeef_1"})
	badSession := f.do(t, http.MethodPost, "/api/auth/sessions/validate", nil, map[string]string{"Session-Token": "SES_nope"})

	for name, rec := range map[string]*httptest.ResponseRecorder{
		"wrong password": wrongPassword,
		"unknown email":  unknownEmail,
		"bad token":      badToken,
		"bad refresh":    badRefresh,
		"bad session":    badSession,
	} {
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		require.JSONEq(t, wrongPassword.Body.String(), rec.Body.String(), name)
	}
}

func TestPasswordLogin_RefreshAndSessions(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())
	f.register(t, "ana@example.com", "correct-horse", 7)

	login := f.passwordLogin(t, "ana@example.com", "correct-horse")
	require.NotNil(t, login.Credential)
	require.NotNil(t, login.Credential.LastLoginAt)

	rec := f.do(t, http.MethodPost, "/api/auth/refresh", nil, map[string]string{"Authorization": "Bearer " + login.Token.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decodeBody[tokenResponse](t, rec)
	require.NotEqual(t, login.Token.Token, refreshed.Token)
	require.Equal(t, "127.0.0.1", refreshed.OriginIP)
	require.Equal(t, "Refresh", refreshed.UserAgent)

	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, map[string]string{"Authorization": "Bearer " + login.Token.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "old token is revoked by refresh")

	sessHdr := map[string]string{"Session-Token": login.Session.SessionToken}
	rec = f.do(t, http.MethodPost, "/api/auth/sessions/touch", nil, sessHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody[touchResponse](t, rec).Touched)

	f.clk.Advance(2*time.Hour + time.Second)
	rec = f.do(t, http.MethodPost, "/api/auth/sessions/validate", nil, sessHdr)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "idle session expires")

	rec = f.do(t, http.MethodGet, "/api/auth/sessions/7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]sessionResponse](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, "EXPIRED", list[0].State)
	require.Empty(t, list[0].SessionToken)

	rec = f.do(t, http.MethodGet, "/api/auth/tokens/7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decodeBody[[]tokenResponse](t, rec)
	require.Len(t, tokens, 2)
	for _, tk := range tokens {
		require.Empty(t, tk.Token, "listed tokens never carry secrets")
	}
}

func TestCloseAllSessions(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())
	rec := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"user_id": 9}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[loginResponse](t, rec)

	rec = f.do(t, http.MethodDelete, "/api/auth/sessions/9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[closeAllResponse](t, rec)
	require.Equal(t, closeAllResponse{Sessions: 1, Tokens: 1}, res)

	rec = f.do(t, http.MethodGet, "/api/auth/sessions/9", nil, nil)
	list := decodeBody[[]sessionResponse](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, "REVOKED", list[0].State)

	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, map[string]string{"Authorization": login.Token.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/auth/sessions/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminKey(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AdminKey = "k3y"
	f := newAPIFixture(t, cfg)

	rec := f.do(t, http.MethodGet, "/api/auth/credentials", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"user_id": 3}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "password-less login is administrative")

	rec = f.do(t, http.MethodGet, "/api/auth/credentials", nil, map[string]string{"X-Admin-Key": "k3y"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Password login stays public.
	f.register(t, "ana@example.com", "correct-horse", 7)
	f.passwordLogin(t, "ana@example.com", "correct-horse")
}

func TestRegisterAndCredentialAdmin(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())
	c := f.register(t, "tech@example.com", "correct-horse", 11)
	require.Equal(t, "CLIENT", c.UserType)
	require.True(t, c.Active)

	rec := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email": "tech@example.com", "password": "correct-horse", "user_id": 12,
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email": "short@example.com", "password": "x", "user_id": 13,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email": "a@example.com", "password": "correct-horse", "user_id": 14, "role": "ADMIN",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email": "admin@example.com", "password": "correct-horse", "user_id": 15, "user_type": "admin",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/auth/credentials?user_type=ADMIN", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	admins := decodeBody[[]credentialResponse](t, rec)
	require.Len(t, admins, 1)
	require.Equal(t, "admin@example.com", admins[0].Email)

	rec = f.do(t, http.MethodGet, "/api/auth/credentials/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/auth/credentials/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	login := f.passwordLogin(t, "tech@example.com", "correct-horse")

	rec = f.do(t, http.MethodPatch, "/api/auth/credentials/"+c.ID, map[string]any{"notes": "on call", "active": false}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[credentialResponse](t, rec)
	require.False(t, updated.Active)
	require.NotNil(t, updated.Notes)
	require.Equal(t, "on call", *updated.Notes)

	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, map[string]string{"Authorization": "Bearer " + login.Token.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "disabling signs the user out")

	rec = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "tech@example.com", "password": "correct-horse"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())
	f.register(t, "ana@example.com", "correct-horse", 7)
	login := f.passwordLogin(t, "ana@example.com", "correct-horse")

	rec := f.do(t, http.MethodPost, "/api/auth/password/reset-request", map[string]any{"email": "nobody@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, f.reset.secret)

	rec = f.do(t, http.MethodPost, "/api/auth/password/reset-request", map[string]any{"email": "ana@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, f.reset.secret)

	// A reset token is not a bearer token.
	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, map[string]string{"Authorization": "Bearer " + f.reset.secret})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/password/reset", map[string]any{"token": f.reset.secret, "password": "battery-staple"}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/auth/password/reset", map[string]any{"token": f.reset.secret, "password": "battery-staple"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "reset tokens are single use")

	rec = f.do(t, http.MethodPost, "/api/auth/validate", nil, map[string]string{"Authorization": "Bearer " + login.Token.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	f.passwordLogin(t, "ana@example.com", "battery-staple")
}

func TestLogin_RequestShape(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig())

	rec := f.do(t, http.MethodGet, "/api/auth/login", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"user_id": 1, "email": "a@b.c", "password": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{"user_id": 0}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errBody errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	require.Equal(t, "invalid_json", errBody.Error.Code)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.2")

	if got := clientIP(r, true).String(); got != "198.51.100.7" {
		t.Fatalf("trusted clientIP=%s want first forwarded entry", got)
	}
	if got := clientIP(r, false).String(); got != "192.0.2.1" {
		t.Fatalf("untrusted clientIP=%s want remote addr", got)
	}

	r.Header.Set("X-Forwarded-For", "garbage, 198.51.100.7")
	if got := clientIP(r, true).String(); got != "192.0.2.1" {
		t.Fatalf("clientIP with bad first entry=%s want remote addr", got)
	}
}

func TestDecodeJSON_Limits(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 32
	f := newAPIFixture(t, cfg)

	rec := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "someone-with-a-long-address@example.com",
		"password": "correct-horse-battery",
		"user_id":  7,
	}, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, codePayloadTooLarge, decodeBody[errorResponse](t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"user_id":1}{"user_id":2}`))
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, codeInvalidJSON, decodeBody[errorResponse](t, rr).Error.Code)
}

func TestWriteServiceError_StoreValidation(t *testing.T) {
	t.Parallel()

	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, DefaultConfig())

	rec := httptest.NewRecorder()
	h.writeServiceError(rec, "auth.register", identity.OpError{Op: "identity.Create", Kind: identity.ErrInvalidInput, Msg: "email is required"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codeInvalidRequest, decodeBody[errorResponse](t, rec).Error.Code)

	rec = httptest.NewRecorder()
	h.writeServiceError(rec, "auth.register", facade.ErrInvalidInput)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
