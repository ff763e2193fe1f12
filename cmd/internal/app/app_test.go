package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hfauth/cmd/internal/events"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()

	t.Setenv("HF_TOKEN_HMAC_KEY", "")
	t.Setenv("HF_PASSWORD_HASHER", "")
	t.Setenv("HF_AUTH_ADMIN_KEY", "")
	t.Setenv("HF_WS_ORIGIN_REQUIRED", "false")

	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func postJSON(t *testing.T, url string, body any, header http.Header) *http.Response {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApp_InfraRoutes(t *testing.T) {
	a := newTestApp(t, Config{})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, want, resp.StatusCode, path)
		require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"), path)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a := newTestApp(t, Config{ReadinessRequireDB: true})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestApp_LoginFeedsMetricsAndEvents(t *testing.T) {
	a := newTestApp(t, Config{})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/auth/register", map[string]any{
		"email": "ana@example.com", "password": "correct-horse", "user_id": 42,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/auth/login", map[string]any{"email": "ana@example.com", "password": "correct-horse"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		Token struct {
			Token string `json:"token"`
		} `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions", &websocket.DialOptions{
		Subprotocols: []string{events.Subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + login.Token.Token}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ack events.Envelope
	require.NoError(t, json.Unmarshal(data, &ack))
	require.Equal(t, events.TypeHelloAck, ack.Type)
	require.Eventually(t, func() bool { return a.hub.Subscribers(42) == 1 }, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/auth/sessions/42", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	require.Equal(t, http.StatusOK, del.StatusCode)

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, events.TypeSessionsRevoked, env.Type)

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return a.hub.Subscribers(42) == 0 }, 2*time.Second, 10*time.Millisecond)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(mresp.Body)
	_ = mresp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), `hfauth_logins_total{method="password",result="ok"} 1`)
	require.Contains(t, string(body), "hfauth_ws_clients 0")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, Config{HTTPAddr: "127.0.0.1:0", SweepInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
