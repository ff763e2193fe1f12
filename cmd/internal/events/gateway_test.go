package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func testAuthenticator() Authenticator {
	return AuthenticatorFunc(func(_ context.Context, bearer string) (Principal, bool, error) {
		if strings.TrimPrefix(bearer, "Bearer ") == "good" {
			return Principal{UserID: 42, TokenID: "tok-good"}, true, nil
		}
		return Principal{}, false, nil
	})
}

func newTestGateway(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	cfg.HelloTimeout = 2 * time.Second

	hub := NewHub(nil, nil)
	srv := httptest.NewServer(NewGateway(nil, hub, testAuthenticator(), cfg))
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readType(t *testing.T, ctx context.Context, conn *websocket.Conn) Envelope {
	t.Helper()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitSubscribed(t *testing.T, hub *Hub, userID int64) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(userID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_HeaderAuthReceivesOwnEvents(t *testing.T) {
	t.Parallel()

	hub, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer good"}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ack := readType(t, ctx, conn)
	require.Equal(t, TypeHelloAck, ack.Type)

	waitSubscribed(t, hub, 42)
	hub.Publish(Event{Type: TypeSessionsRevoked, UserID: 7, Count: 1})
	hub.Publish(Event{Type: TypeSessionsRevoked, UserID: 42, Count: 3})

	env := readType(t, ctx, conn)
	require.Equal(t, TypeSessionsRevoked, env.Type)
	var e Event
	require.NoError(t, json.Unmarshal(env.Payload, &e))
	require.Equal(t, int64(42), e.UserID)
	require.Equal(t, 3, e.Count)

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return hub.Subscribers(42) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_TokenRevocationClosesOnlyMatchingConnection(t *testing.T) {
	t.Parallel()

	hub, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer good"}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Equal(t, TypeHelloAck, readType(t, ctx, conn).Type)
	waitSubscribed(t, hub, 42)

	hub.Publish(Event{Type: TypeTokenRevoked, UserID: 42, TokenID: "tok-elsewhere", Reason: "logout"})
	require.Equal(t, TypeTokenRevoked, readType(t, ctx, conn).Type)

	ping, _ := json.Marshal(Envelope{V: Version, Type: TypePing, ID: "p1", TS: time.Now().UTC(), Payload: json.RawMessage(`{}`)})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, ping))
	require.Equal(t, TypePong, readType(t, ctx, conn).Type)

	hub.Publish(Event{Type: TypeTokenRevoked, UserID: 42, TokenID: "tok-good", Reason: "logout"})
	env := readType(t, ctx, conn)
	require.Equal(t, TypeTokenRevoked, env.Type)

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestGateway_HelloAuth(t *testing.T) {
	t.Parallel()

	hub, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello, _ := json.Marshal(Envelope{V: Version, Type: TypeHello, ID: "h1", TS: time.Now().UTC(), Payload: json.RawMessage(`{"token":"good"}`)})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, hello))

	ack := readType(t, ctx, conn)
	require.Equal(t, TypeHelloAck, ack.Type)
	var p HelloAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &p))
	require.Equal(t, int64(42), p.UserID)
	require.NotEmpty(t, p.ConnID)

	ping, _ := json.Marshal(Envelope{V: Version, Type: TypePing, ID: "p1", TS: time.Now().UTC(), Payload: json.RawMessage(`{}`)})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, ping))
	require.Equal(t, TypePong, readType(t, ctx, conn).Type)

	waitSubscribed(t, hub, 42)
	_ = conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return hub.Subscribers(42) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RejectsBadHeaderToken(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer nope"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_RejectsBadHello(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello, _ := json.Marshal(Envelope{V: Version, Type: TypeHello, ID: "h1", TS: time.Now().UTC(), Payload: json.RawMessage(`{"token":"bad"}`)})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, hello))

	env := readType(t, ctx, conn)
	require.Equal(t, TypeError, env.Type)

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	g := NewGateway(nil, nil, testAuthenticator(), DefaultGatewayConfig())

	req := httptest.NewRequest(http.MethodGet, "/ws/sessions", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code, "origin is required by default")

	req = httptest.NewRequest(http.MethodGet, "/ws/sessions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
