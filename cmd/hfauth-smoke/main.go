// Command hfauth-smoke is a CI-friendly end-to-end check of a running hfauth
// server.
//
// It validates:
//   - login by user id over HTTP
//   - websocket handshake, subprotocol selection, and hello/ack
//   - ping/pong
//   - session.closed + session.opened + token.revoked when the user logs in
//     again, then the replaced token's connection is closed
//   - session.closed + token.revoked on logout, then the connection is closed
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"hfauth/cmd/internal/events"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn   *websocket.Conn
	connID string

	inbox chan events.Envelope
	errCh chan error
}

type loginResult struct {
	Token struct {
		Token string `json:"token"`
	} `json:"token"`
	Session struct {
		ID           string `json:"id"`
		SessionToken string `json:"session_token"`
	} `json:"session"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "hfauth base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		userID   = flag.Int64("user", 900001, "User id to log in as")
		adminKey = flag.String("admin-key", os.Getenv("HF_AUTH_ADMIN_KEY"), "X-Admin-Key for password-less login")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := websocketURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	first := mustLogin(httpc, *baseURL, *userID, *adminKey)

	c := mustConnect(root, wsURL, *origin, first.Token.Token, *timeout)
	if *verbose {
		fmt.Printf("connected: conn=%s session=%s\n", c.connID, first.Session.ID)
	}

	mustWriteWithTimeout(root, c.conn, envelope(events.TypePing, "smoke-ping", nil), *timeout)
	c.mustReadUntilType(root, events.TypePong, *timeout, nil)

	second := mustLogin(httpc, *baseURL, *userID, *adminKey)
	closed := c.mustReadEvent(root, events.TypeSessionClosed, *timeout)
	if closed.SessionID != first.Session.ID || closed.Reason != "replaced" {
		fatalf("session.closed mismatch: got session=%q reason=%q want session=%q reason=replaced", closed.SessionID, closed.Reason, first.Session.ID)
	}
	opened := c.mustReadEvent(root, events.TypeSessionOpened, *timeout)
	if opened.SessionID != second.Session.ID {
		fatalf("session.opened mismatch: got=%q want=%q", opened.SessionID, second.Session.ID)
	}
	revoked := c.mustReadEvent(root, events.TypeTokenRevoked, *timeout)
	if revoked.Reason != "replaced" {
		fatalf("token.revoked mismatch: got reason=%q want replaced", revoked.Reason)
	}
	c.mustReadRevokedClose(root, *timeout)

	c = mustConnect(root, wsURL, *origin, second.Token.Token, *timeout)
	if *verbose {
		fmt.Printf("reconnected: conn=%s session=%s\n", c.connID, second.Session.ID)
	}

	mustLogout(httpc, *baseURL, second)
	closed = c.mustReadEvent(root, events.TypeSessionClosed, *timeout)
	if closed.SessionID != second.Session.ID || closed.Reason != "logout" {
		fatalf("logout session.closed mismatch: got session=%q reason=%q", closed.SessionID, closed.Reason)
	}
	revoked = c.mustReadEvent(root, events.TypeTokenRevoked, *timeout)
	if revoked.Reason != "logout" {
		fatalf("logout token.revoked mismatch: got reason=%q", revoked.Reason)
	}
	c.mustReadRevokedClose(root, *timeout)

	fmt.Println("OK: ws smoke passed")
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/sessions"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(httpc *http.Client, base string, userID int64, adminKey string) loginResult {
	body, _ := json.Marshal(map[string]int64{"user_id": userID})
	req, err := http.NewRequest(http.MethodPost, strings.TrimSuffix(base, "/")+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("build login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hfauth-smoke Chrome")
	if adminKey != "" {
		req.Header.Set("X-Admin-Key", adminKey)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("login: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out loginResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode login response: %v", err)
	}
	if out.Token.Token == "" || out.Session.SessionToken == "" {
		fatalf("login response missing token or session token")
	}
	return out
}

func mustLogout(httpc *http.Client, base string, login loginResult) {
	req, err := http.NewRequest(http.MethodPost, strings.TrimSuffix(base, "/")+"/api/auth/logout", nil)
	if err != nil {
		fatalf("build logout request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+login.Token.Token)
	req.Header.Set("Session-Token", login.Session.SessionToken)

	resp, err := httpc.Do(req)
	if err != nil {
		fatalf("logout: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		fatalf("logout: status=%d want=%d", resp.StatusCode, http.StatusNoContent)
	}
}

func mustConnect(parent context.Context, wsURL, origin, bearer string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{events.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	assertSubprotocol(resp, events.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan events.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	// Authenticate in-band so the token stays out of proxy access logs.
	mustWriteWithTimeout(parent, conn, envelope(events.TypeHello, "smoke-hello", events.HelloPayload{Token: bearer}), stepTimeout)
	ack := c.mustReadUntilType(parent, events.TypeHelloAck, stepTimeout, nil)

	var p events.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload: %v", err)
	}
	if strings.TrimSpace(p.ConnID) == "" {
		fatalf("hello.ack missing conn_id")
	}
	c.connID = p.ConnID
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != "" && got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env events.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != events.Version || env.Type == "" {
				c.fail(fmt.Errorf("bad envelope: v=%d type=%q", env.V, env.Type))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustReadEvent waits for a lifecycle event of wantType, skipping heartbeats.
func (c *smokeClient) mustReadEvent(parent context.Context, wantType string, stepTimeout time.Duration) events.Event {
	env := c.mustReadUntilType(parent, wantType, stepTimeout, map[string]struct{}{events.TypePong: {}})
	var e events.Event
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		fatalf("unmarshal %s payload: %v", wantType, err)
	}
	return e
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) events.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == events.TypeError {
				var ep events.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

// mustReadRevokedClose waits for the server to close the connection because
// its token was revoked.
func (c *smokeClient) mustReadRevokedClose(parent context.Context, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for revocation close: %v", ctx.Err())
		case err := <-c.errCh:
			if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
				fatalf("close status mismatch: got=%v want=%v err=%v", got, websocket.StatusPolicyViolation, err)
			}
			return
		case env, ok := <-c.inbox:
			if !ok {
				// The read loop reports its error before closing the inbox.
				c.inbox = nil
				continue
			}
			if env.Type != events.TypePong {
				fatalf("unexpected envelope before close: %q", env.Type)
			}
		}
	}
}

func envelope(typ, id string, payload any) events.Envelope {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	return events.Envelope{V: events.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: raw}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env events.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
