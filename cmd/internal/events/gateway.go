package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"hfauth/cmd/identity/ids"

	"github.com/coder/websocket"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "hfauth.sessions.v1"

const (
	maxPingFailures = 3
	closeGrace      = time.Second
)

// Authenticator resolves a bearer token to its user and token id.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (p Principal, ok bool, err error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, bearer string) (Principal, bool, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, bearer string) (Principal, bool, error) {
	return f(ctx, bearer)
}

// Gateway is the /ws/sessions endpoint.
//
// A client authenticates either with an Authorization header on the upgrade
// request or with a hello frame carrying the token, then receives its user's
// events until it disconnects or its token is revoked.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator
	cfg  GatewayConfig

	originPatterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	return &Gateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Header auth is checked before the upgrade so a bad token gets a plain 401.
	var (
		principal Principal
		authed    bool
	)
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		p, ok, err := g.authenticate(r.Context(), h)
		if err != nil {
			g.log.Error("ws.auth.fail", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal, authed = p, true
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !authed {
		p, ok := g.awaitHello(ctx, conn)
		if !ok {
			return
		}
		principal = p
	}

	connID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, principal, g.cfg.SendQueue)

	ack, _ := json.Marshal(HelloAckPayload{ConnID: connID, UserID: principal.UserID})
	if err := g.write(ctx, conn, mustEnvelope(TypeHelloAck, ack)); err != nil {
		return
	}

	g.hub.Subscribe(client)
	g.run(ctx, cancel, conn, client)
}

// awaitHello reads frames until a valid hello authenticates the connection.
func (g *Gateway) awaitHello(ctx context.Context, conn *websocket.Conn) (Principal, bool) {
	helloCtx, helloCancel := context.WithTimeout(ctx, g.cfg.HelloTimeout)
	defer helloCancel()

	env, err := readEnvelope(helloCtx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return Principal{}, false
	}
	if err := env.Validate(); err != nil || env.Type != TypeHello {
		g.writeError(ctx, conn, "hello_required", "first frame must be hello")
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return Principal{}, false
	}

	var p HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Token) == "" {
		g.writeError(ctx, conn, "bad_hello", "missing token")
		_ = conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return Principal{}, false
	}

	principal, ok, err := g.authenticate(ctx, p.Token)
	if err != nil || !ok {
		g.writeError(ctx, conn, "unauthorized", "invalid token")
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return Principal{}, false
	}
	return principal, true
}

// flush writes every frame already queued for c.
func (g *Gateway) flush(ctx context.Context, conn *websocket.Conn, c *Client) error {
	for {
		select {
		case env := <-c.Send:
			if err := g.write(ctx, conn, env); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (g *Gateway) authenticate(ctx context.Context, bearer string) (Principal, bool, error) {
	if g.auth == nil {
		return Principal{}, false, nil
	}
	return g.auth.Authenticate(ctx, bearer)
}

func (g *Gateway) run(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *Client) {
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unsubscribe(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := g.write(ctx, conn, env); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			case <-client.Revoked():
				if err := g.flush(ctx, conn, client); err != nil {
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				g.log.Info("ws.revoked", "conn_id", client.ConnID, "user_id", client.UserID)
				shutdown(websocket.StatusPolicyViolation, "credentials revoked")
				return
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := newFrameLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			var syntaxErr *json.SyntaxError
			switch {
			case errors.As(err, &syntaxErr):
				g.enqueueError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			case websocket.CloseStatus(err) != -1,
				errors.Is(err, context.Canceled),
				errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusNormalClosure, "closing")
			case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.allow(time.Now().UTC()) {
			g.enqueueError(ctx, client, "rate_limited", "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.enqueueError(ctx, client, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case TypePing:
			g.enqueue(ctx, client, mustEnvelope(TypePong, json.RawMessage(`{}`)))
		case TypeHello:
			g.enqueueError(ctx, client, "already_authenticated", "hello already accepted")
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func (g *Gateway) enqueueError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, mustEnvelope(TypeError, p))
}

func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	_ = g.write(ctx, conn, mustEnvelope(TypeError, p))
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, env Envelope) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// mustEnvelope builds a server envelope; an id failure leaves ID empty.
func mustEnvelope(typ string, payload json.RawMessage) Envelope {
	now := time.Now().UTC()
	env, err := newEnvelope(typ, payload, now)
	if err != nil {
		return Envelope{V: Version, Type: typ, TS: now, Payload: payload}
	}
	return env
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHost(origin)
	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" || a == origin {
			return nil
		}
		if host != "" && host == originHost(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist so
// both origin checks agree.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			seen[h] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
