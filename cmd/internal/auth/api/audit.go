package api

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"
)

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua string, identifier string, reason string) {
	h.insertAudit(ctx, "auth.login.failed", nil, nil, ip, ua, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID int64, sessionID string, ip net.IP, ua string, method string) {
	h.insertAudit(ctx, "auth.login.success", &userID, &sessionID, ip, ua, map[string]any{
		"method": method,
	})
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string, identifier string, retryAfter time.Duration) {
	h.insertAudit(ctx, "auth.login.rate_limited", nil, nil, ip, ua, map[string]any{
		"identifier":    identifier,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func (h *Handler) auditRefresh(ctx context.Context, userID int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.success", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", nil, nil, ip, ua, nil)
}

func (h *Handler) auditCloseAll(ctx context.Context, userID int64, res closeAllResponse, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.sessions.close_all", &userID, nil, ip, ua, map[string]any{
		"sessions": res.Sessions,
		"tokens":   res.Tokens,
	})
}

func (h *Handler) auditPasswordReset(ctx context.Context, action string, ip net.IP, ua string) {
	h.insertAudit(ctx, action, nil, nil, ip, ua, nil)
}

// insertAudit writes one auth.audit_log row. Without a database the entry
// goes to the logger instead.
func (h *Handler) insertAudit(ctx context.Context, action string, userID *int64, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	if h.pool == nil {
		attrs := []any{"action", action, "ip", ipString(ip)}
		if userID != nil {
			attrs = append(attrs, "user_id", *userID)
		}
		if sessionID != nil {
			attrs = append(attrs, "session_id", *sessionID)
		}
		for k, v := range meta {
			attrs = append(attrs, k, v)
		}
		h.log.Info("auth.audit", attrs...)
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO auth.audit_log (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
