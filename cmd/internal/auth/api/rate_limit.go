package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (h *Handler) checkLoginIPThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if h.pool == nil || ip == nil || h.cfg.LoginIPMax <= 0 {
		return false, 0, nil
	}
	count, err := h.countLoginFailures(ctx, `ip = $1`, ip.String(), now.Add(-h.cfg.LoginIPWindow))
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.LoginIPMax {
		return true, h.cfg.LoginIPWindow, nil
	}
	return false, 0, nil
}

func (h *Handler) checkLoginIdentifierThrottle(ctx context.Context, identifier string, now time.Time) (bool, time.Duration, error) {
	identifier = strings.TrimSpace(identifier)
	if h.pool == nil || identifier == "" || h.cfg.LoginIdentifierMax <= 0 {
		return false, 0, nil
	}
	count, err := h.countLoginFailures(ctx, `meta->>'identifier' = $1`, identifier, now.Add(-h.cfg.LoginIdentifierWait))
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.LoginIdentifierMax {
		return true, h.cfg.LoginIdentifierWait, nil
	}
	return false, 0, nil
}

func (h *Handler) countLoginFailures(ctx context.Context, where string, arg any, since time.Time) (int, error) {
	var n int
	err := h.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM auth.audit_log
		WHERE action = 'auth.login.failed'
		  AND `+where+`
		  AND created_at >= $2
	`, arg, since).Scan(&n)
	return n, err
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
