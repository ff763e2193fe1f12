package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const (
	headerAuthorization = "Authorization"
	headerSessionToken  = "Session-Token"
	headerAdminKey      = "X-Admin-Key"
)

// clientIP prefers the first X-Forwarded-For entry when the proxy is trusted.
func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	first, _, _ := strings.Cut(raw, ",")
	return net.ParseIP(strings.TrimSpace(first))
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func pathUserID(r *http.Request) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("userID")), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
