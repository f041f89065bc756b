package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address used for per-client rate limiting. chi's
// RealIP middleware has already folded X-Forwarded-For / X-Real-IP into
// RemoteAddr when it runs first.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
