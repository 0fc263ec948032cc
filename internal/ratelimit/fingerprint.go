package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// uaMaxLen caps the User-Agent portion of a fingerprint so hostile clients
// cannot inflate the entry table with long headers.
const uaMaxLen = 32

// Fingerprint derives the limiter key for a request: client IP plus a
// truncated User-Agent. A throttling heuristic, not an identity guarantee.
func Fingerprint(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > uaMaxLen {
		ua = ua[:uaMaxLen]
	}
	return clientIP(r) + "|" + ua
}

func clientIP(r *http.Request) string {
	// First hop of X-Forwarded-For when present, set by the edge proxy.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
