package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPFunc extracts the caller address used for hashing and IP quotas.
type ClientIPFunc func(r *http.Request) string

// ClientIP returns the peer host of r. When trustProxy is set, the first
// X-Forwarded-For entry wins, then X-Real-IP.
func ClientIP(trustProxy bool) ClientIPFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		host := r.RemoteAddr
		if parsedHost, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			host = parsedHost
		}
		if host == "" {
			host = "unknown"
		}
		return host
	}
}
