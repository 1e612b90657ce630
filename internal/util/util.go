// Package util provides small helpers shared across the tool provider
// library: string truncation for safe logging, URL normalization, and
// client IP extraction.
package util

import (
	"net"
	"net/http"
	"strings"
)

// SafeTruncate truncates a string to maxLen characters without panicking.
// Used when logging sensitive values like nonces and secrets, where only a
// prefix should ever appear in logs.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ClientIP extracts the client IP from a request. When trustProxy is set it
// honors X-Forwarded-For (first hop) and X-Real-IP; otherwise it uses the
// direct connection address. Only enable trustProxy behind a reverse proxy
// you control, or clients can spoof their IP for rate limiting and audit.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
