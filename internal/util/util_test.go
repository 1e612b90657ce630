package util

import (
	"net/http/httptest"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"abcdef", 4, "abcd"},
		{"abc", 10, "abc"},
		{"abc", 3, "abc"},
		{"abc", 0, ""},
		{"abc", -1, ""},
		{"", 5, ""},
	}

	for _, tt := range tests {
		if got := SafeTruncate(tt.s, tt.maxLen); got != tt.want {
			t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://tool.example.com/", "https://tool.example.com"},
		{"https://tool.example.com///", "https://tool.example.com"},
		{"https://tool.example.com", "https://tool.example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		trustProxy bool
		want       string
	}{
		{"direct connection", "203.0.113.5:4321", "", "", false, "203.0.113.5"},
		{"headers ignored without trust", "203.0.113.5:4321", "198.51.100.1", "198.51.100.2", false, "203.0.113.5"},
		{"forwarded first hop", "10.0.0.1:80", "198.51.100.1, 10.0.0.1", "", true, "198.51.100.1"},
		{"real ip fallback", "10.0.0.1:80", "", "198.51.100.2", true, "198.51.100.2"},
		{"no port in remote addr", "203.0.113.5", "", "", false, "203.0.113.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/launch", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
