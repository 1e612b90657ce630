package lti

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/JesGor/lti2-reference-tool-provider/instrumentation"
)

const (
	// DefaultHTTPTimeout bounds each outbound call of the registration
	// handshake (profile fetch, token exchange, proxy creation). A hung
	// consumer must not occupy a worker indefinitely.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultNonceMaxAge is the launch replay window.
	DefaultNonceMaxAge = 5 * time.Minute
)

// Config holds the tool provider configuration.
type Config struct {
	// BaseURL is this tool's own base URL (required). Its host becomes
	// the iss claim of bearer assertions, and the URL is recorded in
	// every tool proxy.
	BaseURL string

	// RequiredCapabilities are the capabilities a consumer profile must
	// offer for negotiation to succeed.
	// Default: [basic-lti-launch-request].
	RequiredCapabilities []string

	// HTTPTimeout bounds each outbound handshake call.
	// Default: 10 seconds.
	HTTPTimeout time.Duration

	// NonceMaxAge is the launch replay window.
	// Default: 5 minutes.
	NonceMaxAge time.Duration

	// RateLimit configures per-IP rate limiting of the registration
	// endpoint.
	RateLimit RateLimitConfig

	// Security holds security settings.
	Security SecurityConfig

	// Instrumentation configures OpenTelemetry metrics and tracing.
	Instrumentation instrumentation.Config

	// Logger for structured logging (optional, uses slog.Default if not
	// provided).
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for outbound handshake calls.
	// If not provided, a client with HTTPTimeout is used.
	HTTPClient *http.Client
}

// RateLimitConfig holds rate limiting configuration for the registration
// endpoint. Each registration triggers three outbound HTTP calls, which
// makes an unthrottled endpoint a cheap amplification target.
type RateLimitConfig struct {
	// Rate is registration requests per second allowed per IP.
	// Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) for shared secret
	// encryption at rest. Nil disables encryption. Generate with
	// security.GenerateEncryptionKey.
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging of registration
	// and launch outcomes (sensitive values hashed).
	EnableAuditLogging bool

	// StrippedParameters lists request parameters injected by the serving
	// framework's routing layer. They were not part of the request as the
	// consumer signed it and must be removed before recomputing the
	// OAuth1 base string, or every signature check will fail. Go's
	// net/http injects none, so the default is empty; deployments behind
	// parameter-rewriting proxies or alternative routers must enumerate
	// their artifacts here.
	StrippedParameters []string
}

// setDefaults fills unset optional fields.
func (c *Config) setDefaults() {
	if len(c.RequiredCapabilities) == 0 {
		c.RequiredCapabilities = []string{CapabilityBasicLaunch}
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.NonceMaxAge <= 0 {
		c.NonceMaxAge = DefaultNonceMaxAge
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.HTTPTimeout}
	}
}

// validate checks required fields.
func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("BaseURL is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("BaseURL must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("BaseURL must include a host")
	}
	return nil
}
