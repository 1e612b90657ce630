package lti

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/JesGor/lti2-reference-tool-provider/instrumentation"
	"github.com/JesGor/lti2-reference-tool-provider/internal/util"
	"github.com/JesGor/lti2-reference-tool-provider/security"
)

// Inbound form parameter names of the registration request.
const (
	paramTCProfileURL = "tc_profile_url"
	paramTokenURL     = "oauth2_access_token_url"
	paramRegKey       = "reg_key"
	paramRegPassword  = "reg_password"
	paramReturnURL    = "launch_presentation_return_url"
)

// Handler exposes the tool provider over HTTP:
//
//	POST /register — registration handshake, responds with a redirect to
//	                 the consumer's return URL
//	POST /launch   — launch authentication
type Handler struct {
	server      *Server
	rateLimiter *security.RateLimiter
	logger      *slog.Logger

	// LaunchSuccess is invoked after a launch authenticates. If nil, a
	// minimal confirmation page is rendered. Rendering the real launch
	// view is the embedding application's business.
	LaunchSuccess http.Handler
}

// NewHandler creates an HTTP handler around a server.
func NewHandler(server *Server) *Handler {
	h := &Handler{
		server: server,
		logger: server.logger,
	}
	if rl := server.config.RateLimit; rl.Rate > 0 {
		h.rateLimiter = security.NewRateLimiter(rl.Rate, rl.Burst, server.logger)
	}
	return h
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Routes returns the handler's routing table wrapped in the middleware
// stack (request IDs, security headers).
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.HandleRegister)
	mux.HandleFunc("POST /launch", h.HandleLaunch)

	var handler http.Handler = mux
	handler = h.securityHeadersMiddleware(handler)
	handler = security.RequestIDMiddleware(handler)
	return handler
}

func (h *Handler) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, h.server.config.BaseURL)
		next.ServeHTTP(w, r)
	})
}

// HandleRegister serves the consumer-initiated registration request.
//
// Whatever happens inside the handshake, the consumer's return URL learns
// exactly one of two things: status=success with the tool proxy GUID, or
// status=failure. No diagnostic detail leaks to a potentially spoofed
// return endpoint.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := util.ClientIP(r, h.server.config.RateLimit.TrustProxy)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, "invalid_request", http.StatusBadRequest)
		return
	}

	returnURL := r.Form.Get(paramReturnURL)
	parsedReturn, err := url.Parse(returnURL)
	if err != nil || returnURL == "" {
		// Without a usable return URL there is nowhere to redirect; this
		// is the one registration failure answered directly.
		h.writeError(w, "invalid_request", http.StatusBadRequest)
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(clientIP) {
		h.server.metrics.RateLimitExceeded.Add(r.Context(), 1)
		h.server.auditor.LogRateLimitExceeded(clientIP)
		h.logger.Warn("registration rate limit exceeded", "ip", clientIP)
		h.writeError(w, "rate_limit_exceeded", http.StatusTooManyRequests)
		return
	}

	guid, regErr := h.server.Register(r.Context(), RegistrationRequest{
		TCProfileURL:         r.Form.Get(paramTCProfileURL),
		TokenEndpointURL:     r.Form.Get(paramTokenURL),
		RegistrationKey:      r.Form.Get(paramRegKey),
		RegistrationPassword: r.Form.Get(paramRegPassword),
		ClientIP:             clientIP,
	})

	query := parsedReturn.Query()
	if regErr != nil {
		query.Set("status", "failure")
	} else {
		query.Set("status", "success")
		query.Set("tool_proxy_guid", guid)
	}
	parsedReturn.RawQuery = query.Encode()

	h.observeRequest(r, http.StatusFound, start)
	http.Redirect(w, r, parsedReturn.String(), http.StatusFound)
}

// HandleLaunch serves a launch request. Outcomes map onto status codes
// only: 200 (delegating to LaunchSuccess if set), 404 for an unknown
// consumer key, 401 for any authentication failure.
func (h *Handler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := util.ClientIP(r, h.server.config.RateLimit.TrustProxy)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, "invalid_request", http.StatusBadRequest)
		return
	}

	proxy, err := h.server.AuthenticateLaunch(r.Context(), LaunchRequest{
		Method:   r.Method,
		URL:      h.requestURL(r),
		Params:   r.Form,
		ClientIP: clientIP,
	})
	if err != nil {
		status := http.StatusUnauthorized
		code := ErrorCodeUnauthorized
		if errors.Is(err, ErrProxyNotFound) {
			status = http.StatusNotFound
			code = ErrorCodeProxyNotFound
		}
		h.observeRequest(r, status, start)
		h.writeError(w, code, status)
		return
	}

	h.observeRequest(r, http.StatusOK, start)

	if h.LaunchSuccess != nil {
		h.LaunchSuccess.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("launch authorized for " + proxy.GUID + "\n"))
}

// requestURL reconstructs the absolute URL the consumer signed. The scheme
// comes from the connection, or from X-Forwarded-Proto when proxy headers
// are trusted. The query string is omitted: query parameters already travel
// in r.Form and the OAuth1 base URI never carries a query.
func (h *Handler) requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.server.config.RateLimit.TrustProxy {
		if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
			scheme = forwarded
		}
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func (h *Handler) observeRequest(r *http.Request, status int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrHTTPEndpoint, r.URL.Path),
		attribute.Int(instrumentation.AttrHTTPStatusCode, status),
	)
	h.server.metrics.HTTPRequestsTotal.Add(r.Context(), 1, attrs)
	h.server.metrics.HTTPRequestDuration.Record(r.Context(),
		float64(time.Since(start).Milliseconds()), attrs)
}

// writeError writes a minimal JSON error body. Launch and registration
// failures intentionally carry no detail beyond the status code and code
// string.
func (h *Handler) writeError(w http.ResponseWriter, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
