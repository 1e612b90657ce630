package lti

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/trace"

	"github.com/JesGor/lti2-reference-tool-provider/instrumentation"
	"github.com/JesGor/lti2-reference-tool-provider/security"
	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

// Server implements the tool provider's trust logic: the registration
// handshake against a tool consumer, and per-request launch authentication
// against the persisted tool proxy records.
type Server struct {
	config        *Config
	proxyStore    storage.ProxyStore
	replayGuard   *security.ReplayGuard
	tokenExchange *TokenExchange
	auditor       *security.Auditor
	httpClient    *http.Client
	logger        *slog.Logger

	inst    *instrumentation.Instrumentation
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// New creates a tool provider server. proxyStore persists trust records;
// nonceStore backs launch replay protection. The config's BaseURL is
// required.
func New(proxyStore storage.ProxyStore, nonceStore storage.NonceStore, config *Config) (*Server, error) {
	if proxyStore == nil {
		return nil, fmt.Errorf("proxy store is required")
	}
	if nonceStore == nil {
		return nil, fmt.Errorf("nonce store is required")
	}
	if config == nil {
		config = &Config{}
	}

	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	inst, err := instrumentation.New(config.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("create instrumentation: %w", err)
	}

	baseURL, _ := url.Parse(config.BaseURL) // validated above

	s := &Server{
		config:        config,
		proxyStore:    proxyStore,
		replayGuard:   security.NewReplayGuard(nonceStore, config.NonceMaxAge, config.Logger),
		tokenExchange: NewTokenExchange(baseURL.Host, config.HTTPClient, config.Logger),
		auditor:       security.NewAuditor(config.Logger, config.Security.EnableAuditLogging),
		httpClient:    config.HTTPClient,
		logger:        config.Logger,
		inst:          inst,
		metrics:       inst.Metrics(),
		tracer:        inst.Tracer("server"),
	}

	return s, nil
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// generateSecretHalf generates the tool's half of a shared secret: 256 bits
// of entropy as unpadded base64url. It is created at proxy construction and
// only ever transmitted once, inside the proxy creation request.
func generateSecretHalf() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generate secret half: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeriveSharedSecret derives the final shared secret from the two halves.
// Concatenation order is fixed — consumer half first, tool half second — and
// must match what the consumer derives on its side, or every launch
// signature will fail.
func DeriveSharedSecret(tcHalf, tpHalf string) string {
	return tcHalf + tpHalf
}
