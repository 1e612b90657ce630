package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no tool proxy exists for the given GUID.
	ErrNotFound = errors.New("tool proxy not found")

	// ErrNonceSeen indicates the nonce value has already been recorded
	// within its replay window.
	ErrNonceSeen = errors.New("nonce already seen")
)

// ProxyStore defines the interface for persisting tool proxy records.
// All methods accept context.Context for tracing and cancellation.
type ProxyStore interface {
	// SaveProxy persists a completed tool proxy record. The record must be
	// written in a single operation: a concurrent GetProxy must never
	// observe a proxy with a GUID but no shared secret.
	SaveProxy(ctx context.Context, proxy *ToolProxy) error

	// GetProxy retrieves a tool proxy by its consumer-issued GUID.
	// Returns ErrNotFound if no record exists.
	GetProxy(ctx context.Context, guid string) (*ToolProxy, error)

	// DeleteProxy removes a tool proxy record.
	DeleteProxy(ctx context.Context, guid string) error

	// ListProxies lists all registered tool proxies (for admin purposes).
	ListProxies(ctx context.Context) ([]*ToolProxy, error)
}

// NonceStore defines the interface for replay-protection nonce tracking.
//
// CheckAndStore MUST be atomic with respect to concurrent callers using the
// same nonce value: of two concurrent calls with the same nonce, exactly one
// may succeed. Without this guarantee two launches replaying the same nonce
// could both pass a separate check-then-store sequence.
//
// Nonce records may live in an ephemeral store. Losing them only weakens
// replay protection for the affected window; it does not corrupt any
// persisted trust record.
type NonceStore interface {
	// CheckAndStore records the nonce if it has not been seen, with the
	// given time-to-live. Returns ErrNonceSeen if the nonce is already
	// recorded and not yet expired.
	CheckAndStore(ctx context.Context, nonce string, ttl time.Duration) error
}

// ToolProxy is the persisted trust record for one tool consumer.
//
// A ToolProxy is incomplete until the registration handshake finishes:
// it has no GUID and no shared secret, and launches must never be
// authenticated against it. Once persisted, GUID and SharedSecret are
// immutable; a proxy is never re-keyed.
type ToolProxy struct {
	// GUID is the consumer-issued identifier, assigned by the consumer's
	// create response. It doubles as the OAuth1 consumer key on launches.
	GUID string `json:"guid"`

	// TCProfileURL is the URL of the consumer's profile document,
	// recorded at registration time.
	TCProfileURL string `json:"tcp_url"`

	// BaseURL is this tool's own base URL, used to build launch URLs.
	BaseURL string `json:"base_url"`

	// HalfSharedSecret is the locally generated secret half. It is sent
	// to the consumer exactly once, inside the proxy creation request.
	HalfSharedSecret string `json:"tp_half_shared_secret"`

	// SharedSecret is the consumer's half concatenated with ours, in that
	// fixed order. It is the HMAC key for all launch signature checks.
	SharedSecret string `json:"shared_secret"`

	// RegisteredAt is when the handshake completed.
	RegisteredAt time.Time `json:"registered_at"`
}

// Complete reports whether the handshake finished for this record.
// Incomplete records must never be persisted or used for launch auth.
func (p *ToolProxy) Complete() bool {
	return p != nil && p.GUID != "" && p.SharedSecret != ""
}
