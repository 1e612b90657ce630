package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JesGor/lti2-reference-tool-provider/internal/util"
	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

const (
	// DefaultNonceMaxAge is the default replay window for launch nonces.
	// A launch timestamp older than this is rejected outright.
	DefaultNonceMaxAge = 5 * time.Minute

	// nonceLogLength is the number of characters of a nonce included in
	// log output. Enough for correlation, not enough to replay.
	nonceLogLength = 8

	// AllowedFutureSkew is how far into the future a launch timestamp may
	// lie and still be accepted. Consumers with drifting clocks routinely
	// produce timestamps a few seconds ahead of ours; 60 seconds covers
	// typical NTP drift without meaningfully widening the replay window.
	AllowedFutureSkew = 60 * time.Second
)

// ErrReplay indicates a nonce was rejected, either because its timestamp
// falls outside the accepted window or because the nonce value was already
// used. Callers must not distinguish the two cases to clients.
var ErrReplay = errors.New("nonce rejected")

// ReplayGuard enforces the launch replay window. It validates the request
// timestamp against [now - maxAge, now + AllowedFutureSkew] and records the
// nonce in the backing store with a TTL of maxAge + AllowedFutureSkew, so a
// replayed nonce is rejected even while its timestamp is still valid.
type ReplayGuard struct {
	store  storage.NonceStore
	maxAge time.Duration
	logger *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// NewReplayGuard creates a replay guard over the given nonce store.
// maxAge <= 0 falls back to DefaultNonceMaxAge.
func NewReplayGuard(store storage.NonceStore, maxAge time.Duration, logger *slog.Logger) *ReplayGuard {
	if maxAge <= 0 {
		maxAge = DefaultNonceMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayGuard{
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Check validates the nonce timestamp window and atomically records the
// nonce. Returns nil if the launch may proceed, ErrReplay otherwise.
//
// The timestamp is interpreted as integer seconds since epoch and the window
// bounds are inclusive: with maxAge of 300s, a timestamp of now-300 or
// now+60 is accepted, now-301 or now+61 is not.
func (g *ReplayGuard) Check(ctx context.Context, nonce string, timestamp int64) error {
	if nonce == "" {
		return ErrReplay
	}

	now := g.now().Unix()
	oldest := now - int64(g.maxAge/time.Second)
	newest := now + int64(AllowedFutureSkew/time.Second)

	if timestamp < oldest || timestamp > newest {
		g.logger.Debug("launch timestamp outside replay window",
			"timestamp", timestamp, "oldest", oldest, "newest", newest)
		return ErrReplay
	}

	// TTL covers the full window plus skew so a replay with a still-valid
	// timestamp keeps hitting the stored record until it cannot pass the
	// window check anymore.
	ttl := g.maxAge + AllowedFutureSkew
	if err := g.store.CheckAndStore(ctx, nonce, ttl); err != nil {
		if errors.Is(err, storage.ErrNonceSeen) {
			g.logger.Warn("launch nonce replay detected", "nonce", util.SafeTruncate(nonce, nonceLogLength))
			return ErrReplay
		}
		return fmt.Errorf("nonce store: %w", err)
	}

	return nil
}

// MaxAge returns the configured replay window.
func (g *ReplayGuard) MaxAge() time.Duration {
	return g.maxAge
}
