package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxLimiterEntries caps how many distinct identifiers are
	// tracked simultaneously, bounding memory under address-spoofing
	// floods.
	defaultMaxLimiterEntries = 10000

	// limiterIdleTimeout is how long an identifier may go unused before
	// its limiter is swept.
	limiterIdleTimeout = 10 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier request rate limiting using a token
// bucket per identifier. Identifiers are typically client IPs. A background
// sweep evicts idle entries; when the entry cap is reached new identifiers
// are rejected rather than evicting active ones.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// and burst peak requests per identifier, and starts its sweep loop.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       requestsPerSecond,
		burst:      burst,
		maxEntries: defaultMaxLimiterEntries,
		logger:     logger,
		stop:       make(chan struct{}),
	}

	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request from the given identifier is within its
// rate budget.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			// Refusing new identifiers at the cap is the safe
			// failure mode: an attacker rotating identifiers cannot
			// push established clients out of the table.
			rl.logger.Warn("rate limiter entry cap reached, rejecting new identifier")
			return false
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		}
		rl.limiters[identifier] = entry
	}

	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

// Stop terminates the background sweep loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterIdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := time.Now().Add(-limiterIdleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("swept idle rate limiters", "removed", removed, "remaining", len(rl.limiters))
	}
}
