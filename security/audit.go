// Package security provides the security toolkit for the tool provider:
// replay protection, secret encryption at rest, rate limiting, audit
// logging, request IDs, and response header hardening.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging. Values that could identify a
// person or replay a request (registration keys, nonces) are hashed before
// they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event represents a security audit event.
type Event struct {
	Type        string
	ConsumerKey string
	IPAddress   string
	Details     map[string]any
	Timestamp   time.Time
}

// LogEvent logs a security event.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"consumer_key", event.ConsumerKey,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogRegistrationSucceeded logs a completed registration handshake.
func (a *Auditor) LogRegistrationSucceeded(guid, tcProfileURL, ipAddress string) {
	a.LogEvent(Event{
		Type:        "registration_succeeded",
		ConsumerKey: guid,
		IPAddress:   ipAddress,
		Details: map[string]any{
			"tc_profile_url": tcProfileURL,
		},
	})
}

// LogRegistrationFailed logs a failed registration handshake. The reason is
// for the operator; the consumer only ever sees status=failure.
func (a *Auditor) LogRegistrationFailed(tcProfileURL, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "registration_failed",
		IPAddress: ipAddress,
		Details: map[string]any{
			"tc_profile_url": tcProfileURL,
			"reason":         reason,
		},
	})
}

// LogLaunchAuthorized logs a successfully authenticated launch.
func (a *Auditor) LogLaunchAuthorized(consumerKey, ipAddress string) {
	a.LogEvent(Event{
		Type:        "launch_authorized",
		ConsumerKey: consumerKey,
		IPAddress:   ipAddress,
	})
}

// LogLaunchRejected logs a launch that failed signature or nonce checks.
func (a *Auditor) LogLaunchRejected(consumerKey, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:        "launch_rejected",
		ConsumerKey: consumerKey,
		IPAddress:   ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogNonceReplay logs a detected nonce replay. The nonce itself is hashed.
func (a *Auditor) LogNonceReplay(consumerKey, ipAddress, nonce string) {
	a.LogEvent(Event{
		Type:        "nonce_replay_detected",
		ConsumerKey: consumerKey,
		IPAddress:   ipAddress,
		Details: map[string]any{
			"nonce_hash": hashForLogging(nonce),
		},
	})
}

// LogRateLimitExceeded logs a rate limited registration attempt.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
	})
}

// hashForLogging produces a short SHA-256 prefix for correlating sensitive
// values in logs without disclosing them.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
