package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JesGor/lti2-reference-tool-provider/instrumentation"
	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

// maxProfileBytes bounds consumer profile documents. Real profiles are a
// few kilobytes; the limit exists so a hostile consumer cannot stream an
// unbounded body into the handshake.
const maxProfileBytes = 4 << 20

// RegistrationRequest carries the parameters the consumer supplies when it
// initiates registration.
type RegistrationRequest struct {
	// TCProfileURL is where the consumer's profile document is fetched.
	TCProfileURL string

	// TokenEndpointURL is the consumer's OAuth2 token endpoint, used as
	// the audience of the bearer assertion.
	TokenEndpointURL string

	// RegistrationKey is the one-time key the consumer issued for this
	// registration; it becomes the sub claim of the bearer assertion.
	RegistrationKey string

	// RegistrationPassword is the one-time secret that signs the bearer
	// assertion. It is never stored.
	RegistrationPassword string

	// ClientIP is the address the registration request came from, for
	// audit and rate limiting. Optional.
	ClientIP string
}

// Register runs the registration handshake: profile fetch, capability
// negotiation, endpoint discovery, token exchange, proxy creation, split
// secret derivation, and persistence. It returns the consumer-issued tool
// proxy GUID on success.
//
// Every step failure aborts the whole handshake; there are no retries. The
// returned error carries the failing step for logs and audit — callers must
// not forward it to the consumer's return URL, which only ever learns
// status=failure.
func (s *Server) Register(ctx context.Context, req RegistrationRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "lti.register")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrTCProfileURL, req.TCProfileURL))

	s.metrics.RegistrationsStarted.Add(ctx, 1)

	guid, err := s.register(ctx, req)
	if err != nil {
		s.metrics.RegistrationsFailed.Add(ctx, 1)
		s.auditor.LogRegistrationFailed(req.TCProfileURL, req.ClientIP, err.Error())
		s.logger.Warn("registration handshake failed",
			"tc_profile_url", req.TCProfileURL, "error", err)
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			instrumentation.SetSpanAttributes(span,
				attribute.String(instrumentation.AttrHandshakeStep, protoErr.Code))
		}
		instrumentation.RecordError(span, err)
		return "", err
	}

	s.metrics.RegistrationsSucceeded.Add(ctx, 1)
	s.auditor.LogRegistrationSucceeded(guid, req.TCProfileURL, req.ClientIP)
	s.logger.Info("registration handshake completed",
		"guid", guid, "tc_profile_url", req.TCProfileURL)
	instrumentation.SetSpanSuccess(span)
	return guid, nil
}

func (s *Server) register(ctx context.Context, req RegistrationRequest) (string, error) {
	profile, err := s.fetchProfile(ctx, req.TCProfileURL)
	if err != nil {
		return "", err
	}

	if err := Negotiate(profile, s.config.RequiredCapabilities); err != nil {
		return "", err
	}

	endpoint, ok := FindServiceEndpoint(profile, ToolProxyMediaType)
	if !ok {
		return "", ErrDiscoveryFailed("consumer profile offers no tool proxy collection service")
	}

	tpHalf, err := generateSecretHalf()
	if err != nil {
		return "", ErrPersistenceFailure(err.Error())
	}

	token, err := s.tokenExchange.RequestAccessToken(ctx, req.TokenEndpointURL,
		req.RegistrationKey, req.RegistrationPassword)
	if err != nil {
		return "", ErrTransportFailure(fmt.Sprintf("token exchange: %v", err))
	}

	created, err := s.createToolProxy(ctx, endpoint, token.AccessToken, toolProxyCreateRequest{
		LTIVersion:       ltiVersion,
		TCProfileURL:     req.TCProfileURL,
		BaseURL:          s.config.BaseURL,
		HalfSharedSecret: tpHalf,
	})
	if err != nil {
		return "", err
	}

	// GUID and shared secret are set together and persisted in one write:
	// a concurrent launch lookup must never observe a half-written proxy.
	proxy := &storage.ToolProxy{
		GUID:             created.ToolProxyGUID,
		TCProfileURL:     req.TCProfileURL,
		BaseURL:          s.config.BaseURL,
		HalfSharedSecret: tpHalf,
		SharedSecret:     DeriveSharedSecret(created.TCHalfSharedSecret, tpHalf),
		RegisteredAt:     time.Now(),
	}
	if err := s.proxyStore.SaveProxy(ctx, proxy); err != nil {
		return "", ErrPersistenceFailure(err.Error())
	}

	return proxy.GUID, nil
}

// fetchProfile fetches and decodes the consumer's profile document. The
// document is consumer-controlled: it is decoded into the typed profile
// shape before any field is touched, and any transport or shape problem is a
// transport failure.
func (s *Server) fetchProfile(ctx context.Context, profileURL string) (*ToolConsumerProfile, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("build profile request: %v", err))
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("fetch consumer profile: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrTransportFailure(fmt.Sprintf("consumer profile returned status %d", resp.StatusCode))
	}

	var profile ToolConsumerProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&profile); err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("decode consumer profile: %v", err))
	}

	return &profile, nil
}

// createToolProxy POSTs the tool proxy document to the discovered endpoint.
// Only a 201 with both response fields counts as success.
func (s *Server) createToolProxy(ctx context.Context, endpoint, accessToken string, doc toolProxyCreateRequest) (*toolProxyCreateResponse, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("marshal tool proxy: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("build proxy creation request: %v", err))
	}
	httpReq.Header.Set("Content-Type", ToolProxyMediaType)
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("proxy creation request: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, ErrTransportFailure(fmt.Sprintf("proxy creation returned status %d", resp.StatusCode))
	}

	var created toolProxyCreateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&created); err != nil {
		return nil, ErrTransportFailure(fmt.Sprintf("decode proxy creation response: %v", err))
	}
	if created.ToolProxyGUID == "" {
		return nil, ErrTransportFailure("proxy creation response missing tool_proxy_guid")
	}
	if created.TCHalfSharedSecret == "" {
		return nil, ErrTransportFailure("proxy creation response missing tc_half_shared_secret")
	}

	return &created, nil
}
