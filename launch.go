package lti

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JesGor/lti2-reference-tool-provider/instrumentation"
	"github.com/JesGor/lti2-reference-tool-provider/security"
	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

// LaunchRequest carries everything needed to authenticate one launch.
type LaunchRequest struct {
	// Method is the HTTP method of the launch request.
	Method string

	// URL is the full request URL as the consumer addressed it.
	URL string

	// Params holds all request parameters — the OAuth1 protocol
	// parameters plus the arbitrary launch parameters covered by the
	// signature.
	Params url.Values

	// ClientIP is the requesting address, for audit. Optional.
	ClientIP string
}

// AuthenticateLaunch verifies a launch request against the stored trust
// record for its oauth_consumer_key.
//
// Two outcomes are distinguishable to callers: ErrProxyNotFound when no
// proxy exists for the key (a 404-class addressing error), and
// ErrUnauthorizedLaunch for everything else — bad signature, stale
// timestamp, replayed nonce. Which verification failed is deliberately not
// revealed. On success the matched proxy is returned.
func (s *Server) AuthenticateLaunch(ctx context.Context, req LaunchRequest) (*storage.ToolProxy, error) {
	ctx, span := s.tracer.Start(ctx, "lti.authenticate_launch")
	defer span.End()

	consumerKey := req.Params.Get(oauthConsumerKeyParam)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrConsumerKey, consumerKey))

	proxy, err := s.proxyStore.GetProxy(ctx, consumerKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.ProxiesNotFound.Add(ctx, 1)
			s.logger.Debug("launch with unknown consumer key", "consumer_key", consumerKey)
			instrumentation.SetSpanAttributes(span,
				attribute.String(instrumentation.AttrLaunchOutcome, "not_found"))
			return nil, ErrProxyNotFound
		}
		instrumentation.RecordError(span, err)
		return nil, err
	}

	// A proxy without a shared secret never passed the handshake and must
	// not authenticate anything. Stores refuse to persist such records;
	// this guards against backends that cannot.
	if !proxy.Complete() {
		return nil, s.rejectLaunch(ctx, span, consumerKey, req.ClientIP, "incomplete tool proxy")
	}

	params := stripParameters(req.Params, s.config.Security.StrippedParameters)

	if !ValidateSignature(req.Method, req.URL, params, proxy.SharedSecret, req.Params.Get(oauthSignatureParam)) {
		return nil, s.rejectLaunch(ctx, span, consumerKey, req.ClientIP, "invalid signature")
	}

	timestamp, err := strconv.ParseInt(req.Params.Get(oauthTimestampParam), 10, 64)
	if err != nil {
		return nil, s.rejectLaunch(ctx, span, consumerKey, req.ClientIP, "malformed timestamp")
	}

	nonce := req.Params.Get(oauthNonceParam)
	if err := s.replayGuard.Check(ctx, nonce, timestamp); err != nil {
		if errors.Is(err, security.ErrReplay) {
			s.metrics.NonceReplays.Add(ctx, 1)
			s.auditor.LogNonceReplay(consumerKey, req.ClientIP, nonce)
		}
		return nil, s.rejectLaunch(ctx, span, consumerKey, req.ClientIP, "nonce rejected")
	}

	s.metrics.LaunchesAuthorized.Add(ctx, 1)
	s.auditor.LogLaunchAuthorized(consumerKey, req.ClientIP)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrLaunchOutcome, "authorized"))
	instrumentation.SetSpanSuccess(span)
	return proxy, nil
}

// rejectLaunch records one failed launch and returns the single collapsed
// unauthorized outcome. The reason stays in logs and audit.
func (s *Server) rejectLaunch(ctx context.Context, span trace.Span, consumerKey, clientIP, reason string) error {
	s.metrics.LaunchesRejected.Add(ctx, 1)
	s.auditor.LogLaunchRejected(consumerKey, clientIP, reason)
	s.logger.Warn("launch rejected", "consumer_key", consumerKey, "reason", reason)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrLaunchOutcome, "unauthorized"))
	return ErrUnauthorizedLaunch
}

// stripParameters returns params minus the framework-injected names. The
// consumer signed only the parameters it sent; anything the dispatch layer
// added afterwards would corrupt the recomputed base string.
func stripParameters(params url.Values, stripped []string) url.Values {
	if len(stripped) == 0 {
		return params
	}

	out := make(url.Values, len(params))
	for key, values := range params {
		out[key] = values
	}
	for _, name := range stripped {
		delete(out, name)
	}
	return out
}
