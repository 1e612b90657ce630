package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the tool provider.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Registration handshake
	RegistrationsStarted   metric.Int64Counter
	RegistrationsSucceeded metric.Int64Counter
	RegistrationsFailed    metric.Int64Counter

	// Launch authentication
	LaunchesAuthorized metric.Int64Counter
	LaunchesRejected   metric.Int64Counter
	ProxiesNotFound    metric.Int64Counter
	NonceReplays       metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("handler")
	regMeter := inst.Meter("registration")
	launchMeter := inst.Meter("launch")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"lti.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"lti.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http.request.duration histogram: %w", err)
	}

	m.RegistrationsStarted, err = regMeter.Int64Counter(
		"lti.registration.started",
		metric.WithDescription("Number of registration handshakes started"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create registration.started counter: %w", err)
	}

	m.RegistrationsSucceeded, err = regMeter.Int64Counter(
		"lti.registration.succeeded",
		metric.WithDescription("Number of registration handshakes completed"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create registration.succeeded counter: %w", err)
	}

	m.RegistrationsFailed, err = regMeter.Int64Counter(
		"lti.registration.failed",
		metric.WithDescription("Number of registration handshakes that failed"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create registration.failed counter: %w", err)
	}

	m.LaunchesAuthorized, err = launchMeter.Int64Counter(
		"lti.launch.authorized",
		metric.WithDescription("Number of launches that passed authentication"),
		metric.WithUnit("{launch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create launch.authorized counter: %w", err)
	}

	m.LaunchesRejected, err = launchMeter.Int64Counter(
		"lti.launch.rejected",
		metric.WithDescription("Number of launches rejected by signature or nonce checks"),
		metric.WithUnit("{launch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create launch.rejected counter: %w", err)
	}

	m.ProxiesNotFound, err = launchMeter.Int64Counter(
		"lti.launch.proxy_not_found",
		metric.WithDescription("Number of launches with an unknown consumer key"),
		metric.WithUnit("{launch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create launch.proxy_not_found counter: %w", err)
	}

	m.NonceReplays, err = launchMeter.Int64Counter(
		"lti.launch.nonce_replays",
		metric.WithDescription("Number of detected nonce replays"),
		metric.WithUnit("{replay}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create launch.nonce_replays counter: %w", err)
	}

	m.RateLimitExceeded, err = httpMeter.Int64Counter(
		"lti.security.rate_limit_exceeded",
		metric.WithDescription("Number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create security.rate_limit_exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"lti.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"lti.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}
