package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never put actual credentials (shared secrets, bearer assertions, access
// tokens, OAuth signatures) in span attributes. Traces are persisted,
// replicated, and readable by wider audiences than the serving process.
// Attribute values here are identifiers and metadata only.
const (
	AttrConsumerKey   = "lti.consumer_key"   // Tool proxy GUID (non-secret)
	AttrTCProfileURL  = "lti.tc_profile_url" // Consumer profile URL
	AttrHandshakeStep = "lti.handshake.step" // Registration step that failed
	AttrLaunchOutcome = "lti.launch.outcome" // authorized / unauthorized / not_found

	AttrHTTPMethod     = "http.method"
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPStatusCode = "http.status_code"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe).
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}
