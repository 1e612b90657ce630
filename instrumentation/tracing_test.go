package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSpanHelpers_NilSafe(t *testing.T) {
	// All helpers must tolerate a nil span.
	RecordError(nil, errors.New("x"))
	RecordError(nil, nil)
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String(AttrConsumerKey, "g1"))
	AddHTTPAttributes(nil, "POST", "/launch", 200)
	AddStorageAttributes(nil, "save_proxy", "bolt")
}

func TestSpanHelpers(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	_, span := inst.Tracer("launch").Start(context.Background(), "test-span")
	defer span.End()

	RecordError(span, errors.New("handshake failed"))
	RecordError(span, nil)
	SetSpanAttributes(span,
		attribute.String(AttrConsumerKey, "g1"),
		attribute.String(AttrLaunchOutcome, "authorized"),
		attribute.String(AttrHandshakeStep, "token_exchange"),
	)
	AddHTTPAttributes(span, "POST", "/register", 302)
	AddStorageAttributes(span, "check_and_store", "memory")
	SetSpanSuccess(span)
}
