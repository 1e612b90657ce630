// Package instrumentation provides OpenTelemetry metrics and tracing for
// the tool provider. When disabled it falls back to no-op providers with
// zero overhead, so library users pay nothing unless they wire an exporter.
package instrumentation
