// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authentication flow, the Discord client, and the reconciliation
// engine. When disabled it falls back to no-op providers.
package instrumentation
