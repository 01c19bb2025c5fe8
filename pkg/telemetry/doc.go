// Package telemetry wires OpenTelemetry trace export for the obfuscation API.
//
// Without a configured endpoint no provider is installed and the global
// no-op tracer stays in place. The W3C trace context propagator is always
// installed so the engine process can inherit the caller's trace through its
// environment.
package telemetry
