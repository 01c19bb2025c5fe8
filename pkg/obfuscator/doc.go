// Package obfuscator invokes the external Lua obfuscation engine.
//
// The engine is an opaque collaborator behind the Engine interface. The
// Invoker wraps a single call to it: it allocates the output artifact in the
// caller's scope, bounds the call with a timeout, checks that output was
// produced, and reports every failure as an *EngineError. Nothing is retried.
//
// ProcessEngine runs the engine as a child process, typically the Prometheus
// command line:
//
//	lua cli.lua --preset {preset} --out {output} {input}
package obfuscator
