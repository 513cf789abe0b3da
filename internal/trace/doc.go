// Package trace records spans of the lowering driver so slow or stuck
// passes can be found.
//
// Enable it from the command line:
//
//	dxlower lower --trace=- --trace-level=detail shader.hlm
//
// Tracers: Nop when disabled, StreamTracer writes each event as it happens,
// RingTracer keeps the most recent events for a dump after a panic, and
// MultiTracer fans out to several of them.
//
// Levels pick how much is recorded: off, error (ring dumps only), phase
// (driver and per-module spans), detail (adds one span per pass) and debug
// (adds per-function events).
//
// The tracer travels in the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "structurize", parent)
//	defer span.End("")
package trace
