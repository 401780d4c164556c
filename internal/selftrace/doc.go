// Package selftrace records what x2trace itself is doing: spans for each
// conversion stage and input buffer, written as text, NDJSON or a Chrome
// trace, or kept in a ring buffer for a dump after a failure.
//
// # Usage
//
//	x2trace convert --trace=- --trace-level=stage capture.bin
//
// # Tracers
//
//   - Nop: zero-overhead no-op tracer when disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: last N events in memory
//   - LogTracer: span ends as zap debug entries
//   - MultiTracer: fan-out
//
// # Levels and scopes
//
// LevelStage emits command and stage spans, LevelBuffer adds one span per
// input buffer, LevelDebug emits everything.
//
//	ctx = selftrace.WithTracer(ctx, tracer)
//	span := selftrace.Begin(selftrace.FromContext(ctx), selftrace.ScopeStage, "decode", 0)
//	defer span.End("")
package selftrace
