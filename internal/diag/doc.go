// Package diag collects the findings of one conversion: decoder warnings,
// per-buffer failures under --keep-going and symbolization notes.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity: Info, Warning or Error.
//   - Code: numeric identifier with a stable string form (codes.go).
//   - Message: short human text.
//   - Location: input buffer plus byte offset or text line.
//
// Producers report through the Reporter interface. Bag stores a bounded
// number of diagnostics and sorts them deterministically; LogReporter
// forwards them to zap; DedupReporter drops repeats.
package diag
