package diag

import "sync"

type dedupKey struct {
	code Code
	sev  Severity
	loc  Location
	msg  string
}

func keyOf(d Diagnostic) dedupKey {
	return dedupKey{code: d.Code, sev: d.Severity, loc: d.Location, msg: d.Message}
}

// DedupReporter wraps another Reporter and suppresses duplicate diagnostics
// with the same code, severity, location and message. Safe for concurrent
// use when next is.
type DedupReporter struct {
	mu   sync.Mutex
	next Reporter
	seen map[dedupKey]struct{}
}

// NewDedupReporter returns a Reporter that filters out duplicates while
// forwarding unique diagnostics to next.
func NewDedupReporter(next Reporter) *DedupReporter {
	return &DedupReporter{
		next: next,
		seen: make(map[dedupKey]struct{}),
	}
}

func (r *DedupReporter) Report(d Diagnostic) {
	if r == nil {
		return
	}
	k := keyOf(d)
	r.mu.Lock()
	_, dup := r.seen[k]
	r.seen[k] = struct{}{}
	r.mu.Unlock()
	if !dup && r.next != nil {
		r.next.Report(d)
	}
}
