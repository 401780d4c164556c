// Package analyze post-processes finished traces: cutting them down to a
// time window and set of functions, and finding calls that take far
// longer than usual.
package analyze

import (
	"fmt"
	"regexp"
	"time"

	"x2trace/internal/chrome"
)

// DefaultWindowEnd is where the filter window ends when no end is given.
const DefaultWindowEnd = time.Hour

// FilterOptions selects what Filter keeps. Begin and End are relative to
// the first non-metadata event of the trace; a zero End means
// DefaultWindowEnd.
type FilterOptions struct {
	Begin time.Duration
	End   time.Duration
	// Include and Exclude match at the start of the event name. Nil
	// Include keeps every name; nil Exclude drops none.
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// CompileNamePattern compiles a name filter anchored at the start of the
// name, the way an include or exclude pattern is meant. An empty pattern
// yields nil.
func CompileNamePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("bad name pattern %q: %w", pattern, err)
	}
	return re, nil
}

func (o FilterOptions) wants(name string) bool {
	if o.Include != nil && !o.Include.MatchString(name) {
		return false
	}
	return o.Exclude == nil || !o.Exclude.MatchString(name)
}

// baseTimestamp is the timestamp of the first event that is not metadata.
func baseTimestamp(events []chrome.Event) time.Duration {
	for _, ev := range events {
		if ev.Phase != chrome.PhaseMetadata {
			return ev.Timestamp
		}
	}
	return 0
}

// Filter returns the events of spans that overlap the window and whose
// name is wanted, in their original order. B and E events pair by name
// and are kept or dropped together; a B without its E is dropped.
// Point events are kept when they fall inside the window, and metadata
// is always kept. An E with no open B of the same name is an error.
func Filter(events []chrome.Event, opts FilterOptions) ([]chrome.Event, error) {
	if opts.End == 0 {
		opts.End = DefaultWindowEnd
	}
	if opts.End < opts.Begin {
		return nil, fmt.Errorf("window ends (%v) before it begins (%v)", opts.End, opts.Begin)
	}
	base := baseTimestamp(events)
	lo, hi := base+opts.Begin, base+opts.End
	overlaps := func(begin, end time.Duration) bool {
		return begin < hi && lo < end
	}

	keep := make([]bool, len(events))
	open := make(map[string][]int)
	for i, ev := range events {
		switch ev.Phase {
		case chrome.PhaseMetadata:
			keep[i] = true
		case chrome.PhaseBegin:
			open[ev.Name] = append(open[ev.Name], i)
		case chrome.PhaseEnd:
			stack := open[ev.Name]
			if len(stack) == 0 {
				return nil, fmt.Errorf("event %d: %q ends without a begin", i, ev.Name)
			}
			b := stack[len(stack)-1]
			open[ev.Name] = stack[:len(stack)-1]
			if opts.wants(ev.Name) && overlaps(events[b].Timestamp, ev.Timestamp) {
				keep[b], keep[i] = true, true
			}
		case chrome.PhaseComplete:
			keep[i] = opts.wants(ev.Name) && overlaps(ev.Timestamp, ev.Timestamp+ev.Duration)
		default:
			keep[i] = opts.wants(ev.Name) && lo <= ev.Timestamp && ev.Timestamp < hi
		}
	}

	out := make([]chrome.Event, 0, len(events))
	for i, ev := range events {
		if keep[i] {
			out = append(out, ev)
		}
	}
	return out, nil
}
