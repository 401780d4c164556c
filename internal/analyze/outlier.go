package analyze

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"x2trace/internal/chrome"
)

// OutlierOptions tunes Outliers.
type OutlierOptions struct {
	// Threshold is the distance from the median, in median absolute
	// deviations, at which a call counts as an outlier.
	Threshold float64
	// Min drops outliers shorter than this.
	Min time.Duration
	// MinCalls skips functions called fewer times.
	MinCalls int
}

// DefaultOutlierOptions returns the stock thresholds.
func DefaultOutlierOptions() OutlierOptions {
	return OutlierOptions{Threshold: 100, Min: 100 * time.Millisecond, MinCalls: 100}
}

// Call is one measured invocation.
type Call struct {
	Start    time.Duration
	Duration time.Duration
}

// FunctionOutliers reports the outlying calls of one function.
type FunctionOutliers struct {
	Name     string
	Calls    int
	Median   time.Duration
	MAD      time.Duration
	Outliers []Call
}

// Outliers measures every call span (X events, and B/E pairs matched by
// name) and reports, per function in order of first appearance, calls
// whose deviation from the median is at least Threshold median absolute
// deviations. When the deviations have a zero median no call qualifies
// unless Threshold is at most zero. Unmatched E events are logged and
// skipped.
func Outliers(events []chrome.Event, opts OutlierOptions, log *zap.Logger) []FunctionOutliers {
	if log == nil {
		log = zap.NewNop()
	}
	var order []string
	calls := make(map[string][]Call)
	open := make(map[string][]time.Duration)
	record := func(name string, c Call) {
		if _, ok := calls[name]; !ok {
			order = append(order, name)
		}
		calls[name] = append(calls[name], c)
	}

	for i, ev := range events {
		switch ev.Phase {
		case chrome.PhaseBegin:
			open[ev.Name] = append(open[ev.Name], ev.Timestamp)
		case chrome.PhaseEnd:
			stack := open[ev.Name]
			if len(stack) == 0 {
				log.Warn("end event without a begin", zap.Int("index", i), zap.String("name", ev.Name))
				continue
			}
			start := stack[len(stack)-1]
			open[ev.Name] = stack[:len(stack)-1]
			record(ev.Name, Call{Start: start, Duration: ev.Timestamp - start})
		case chrome.PhaseComplete:
			record(ev.Name, Call{Start: ev.Timestamp, Duration: ev.Duration})
		}
	}

	var out []FunctionOutliers
	for _, name := range order {
		cs := calls[name]
		if len(cs) < opts.MinCalls {
			continue
		}
		durs := make([]time.Duration, len(cs))
		for i, c := range cs {
			durs[i] = c.Duration
		}
		med := median(durs)
		devs := make([]time.Duration, len(durs))
		for i, d := range durs {
			devs[i] = absDuration(d - med)
		}
		mad := median(devs)

		var found []Call
		for i, c := range cs {
			score := 0.0
			if mad != 0 {
				score = float64(devs[i]) / float64(mad)
			}
			if score >= opts.Threshold && c.Duration >= opts.Min {
				found = append(found, c)
			}
		}
		if len(found) == 0 {
			continue
		}
		out = append(out, FunctionOutliers{
			Name:     name,
			Calls:    len(cs),
			Median:   med,
			MAD:      mad,
			Outliers: found,
		})
	}
	return out
}

// median returns the middle value, averaging the two middle values of an
// even-length input. ds is not modified.
func median(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	s := append([]time.Duration(nil), ds...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return s[mid-1] + (s[mid]-s[mid-1])/2
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
