package analyze

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"x2trace/internal/chrome"
)

const us = time.Microsecond

func sample() []chrome.Event {
	return []chrome.Event{
		chrome.ProcessName(1, "prog"),
		{Name: "a", Phase: chrome.PhaseBegin, Timestamp: 100 * us},
		{Name: "b", Phase: chrome.PhaseComplete, Timestamp: 150 * us, Duration: 10 * us},
		{Name: "a", Phase: chrome.PhaseEnd, Timestamp: 200 * us},
		{Name: "c", Phase: chrome.PhaseComplete, Timestamp: 5100 * us, Duration: 10 * us},
		{Name: "mark", Phase: chrome.PhaseInstant, Timestamp: 300 * us},
		{Name: "b", Phase: chrome.PhaseComplete, Timestamp: 1000 * us, Duration: 50 * us},
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name    string
		opts    FilterOptions
		include string
		exclude string
		want    []int
	}{
		{name: "everything", want: []int{0, 1, 2, 3, 4, 5, 6}},
		{name: "first millisecond", opts: FilterOptions{End: time.Millisecond}, want: []int{0, 1, 2, 3, 5, 6}},
		{name: "late window", opts: FilterOptions{Begin: 900 * us, End: 2 * time.Millisecond}, want: []int{0, 6}},
		{name: "include", include: "b", want: []int{0, 2, 6}},
		{name: "exclude", exclude: "a|mark", want: []int{0, 2, 4, 6}},
		{name: "include is anchored", include: "ark", want: []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := sample()
			opts := tt.opts
			var err error
			if opts.Include, err = CompileNamePattern(tt.include); err != nil {
				t.Fatal(err)
			}
			if opts.Exclude, err = CompileNamePattern(tt.exclude); err != nil {
				t.Fatal(err)
			}
			got, err := Filter(events, opts)
			if err != nil {
				t.Fatalf("Filter: %v", err)
			}
			want := make([]chrome.Event, len(tt.want))
			for i, idx := range tt.want {
				want[i] = events[idx]
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("kept events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterRejects(t *testing.T) {
	events := []chrome.Event{{Name: "a", Phase: chrome.PhaseEnd, Timestamp: us}}
	if _, err := Filter(events, FilterOptions{}); err == nil || !strings.Contains(err.Error(), "without a begin") {
		t.Fatalf("unmatched end: err = %v", err)
	}
	if _, err := Filter(sample(), FilterOptions{Begin: 2 * time.Millisecond, End: time.Millisecond}); err == nil {
		t.Fatal("inverted window accepted")
	}
	if _, err := CompileNamePattern("("); err == nil {
		t.Fatal("bad pattern accepted")
	}
	if re, err := CompileNamePattern(""); re != nil || err != nil {
		t.Fatalf("empty pattern = %v, %v", re, err)
	}
}

func TestCompileNamePatternAnchors(t *testing.T) {
	re, err := CompileNamePattern("foo|bar")
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]bool{"foo": true, "bar_x": true, "xbar": false} {
		if got := re.MatchString(name); got != want {
			t.Errorf("match %q = %v, want %v", name, got, want)
		}
	}
}

func calls(name string, start time.Duration, durs ...time.Duration) []chrome.Event {
	var out []chrome.Event
	for _, d := range durs {
		out = append(out, chrome.Event{Name: name, Phase: chrome.PhaseComplete, Timestamp: start, Duration: d})
		start += d
	}
	return out
}

func TestOutliers(t *testing.T) {
	ms := time.Millisecond
	var events []chrome.Event
	events = append(events, calls("f", 0, 9*ms, 10*ms, 10*ms, 10*ms, 11*ms, 10*ms, 10*ms, 9*ms, 11*ms)...)
	// The slow call of f is a B/E pair.
	events = append(events,
		chrome.Event{Name: "f", Phase: chrome.PhaseBegin, Timestamp: 2 * time.Second},
		chrome.Event{Name: "z", Phase: chrome.PhaseEnd, Timestamp: 2 * time.Second},
		chrome.Event{Name: "f", Phase: chrome.PhaseEnd, Timestamp: 2*time.Second + 500*ms},
	)
	events = append(events, calls("g", 0, ms, ms, 900*ms)...)
	events = append(events, calls("h", 0, 200*ms, 200*ms, 200*ms, 200*ms, 200*ms, 200*ms)...)

	tests := []struct {
		name string
		opts OutlierOptions
		want []FunctionOutliers
	}{
		{
			name: "slow call",
			opts: OutlierOptions{Threshold: 100, Min: 100 * ms, MinCalls: 5},
			want: []FunctionOutliers{{
				Name: "f", Calls: 10, Median: 10 * ms, MAD: 500 * us,
				Outliers: []Call{{Start: 2 * time.Second, Duration: 500 * ms}},
			}},
		},
		{
			name: "below min duration",
			opts: OutlierOptions{Threshold: 100, Min: time.Second, MinCalls: 5},
		},
		{
			name: "zero threshold takes every long call",
			opts: OutlierOptions{Threshold: 0, Min: 150 * ms, MinCalls: 5},
			want: []FunctionOutliers{
				{Name: "f", Calls: 10, Median: 10 * ms, MAD: 500 * us,
					Outliers: []Call{{Start: 2 * time.Second, Duration: 500 * ms}}},
				{Name: "h", Calls: 6, Median: 200 * ms, MAD: 0,
					Outliers: calls6(200 * ms)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			got := Outliers(events, tt.opts, zap.New(core))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("outliers mismatch (-want +got):\n%s", diff)
			}
			if n := logs.FilterMessage("end event without a begin").Len(); n != 1 {
				t.Fatalf("logged %d unmatched ends, want 1", n)
			}
		})
	}
}

func calls6(d time.Duration) []Call {
	out := make([]Call, 6)
	for i := range out {
		out[i] = Call{Start: time.Duration(i) * d, Duration: d}
	}
	return out
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []time.Duration
		want time.Duration
	}{
		{nil, 0},
		{[]time.Duration{3}, 3},
		{[]time.Duration{4, 1, 3}, 3},
		{[]time.Duration{4, 1, 3, 2}, 2},
		{[]time.Duration{10, 20}, 15},
	}
	for _, tt := range tests {
		in := append([]time.Duration(nil), tt.in...)
		if got := median(in); got != tt.want {
			t.Errorf("median(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if diff := cmp.Diff(tt.in, in); diff != "" {
			t.Errorf("median modified its input: %s", diff)
		}
	}
}
