package chrome

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseMicros(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"0", 0},
		{"5", 5 * time.Microsecond},
		{"0.2", 200 * time.Nanosecond},
		{"1.001", 1001 * time.Nanosecond},
		{"1.0019", 1001 * time.Nanosecond},
		{"-1.5", -1500 * time.Nanosecond},
		{"1.5e3", 1500 * time.Microsecond},
	}
	for _, tt := range tests {
		got, err := ParseMicros(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseMicros(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "x", "1.x", "99999999999999999999"} {
		if _, err := ParseMicros(bad); err == nil {
			t.Errorf("ParseMicros(%q) accepted", bad)
		}
	}
}

func TestReadRoundTripsWrite(t *testing.T) {
	events := []Event{
		ProcessName(1, "prog"),
		{Name: "main", Category: "call", Phase: PhaseComplete, Timestamp: 1500 * time.Nanosecond,
			Duration: 200 * time.Nanosecond, PID: 1, TID: 7, Args: map[string]string{"virtual_duration": "true"}},
		{Name: "job", Category: "call", Phase: PhaseAsyncStart, Timestamp: 3 * time.Microsecond,
			PID: 1, TID: 7, Scope: ScopeThread, ID: "9"},
	}
	for _, c := range []Container{ContainerArray, ContainerObject} {
		var buf bytes.Buffer
		if err := Write(&buf, events, WriteOptions{Container: c, Indent: true, DisplayTimeUnit: "ns"}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, container, err := Read(&buf)
		if err != nil {
			t.Fatalf("Read(%v): %v", c, err)
		}
		if container != c {
			t.Errorf("container = %v, want %v", container, c)
		}
		if diff := cmp.Diff(events, got); diff != "" {
			t.Errorf("%v events mismatch (-want +got):\n%s", c, diff)
		}
	}
}

func TestReadForeignEvents(t *testing.T) {
	in := `{"traceEvents": [
		{"name": "x", "ph": "X", "ts": 10, "dur": 2.5, "pid": "3", "tid": 4, "id": 12, "args": {"n": 5, "o": {"a": [1, 2]}}},
		{"name": "i", "ph": "i", "ts": 11}
	]}`
	got, container, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []Event{
		{Name: "x", Phase: PhaseComplete, Timestamp: 10 * time.Microsecond, Duration: 2500 * time.Nanosecond,
			PID: 3, TID: 4, ID: "12", Args: map[string]string{"n": "5", "o": `{"a":[1,2]}`}},
		{Name: "i", Phase: "i", Timestamp: 11 * time.Microsecond},
	}
	if container != ContainerObject {
		t.Errorf("container = %v", container)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "  ", "empty input"},
		{"scalar", "42", "want a JSON array or object"},
		{"string pid", `[{"name":"a","ph":"B","ts":0,"pid":"CPU"}]`, "pid"},
		{"bad ts", `[{"name":"a","ph":"B","ts":"soon"}]`, "decode trace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(strings.NewReader(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
