package decode

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"x2trace/internal/chrome"
)

func TestDecodeText(t *testing.T) {
	input := strings.Join([]string{
		"# tid ts dir caller callee",
		"1 10 enter 0x400 0x1000",
		"2 11 enter 0x400 0x2000",
		"",
		"1 12.5 enter 0x1000 0x1100",
		"1 12.5 exit 0x1000 0x1100",
		"2 20 exit 0x400 0x2000",
		"1 30 exit 0x400 0x1000",
	}, "\n")

	res, err := DecodeText([]byte(input), Options{PID: 9})
	if err != nil {
		t.Fatalf("DecodeText returned error: %v", err)
	}
	us := time.Microsecond
	want := []chrome.Event{
		{
			Name: "0x1100", Category: CategoryCall, Phase: chrome.PhaseComplete,
			Timestamp: 12500 * time.Nanosecond, Duration: MinVisibleDuration, PID: 9, TID: 1,
			Args: map[string]string{ArgCaller: "0x1000", ArgVirtualDuration: "true"},
		},
		{
			Name: "0x2000", Category: CategoryCall, Phase: chrome.PhaseComplete,
			Timestamp: 11 * us, Duration: 9 * us, PID: 9, TID: 2,
			Args: map[string]string{ArgCaller: "0x400"},
		},
		{
			Name: "0x1000", Category: CategoryCall, Phase: chrome.PhaseComplete,
			Timestamp: 10 * us, Duration: 20 * us, PID: 9, TID: 1,
			Args: map[string]string{ArgCaller: "0x400"},
		},
	}
	if diff := cmp.Diff(want, res.Events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestDecodeTextParseError(t *testing.T) {
	input := "1 10 enter 0x400 0x1000\n1 ten exit 0x400 0x1000\n"
	_, err := DecodeText([]byte(input), Options{Buffer: "calls.txt"})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.Line != 2 {
		t.Fatalf("Line = %d, want 2", pe.Line)
	}
	msg := err.Error()
	if !strings.Contains(msg, "calls.txt:2") || !strings.Contains(msg, TextGrammar) {
		t.Fatalf("message %q lacks location or grammar", msg)
	}
}

func TestDecodeTextBadLines(t *testing.T) {
	for _, line := range []string{
		"1 10 enter 0x400",
		"x 10 enter 0x400 0x1",
		"1 10 call 0x400 0x1",
		"1 10 enter zz 0x1",
		"1 10 enter 0x1 0xg",
		"1 -4 enter 0x1 0x2",
	} {
		if _, err := DecodeText([]byte(line), Options{}); err == nil {
			t.Errorf("%q: expected parse error", line)
		}
	}
}

func TestDecodeTextUnderflow(t *testing.T) {
	tests := []struct {
		name   string
		eol    string
		offset int
	}{
		{"lf", "\n", 35},
		{"crlf", "\r\n", 37},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := strings.Join([]string{
				"3 1 enter 0x1 0x2",
				"3 2 exit 0x1 0x2",
				"3 3 exit 0x1 0x2",
			}, tt.eol) + tt.eol
			res, err := DecodeText([]byte(input), Options{})
			if !errors.Is(err, ErrStackUnderflow) {
				t.Fatalf("err = %v, want stack underflow", err)
			}
			var de *Error
			if !errors.As(err, &de) || de.Line != 3 || de.Offset != tt.offset {
				t.Fatalf("error = %+v, want line 3 offset %d", de, tt.offset)
			}
			if res.Offset != tt.offset || len(res.Events) != 1 {
				t.Fatalf("partial result: offset=%d events=%v", res.Offset, res.Events)
			}
		})
	}
}

func TestDecodeTextTimeGoesBackwards(t *testing.T) {
	input := "# header\r\n1 9 enter 0x1 0x2\r\n1 4 exit 0x1 0x2\r\n"
	_, err := DecodeText([]byte(input), Options{})
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindMalformedRecord {
		t.Fatalf("err = %v, want malformed record", err)
	}
	if de.Line != 3 || de.Offset != 29 {
		t.Fatalf("error = %+v, want line 3 offset 29", de)
	}
}

func TestDecodeTextLeftoverPerThread(t *testing.T) {
	input := "5 1 enter 0x1 0x2\n4 1 enter 0x1 0x3\n4 2 enter 0x3 0x4\n"
	res, err := DecodeText([]byte(input), Options{Leftover: LeftoverFlush})
	if err != nil {
		t.Fatalf("DecodeText returned error: %v", err)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if got := res.Warnings[0].String(); got != "leftover stack size=2 tid=4" {
		t.Fatalf("first warning = %q", got)
	}
	if len(res.Events) != 3 {
		t.Fatalf("flushed %d events, want 3", len(res.Events))
	}
	for _, ev := range res.Events {
		if ev.Phase != chrome.PhaseBegin {
			t.Fatalf("leftover flushed as %q, want B", ev.Phase)
		}
	}
}

func TestParseMicros(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"0", 0},
		{"7", 7 * time.Microsecond},
		{"1.5", 1500 * time.Nanosecond},
		{"1.0004", 1 * time.Microsecond},
		{"2.123", 2123 * time.Nanosecond},
	}
	for _, tt := range tests {
		got, err := parseMicros(tt.in)
		if err != nil {
			t.Fatalf("parseMicros(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseMicros(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
