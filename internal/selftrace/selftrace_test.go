package selftrace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestStreamChromeIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelBuffer, FormatChrome)

	cmd := Begin(tr, ScopeCommand, "convert", 0)
	stage := Begin(tr, ScopeStage, "decode", cmd.ID())
	Begin(tr, ScopeBuffer, "buffer:t.1", stage.ID()).WithExtra("events", "3").End("")
	Begin(tr, ScopeDetail, "ignored", stage.ID()).End("")
	stage.End("ok")
	cmd.End("")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var doc struct {
		TraceEvents []map[string]any `json:"traceEvents"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(doc.TraceEvents) != 6 {
		t.Fatalf("got %d events, want 6 (detail scope filtered)", len(doc.TraceEvents))
	}
	if ph := doc.TraceEvents[0]["ph"]; ph != "B" {
		t.Fatalf("first phase = %v, want B", ph)
	}
	end := doc.TraceEvents[3]
	args, _ := end["args"].(map[string]any)
	if end["ph"] != "E" || args["events"] != "3" {
		t.Fatalf("buffer end event = %v", end)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatText)
	Begin(tr, ScopeStage, "symbolize", 0).WithExtra("b", "2").WithExtra("a", "1").End("cached")
	out := buf.String()
	if !strings.Contains(out, "→ symbolize") || !strings.Contains(out, "← symbolize (cached) {a=1, b=2}") {
		t.Fatalf("unexpected text output:\n%s", out)
	}
}

func TestRingWraps(t *testing.T) {
	r := NewRingTracer(3, LevelError)
	for _, name := range []string{"a", "b", "c", "d"} {
		Point(r, ScopeDetail, name, "")
	}
	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].Name != "b" || snap[2].Name != "d" {
		t.Fatalf("snapshot = %v", snap)
	}

	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatChrome); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Fatalf("dump is not JSON:\n%s", buf.String())
	}
}

func TestNewModes(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("off level: %v %v", tr, err)
	}

	var buf bytes.Buffer
	tr, err = New(Config{Level: LevelStage, Mode: ModeBoth, Output: &buf, Format: FormatNDJSON})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	Begin(tr, ScopeStage, "write", 0).End("")
	if RingOf(tr) == nil || len(RingOf(tr).Snapshot()) != 2 {
		t.Fatal("both mode lost ring events")
	}
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("stream wrote %d lines, want 2", n)
	}

	if _, err := ParseMode("disk"); err == nil {
		t.Fatal("ParseMode accepted disk")
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatal("empty context should yield Nop")
	}
	r := NewRingTracer(8, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	span := Begin(FromContext(ctx), ScopeStage, "decode", 0)
	ctx = WithSpan(ctx, span)
	if ParentSpan(ctx) != span.ID() || span.ID() == 0 {
		t.Fatalf("ParentSpan = %d, want %d", ParentSpan(ctx), span.ID())
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"off", "error", "stage", "buffer", "DEBUG"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("phase"); err == nil {
		t.Error("ParseLevel accepted phase")
	}
}
