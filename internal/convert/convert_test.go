package convert

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"x2trace/internal/chrome"
	"x2trace/internal/decode"
	"x2trace/internal/diag"
	"x2trace/internal/symcache"
	"x2trace/internal/toolrun"
)

// trace encodes a current-epoch 64-bit capture.
type trace struct{ buf []byte }

func (c *trace) enter(deltaUS, addr uint64) *trace {
	c.buf = binary.LittleEndian.AppendUint64(c.buf, 1<<62|deltaUS)
	c.buf = binary.LittleEndian.AppendUint64(c.buf, addr)
	return c
}

func (c *trace) exit(deltaUS uint64) *trace {
	c.buf = binary.LittleEndian.AppendUint64(c.buf, 2<<62|deltaUS)
	return c
}

const listing = `
prog:     file format elf64-x86-64

Disassembly of section .text:

main():
/src/main.c:4
0000000000001139 <main> push   %rbp
000000000000113a <main+0x1> mov    %rsp,%rbp
/src/util.c:9
0000000000001150 <helper> push   %rbp
0000000000001151 <helper+0x1> ret
`

type fixture struct {
	dir    string
	binary string
	inputs []string
	runner *toolrun.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		binary: filepath.Join(dir, "prog"),
		runner: &toolrun.Fake{Outputs: map[string]toolrun.Output{
			"file":    {Stdout: []byte("prog: ELF 64-bit LSB pie executable, x86-64\n")},
			"objdump": {Stdout: []byte(listing)},
		}},
	}
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	write("prog", []byte("\x7fELF fake binary"))
	f.inputs = []string{
		write("trace.101.bin", (&trace{}).enter(0, 0x1139).enter(5, 0x1150).exit(10).exit(5).buf),
		write("trace.202.bin", (&trace{}).enter(3, 0x2000).exit(0).buf),
	}
	return f
}

func (f *fixture) request() *Request {
	return &Request{
		Inputs:  f.inputs,
		Output:  filepath.Join(f.dir, "out.json"),
		Jobs:    2,
		Symbols: &SymbolOptions{Binary: f.binary},
		Runner:  f.runner,
	}
}

type row struct {
	Name string            `json:"name"`
	Ph   string            `json:"ph"`
	TS   json.Number       `json:"ts"`
	Dur  json.Number       `json:"dur"`
	TID  int               `json:"tid"`
	Args map[string]string `json:"args"`
}

func readRows(t *testing.T, path string) []row {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, data)
	}
	return rows
}

func TestRunSymbolizesCalls(t *testing.T) {
	f := newFixture(t)
	res, err := Run(context.Background(), f.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []row{
		{Name: "helper", Ph: "X", TS: "5", Dur: "10", TID: 101,
			Args: map[string]string{"address": "0x1150", "file_location": "/src/util.c:9"}},
		{Name: "main", Ph: "X", TS: "0", Dur: "20", TID: 101,
			Args: map[string]string{"address": "0x1139", "file_location": "/src/main.c:4"}},
		{Name: "0x2000", Ph: "X", TS: "3", Dur: "0.2", TID: 202,
			Args: map[string]string{"virtual_duration": "true"}},
	}
	if diff := cmp.Diff(want, readRows(t, res.OutputPath)); diff != "" {
		t.Fatalf("trace mismatch (-want +got):\n%s", diff)
	}

	if res.Width != decode.Width64 {
		t.Fatalf("Width = %v, want probed 64", res.Width)
	}
	wantStats := SymbolStats{Requested: 3, Resolved: 2, Missed: 1}
	if diff := cmp.Diff(wantStats, res.Symbols); diff != "" {
		t.Fatalf("symbol stats mismatch (-want +got):\n%s", diff)
	}
	wantCalls := []string{
		"file " + f.binary,
		"objdump --disassemble --prefix-addresses --line-numbers " + f.binary,
	}
	if diff := cmp.Diff(wantCalls, f.runner.CallLines()); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}
	if res.OutputBytes == 0 || res.Events != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, stage := range Stages {
		if !res.Timings.Has(stage) {
			t.Errorf("no timing for stage %s", stage)
		}
	}
}

func TestRunUsesSymbolCache(t *testing.T) {
	f := newFixture(t)
	cache, err := symcache.Open(filepath.Join(f.dir, "cache"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	req := f.request()
	req.Cache = cache
	req.Width = decode.Width64

	if _, err := Run(context.Background(), req); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Symbols.CacheHits != 2 || res.Symbols.Resolved != 2 {
		t.Fatalf("second run stats = %+v", res.Symbols)
	}
	// Known misses are cached too, so the second run never disassembles.
	if n := len(f.runner.CallLines()); n != 1 {
		t.Fatalf("objdump ran %d times, want 1: %v", n, f.runner.CallLines())
	}
}

func TestRunBaseOffsetFromProcMaps(t *testing.T) {
	f := newFixture(t)
	maps := filepath.Join(f.dir, "maps")
	body := "555555554000-555555555000 r--p 00000000 08:01 42 /usr/bin/prog\n" +
		"7ffff7dd3000-7ffff7dfc000 r-xp 00000000 08:01 7 /lib/ld.so\n"
	if err := os.WriteFile(maps, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	f.inputs = f.inputs[:1]
	data := (&trace{}).enter(0, 0x555555555139).exit(1).buf
	if err := os.WriteFile(f.inputs[0], data, 0o644); err != nil {
		t.Fatal(err)
	}

	req := f.request()
	req.Symbols.ProcMaps = maps
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Symbols.BaseOffset != 0x555555554000 || res.Symbols.Resolved != 1 {
		t.Fatalf("symbol stats = %+v", res.Symbols)
	}
	rows := readRows(t, res.OutputPath)
	if len(rows) != 1 || rows[0].Name != "main" {
		t.Fatalf("rows = %+v", rows)
	}

	req.Symbols.Module = "libmissing.so"
	if _, err := Run(context.Background(), req); err == nil || !strings.Contains(err.Error(), "libmissing.so") {
		t.Fatalf("missing module error = %v", err)
	}

	// An explicit zero offset is not replaced by the map.
	req.Symbols.Module = ""
	req.Symbols.HasBaseOffset = true
	res, err = Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run with explicit zero offset: %v", err)
	}
	if res.Symbols.BaseOffset != 0 || res.Symbols.Resolved != 0 {
		t.Fatalf("explicit zero offset stats = %+v", res.Symbols)
	}
}

func TestRunOutputFileMode(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Symbols = nil
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	info, err := os.Stat(res.OutputPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Fatalf("output mode = %v, want 0644", perm)
	}
	left, err := filepath.Glob(filepath.Join(f.dir, ".out.json.tmp-*"))
	if err != nil || len(left) != 0 {
		t.Fatalf("temp files left behind: %v %v", left, err)
	}
}

func TestRunStopsOnBrokenBuffer(t *testing.T) {
	f := newFixture(t)
	broken := filepath.Join(f.dir, "trace.303.bin")
	if err := os.WriteFile(broken, (&trace{}).exit(1).buf, 0o644); err != nil {
		t.Fatal(err)
	}
	f.inputs = append(f.inputs, broken)

	req := f.request()
	req.Symbols = nil
	_, err := Run(context.Background(), req)
	if !errors.Is(err, decode.ErrStackUnderflow) {
		t.Fatalf("err = %v, want stack underflow", err)
	}
	if _, statErr := os.Stat(req.Output); !os.IsNotExist(statErr) {
		t.Fatalf("output written despite failure: %v", statErr)
	}
}

func TestRunKeepGoing(t *testing.T) {
	f := newFixture(t)
	broken := filepath.Join(f.dir, "trace.303.bin")
	if err := os.WriteFile(broken, (&trace{}).enter(0, 0x1139).exit(2).exit(1).buf, 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(f.dir, "trace.404.bin")
	f.inputs = append(f.inputs, broken, missing)

	core, logs := observer.New(zap.WarnLevel)
	req := f.request()
	req.Symbols = nil
	req.KeepGoing = true
	req.Log = zap.New(core)

	res, err := Run(context.Background(), req)
	if !errors.Is(err, decode.ErrStackUnderflow) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want both failures", err)
	}
	// Partial events of the broken buffer are kept.
	rows := readRows(t, res.OutputPath)
	if len(rows) != 4 {
		t.Fatalf("got %d events, want 4", len(rows))
	}
	if !res.Diagnostics.HasErrors() || res.Diagnostics.Len() != 2 {
		t.Fatalf("diagnostics = %v", res.Diagnostics.Items())
	}
	codes := map[diag.Code]bool{}
	for _, d := range res.Diagnostics.Items() {
		codes[d.Code] = true
	}
	if !codes[diag.DecStackUnderflow] || !codes[diag.IORead] {
		t.Fatalf("diagnostic codes = %v", codes)
	}
	if logs.FilterMessageSnippet("stack underflow").Len() != 1 {
		t.Fatalf("underflow not logged: %v", logs.All())
	}
	if res.Buffers[3].Err == nil || res.Buffers[3].Events != 0 {
		t.Fatalf("missing buffer result = %+v", res.Buffers[3])
	}
}

func TestRunTextInputAndMetadata(t *testing.T) {
	f := newFixture(t)
	calls := filepath.Join(f.dir, "calls.txt")
	body := "7 10 enter 0x1 0x1139\n8 11 enter 0x1 0x1150\n8 12 exit 0x1 0x1150\n7 20 exit 0x1 0x1139\n"
	if err := os.WriteFile(calls, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	req := &Request{
		Inputs:      []string{calls},
		Output:      StdoutPath,
		Stdout:      &stdout,
		Container:   chrome.ContainerObject,
		ThreadNames: true,
		Symbols:     &SymbolOptions{Binary: f.binary},
		Runner:      f.runner,
	}
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var doc struct {
		TraceEvents []row `json:"traceEvents"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("stdout is not a trace object: %v\n%s", err, stdout.String())
	}
	var names []string
	for _, r := range doc.TraceEvents {
		names = append(names, r.Ph+":"+r.Name)
	}
	want := []string{"M:process_name", "M:thread_name", "M:thread_name", "X:helper", "X:main"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if got := doc.TraceEvents[1].Args["name"]; got != "calls.txt#7" {
		t.Fatalf("thread name = %q", got)
	}
	// Text input never needs the width probe.
	if lines := f.runner.CallLines(); len(lines) != 1 || !strings.HasPrefix(lines[0], "objdump") {
		t.Fatalf("tool calls = %v", lines)
	}
	if res.OutputBytes != int64(stdout.Len()) {
		t.Fatalf("OutputBytes = %d, stdout has %d", res.OutputBytes, stdout.Len())
	}
}

func TestRunObjdumpFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.Outputs["objdump"] = toolrun.Output{ExitCode: 1, Stderr: []byte("objdump: prog: file format not recognized")}

	req := f.request()
	_, err := Run(context.Background(), req)
	var failure *toolrun.Failure
	if !errors.As(err, &failure) || failure.ExitCode != 1 {
		t.Fatalf("err = %v, want objdump failure", err)
	}

	req.KeepGoing = true
	res, err := Run(context.Background(), req)
	if err == nil {
		t.Fatal("keep-going run hid the objdump failure")
	}
	rows := readRows(t, res.OutputPath)
	if len(rows) != 3 || rows[0].Name != "0x1150" {
		t.Fatalf("unsymbolized rows = %+v", rows)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestRunReportsProgress(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	req := f.request()
	req.Progress = rec
	if _, err := Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done := map[Stage]bool{}
	perFile := map[string]int{}
	for _, e := range rec.events {
		if e.File == "" && e.Status == StatusDone {
			done[e.Stage] = true
		}
		if e.File != "" && e.Status == StatusDone {
			perFile[e.File]++
		}
	}
	for _, stage := range Stages {
		if !done[stage] {
			t.Errorf("stage %s never reported done", stage)
		}
	}
	for _, in := range f.inputs {
		if perFile[in] != 2 {
			t.Errorf("%s: %d done events, want read and decode", in, perFile[in])
		}
	}
}

func TestRunRejectsEmptyRequest(t *testing.T) {
	if _, err := Run(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error for no inputs")
	}
}

func TestTIDFromName(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"/tmp/trace.1234.bin", 1234},
		{"thread-7", 7},
		{"run2/trace.bin", 9},
		{"t12x34.bin", 34},
		{"99999999999999999999999.bin", 9},
	}
	for _, tt := range tests {
		if got := TIDFromName(tt.path, 9); got != tt.want {
			t.Errorf("TIDFromName(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestSymbols(t *testing.T) {
	f := newFixture(t)
	req := &Request{
		Symbols: &SymbolOptions{Binary: f.binary, Objdump: "objdump -C"},
		Runner:  f.runner,
	}
	got, stats, err := Symbols(context.Background(), req, []string{"0x1150", "1139", "0X1139", "zz", "0x9"})
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(got) != 2 || got["0x1139"].FunctionName != "main" || got["0x1150"].FileLocation != "/src/util.c:9" {
		t.Fatalf("Symbols = %+v", got)
	}
	if stats.Requested != 3 || stats.Missed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if lines := f.runner.CallLines(); len(lines) != 1 || !strings.HasPrefix(lines[0], "objdump -C --disassemble") {
		t.Fatalf("tool calls = %v", lines)
	}

	if _, _, err := Symbols(context.Background(), &Request{}, []string{"1"}); err == nil {
		t.Fatal("expected error without a binary")
	}
}

func TestRunProbeFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.Outputs["file"] = toolrun.Output{Stdout: []byte("prog: ASCII text\n")}
	_, err := Run(context.Background(), f.request())
	if err == nil || !strings.Contains(err.Error(), "ASCII text") {
		t.Fatalf("err = %v, want bit-width parse error", err)
	}

	delete(f.runner.Outputs, "file")
	_, err = Run(context.Background(), f.request())
	var failure *toolrun.Failure
	if !errors.As(err, &failure) || failure.ExitCode != 127 {
		t.Fatalf("err = %v, want tool failure", err)
	}
}
