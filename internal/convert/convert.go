// Package convert runs a whole conversion: read the per-thread captures,
// decode them in parallel, symbolize call addresses against a binary, and
// write one Chrome trace.
package convert

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"x2trace/internal/chrome"
	"x2trace/internal/config"
	"x2trace/internal/decode"
	"x2trace/internal/diag"
	"x2trace/internal/observ"
	"x2trace/internal/selftrace"
	"x2trace/internal/symcache"
	"x2trace/internal/toolrun"
)

// SymbolOptions enables symbolization against Binary.
type SymbolOptions struct {
	Binary string
	// Objdump is the disassembler command, split like a shell would.
	Objdump string
	// BaseOffset is added to every listing address. Unless HasBaseOffset
	// is set or BaseOffset is non-zero, a configured ProcMaps supplies the
	// load base of Module (default: base name of Binary) instead.
	BaseOffset    uint64
	HasBaseOffset bool
	ProcMaps      string
	Module        string
}

// Request configures one conversion.
type Request struct {
	Inputs []string
	// Output is the trace path; "-" writes to Stdout.
	Output string
	Stdout io.Writer

	Format   config.Format
	Epoch    decode.Epoch
	Width    decode.Width // 0: probe Binary, else 64-bit
	Leftover decode.LeftoverPolicy
	PID      int
	Jobs     int
	// KeepGoing keeps partial events of failed buffers and reports all
	// failures after the output is written.
	KeepGoing      bool
	NormalizeNames bool
	MaxWarnings    int

	Container   chrome.Container
	Indent      bool
	ThreadNames bool

	Symbols *SymbolOptions
	Runner  toolrun.Runner
	Cache   *symcache.Cache

	Log      *zap.Logger
	Progress ProgressSink
	Timer    *observ.Timer
}

// BufferResult describes one decoded input.
type BufferResult struct {
	Path     string
	TID      int
	TIDs     []int // threads seen; several for text input
	Format   config.Format
	Bytes    int
	Events   int
	Warnings []decode.Warning
	Err      error
}

// SymbolStats summarizes the symbolize stage.
type SymbolStats struct {
	Requested  int
	Resolved   int
	CacheHits  int
	Missed     int
	BaseOffset uint64
}

// Result captures what a conversion produced.
type Result struct {
	Buffers     []BufferResult
	Events      int
	Width       decode.Width
	Symbols     SymbolStats
	Diagnostics *diag.Bag
	OutputPath  string
	OutputBytes int64
	Timings     Timings
}

type run struct {
	req      *Request
	log      *zap.Logger
	tracer   selftrace.Tracer
	parent   uint64
	reporter diag.Reporter
	res      *Result
	errs     error
}

// Run executes req. With KeepGoing the returned error combines every
// buffer and symbolization failure, and the output is still written.
func Run(ctx context.Context, req *Request) (Result, error) {
	var result Result
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return result, errors.New("missing convert request")
	}
	if len(req.Inputs) == 0 {
		return result, errors.New("no input files")
	}
	reqCopy := *req
	req = &reqCopy
	if req.Log == nil {
		req.Log = zap.NewNop()
	}
	if req.Runner == nil {
		req.Runner = &toolrun.Exec{Log: req.Log}
	}
	if req.Timer == nil {
		req.Timer = observ.NewTimer()
	}
	if req.Jobs <= 0 {
		req.Jobs = runtime.GOMAXPROCS(0)
	}
	if req.Output == "" {
		req.Output = "out.json"
	}
	if req.PID == 0 {
		req.PID = 1
	}
	if req.Epoch == 0 {
		req.Epoch = decode.EpochCurrent
	}

	result.Diagnostics = diag.NewBag(req.MaxWarnings)
	r := &run{
		req:      req,
		log:      req.Log,
		tracer:   selftrace.FromContext(ctx),
		parent:   selftrace.ParentSpan(ctx),
		reporter: diag.NewDedupReporter(diag.MultiReporter{result.Diagnostics, diag.LogReporter{Log: req.Log}}),
		res:      &result,
	}

	defer result.Diagnostics.Sort()

	emitQueued(req.Progress, req.Inputs)

	width, err := r.resolveWidth(ctx)
	if err != nil {
		return result, err
	}
	result.Width = width

	bufs, err := r.read(ctx)
	if err != nil {
		return result, err
	}

	events, err := r.decode(ctx, bufs, width)
	if err != nil {
		return result, err
	}

	if err := r.symbolize(ctx, events); err != nil {
		if !req.KeepGoing {
			return result, err
		}
		r.errs = multierr.Append(r.errs, err)
	}

	if req.ThreadNames {
		events = append(r.metadata(), events...)
	}
	result.Events = len(events)

	if err := r.write(events); err != nil {
		return result, multierr.Append(r.errs, err)
	}
	return result, r.errs
}

// stage wraps one pipeline phase with progress events, a self-trace span
// and a timer phase.
func (r *run) stage(stage Stage, fn func(span *selftrace.Span, phase int) (string, error)) error {
	start := time.Now()
	emitStage(r.req.Progress, stage, StatusWorking, nil, 0)
	span := selftrace.Begin(r.tracer, selftrace.ScopeStage, string(stage), r.parent)
	phase := r.req.Timer.Begin(string(stage))

	note, err := fn(span, phase)

	elapsed := time.Since(start)
	r.req.Timer.End(phase, note)
	r.res.Timings.Set(stage, elapsed)
	if err != nil {
		span.End(err.Error())
		emitStage(r.req.Progress, stage, StatusError, err, elapsed)
		return err
	}
	span.End(note)
	emitStage(r.req.Progress, stage, StatusDone, nil, elapsed)
	return nil
}

func (r *run) metadata() []chrome.Event {
	meta := make([]chrome.Event, 0, len(r.res.Buffers)+1)
	if r.req.Symbols != nil && r.req.Symbols.Binary != "" {
		meta = append(meta, chrome.ProcessName(r.req.PID, filepath.Base(r.req.Symbols.Binary)))
	}
	seen := make(map[int]bool, len(r.res.Buffers))
	for _, b := range r.res.Buffers {
		for _, tid := range b.TIDs {
			if seen[tid] {
				continue
			}
			seen[tid] = true
			name := filepath.Base(b.Path)
			if len(b.TIDs) > 1 {
				name += "#" + strconv.Itoa(tid)
			}
			meta = append(meta, chrome.ThreadName(r.req.PID, tid, name))
		}
	}
	return meta
}

func (r *run) fail(code diag.Code, buffer string, err error) {
	r.reporter.Report(diag.Diagnostic{
		Severity: diag.SevError,
		Code:     code,
		Message:  err.Error(),
		Location: diag.Location{Buffer: buffer, Offset: -1},
	})
}
