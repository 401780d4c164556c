package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"x2trace/internal/chrome"
	"x2trace/internal/decode"
	"x2trace/internal/diag"
	"x2trace/internal/selftrace"
	"x2trace/internal/symbolize"
	"x2trace/internal/symcache"
	"x2trace/internal/toolrun"
)

// Arguments added to symbolized events.
const (
	ArgAddress      = "address"
	ArgFileLocation = "file_location"
)

// symbolize renames call events whose name is still an address. Addresses
// with no enclosing symbol keep their placeholder name.
func (r *run) symbolize(ctx context.Context, events []chrome.Event) error {
	opts := r.req.Symbols
	if opts == nil || opts.Binary == "" {
		emitStage(r.req.Progress, StageSymbolize, StatusSkipped, nil, 0)
		return nil
	}
	addrs := symbolize.NormalizeAddresses(callAddresses(events))
	if len(addrs) == 0 {
		emitStage(r.req.Progress, StageSymbolize, StatusSkipped, nil, 0)
		return nil
	}

	return r.stage(StageSymbolize, func(span *selftrace.Span, _ int) (string, error) {
		stats := &r.res.Symbols
		stats.Requested = len(addrs)

		base, err := r.baseOffset()
		if err != nil {
			r.fail(diag.SymModuleMissing, opts.ProcMaps, err)
			return "", err
		}
		stats.BaseOffset = base

		table, missed, err := r.lookup(ctx, addrs, base)
		if err != nil {
			return "", err
		}
		stats.Resolved = len(table)
		stats.Missed = len(missed)
		for _, a := range missed {
			r.log.Debug("unresolved address", zap.String("address", symbolize.Key(a)))
		}

		apply(events, table)

		span.WithExtra("requested", strconv.Itoa(stats.Requested))
		span.WithExtra("resolved", strconv.Itoa(stats.Resolved))
		span.WithExtra("cache_hits", strconv.Itoa(stats.CacheHits))
		return fmt.Sprintf("%d/%d resolved", stats.Resolved, stats.Requested), nil
	})
}

// lookup answers addrs from the cache first and disassembles the binary
// only for what the cache has never seen.
func (r *run) lookup(ctx context.Context, addrs []string, base uint64) (map[string]symbolize.Info, []string, error) {
	opts := r.req.Symbols
	cache := r.req.Cache
	var key symcache.Key
	if cache != nil {
		digest, err := symcache.DigestFile(opts.Binary)
		if err != nil {
			r.log.Warn("symbol cache disabled for this run", zap.Error(err))
			r.reporter.Report(diag.Diagnostic{
				Severity: diag.SevWarning,
				Code:     diag.SymCacheIO,
				Message:  err.Error(),
				Location: diag.Location{Buffer: opts.Binary, Offset: -1},
			})
			cache = nil
		}
		key = symcache.Key{Binary: digest, BaseOffset: base}
	}

	table, unknown, err := cache.Lookup(key, addrs)
	if err != nil {
		r.log.Warn("cannot read symbol cache", zap.String("dir", cache.Dir()), zap.Error(err))
		table, unknown = map[string]symbolize.Info{}, addrs
	}
	r.res.Symbols.CacheHits = len(table)
	if len(unknown) == 0 {
		return table, r.missedFrom(addrs, table), nil
	}

	span := selftrace.Begin(r.tracer, selftrace.ScopeDetail, "objdump", r.parent)
	listing, err := toolrun.Disassemble(ctx, r.req.Runner, opts.Objdump, opts.Binary)
	span.End("")
	if err != nil {
		r.fail(diag.SymToolFailed, opts.Binary, err)
		return nil, nil, err
	}
	resolved, err := symbolize.Resolve(unknown, bytes.NewReader(listing), base)
	if err != nil {
		r.fail(diag.SymBadListing, opts.Binary, err)
		return nil, nil, err
	}

	var missed []string
	for _, a := range unknown {
		if _, ok := resolved[symbolize.Key(a)]; !ok {
			missed = append(missed, a)
		}
	}
	if err := cache.Merge(key, opts.Binary, resolved, missed); err != nil {
		r.log.Warn("cannot update symbol cache", zap.String("dir", cache.Dir()), zap.Error(err))
	}
	for k, v := range resolved {
		table[k] = v
	}
	return table, r.missedFrom(addrs, table), nil
}

func (r *run) missedFrom(addrs []string, table map[string]symbolize.Info) []string {
	var missed []string
	for _, a := range addrs {
		if _, ok := table[symbolize.Key(a)]; !ok {
			missed = append(missed, a)
		}
	}
	return missed
}

// baseOffset is the explicit offset, else the load base of the module in
// the memory map, else zero.
func (r *run) baseOffset() (uint64, error) {
	opts := r.req.Symbols
	if opts.HasBaseOffset || opts.BaseOffset != 0 || opts.ProcMaps == "" {
		return opts.BaseOffset, nil
	}
	f, err := os.Open(opts.ProcMaps)
	if err != nil {
		return 0, fmt.Errorf("read memory map: %w", err)
	}
	defer f.Close()
	bases, err := symbolize.ParseProcMaps(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", opts.ProcMaps, err)
	}
	module := opts.Module
	if module == "" {
		module = filepath.Base(opts.Binary)
	}
	base, ok := bases[module]
	if !ok {
		return 0, fmt.Errorf("%s: module %q not mapped", opts.ProcMaps, module)
	}
	r.log.Debug("base offset from memory map",
		zap.String("module", module), zap.String("base", "0x"+strconv.FormatUint(base, 16)))
	return base, nil
}

// callAddresses returns the placeholder names of call events.
func callAddresses(events []chrome.Event) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range events {
		ev := &events[i]
		if ev.Category != decode.CategoryCall || !strings.HasPrefix(ev.Name, "0x") {
			continue
		}
		if _, ok := seen[ev.Name]; ok {
			continue
		}
		seen[ev.Name] = struct{}{}
		out = append(out, ev.Name)
	}
	return out
}

// apply renames resolved call events in place. The original address is
// kept as an argument and the source location added when known.
func apply(events []chrome.Event, table map[string]symbolize.Info) {
	for i := range events {
		ev := &events[i]
		if ev.Category != decode.CategoryCall {
			continue
		}
		info, ok := table[ev.Name]
		if !ok {
			continue
		}
		ev.SetArg(ArgAddress, ev.Name)
		ev.Name = info.FunctionName
		if info.FileLocation != "" {
			ev.SetArg(ArgFileLocation, info.FileLocation)
		}
	}
}

// Symbols resolves addrs against req.Symbols.Binary the way Run does,
// cache included, without decoding anything. Keys of the result are
// normalized "0x" addresses.
func Symbols(ctx context.Context, req *Request, addrs []string) (map[string]symbolize.Info, SymbolStats, error) {
	var stats SymbolStats
	if req == nil || req.Symbols == nil || req.Symbols.Binary == "" {
		return nil, stats, errors.New("no binary to symbolize against")
	}
	reqCopy := *req
	if reqCopy.Log == nil {
		reqCopy.Log = zap.NewNop()
	}
	if reqCopy.Runner == nil {
		reqCopy.Runner = &toolrun.Exec{Log: reqCopy.Log}
	}
	res := &Result{Diagnostics: diag.NewBag(reqCopy.MaxWarnings)}
	r := &run{
		req:      &reqCopy,
		log:      reqCopy.Log,
		tracer:   selftrace.FromContext(ctx),
		parent:   selftrace.ParentSpan(ctx),
		reporter: diag.NewDedupReporter(diag.MultiReporter{res.Diagnostics, diag.LogReporter{Log: reqCopy.Log}}),
		res:      res,
	}

	norm := symbolize.NormalizeAddresses(addrs)
	res.Symbols.Requested = len(norm)
	base, err := r.baseOffset()
	if err != nil {
		return nil, res.Symbols, err
	}
	res.Symbols.BaseOffset = base
	if len(norm) == 0 {
		return map[string]symbolize.Info{}, res.Symbols, nil
	}
	table, missed, err := r.lookup(ctx, norm, base)
	if err != nil {
		return nil, res.Symbols, err
	}
	res.Symbols.Resolved = len(table)
	res.Symbols.Missed = len(missed)
	return table, res.Symbols, nil
}
