package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"x2trace/internal/chrome"
	"x2trace/internal/config"
	"x2trace/internal/decode"
	"x2trace/internal/diag"
	"x2trace/internal/selftrace"
	"x2trace/internal/symbolize"
	"x2trace/internal/toolrun"
)

type input struct {
	path   string
	tid    int
	format config.Format
	data   []byte
}

// resolveWidth settles the address width before any binary buffer is
// decoded: an explicit width wins, then `file` on the binary, then 64.
// A failing probe is fatal.
func (r *run) resolveWidth(ctx context.Context) (decode.Width, error) {
	if r.req.Width != 0 {
		if !r.req.Width.Valid() {
			return 0, fmt.Errorf("unsupported address width %d", r.req.Width)
		}
		return r.req.Width, nil
	}
	needed := false
	for _, p := range r.req.Inputs {
		if config.FormatFor(r.req.Format, p) == config.FormatBinary {
			needed = true
			break
		}
	}
	if !needed || r.req.Symbols == nil || r.req.Symbols.Binary == "" {
		return decode.Width64, nil
	}
	out, err := toolrun.Probe(ctx, r.req.Runner, r.req.Symbols.Binary)
	if err != nil {
		r.fail(diag.SymToolFailed, r.req.Symbols.Binary, err)
		return 0, fmt.Errorf("address width: %w (set --width to skip the probe)", err)
	}
	w, err := symbolize.ParseBitWidth(out)
	if err != nil {
		r.fail(diag.SymToolFailed, r.req.Symbols.Binary, err)
		return 0, fmt.Errorf("address width: %w (set --width to skip the probe)", err)
	}
	r.log.Debug("probed address width", zap.Stringer("width", w))
	return w, nil
}

func (r *run) read(ctx context.Context) ([]*input, error) {
	inputs := make([]*input, len(r.req.Inputs))
	for i, p := range r.req.Inputs {
		inputs[i] = &input{
			path:   p,
			tid:    TIDFromName(p, i+1),
			format: config.FormatFor(r.req.Format, p),
		}
	}

	err := r.stage(StageRead, func(span *selftrace.Span, phase int) (string, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.jobs(len(inputs)))
		errs := make([]error, len(inputs))
		for i, in := range inputs {
			i, in := i, in
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				emitFile(r.req.Progress, in.path, StageRead, StatusWorking, nil)
				data, err := os.ReadFile(in.path)
				if err != nil {
					err = fmt.Errorf("read %s: %w", in.path, err)
					emitFile(r.req.Progress, in.path, StageRead, StatusError, err)
					if !r.req.KeepGoing {
						return err
					}
					errs[i] = err
					return nil
				}
				in.data = data
				r.req.Timer.AddBytes(phase, int64(len(data)))
				emitFile(r.req.Progress, in.path, StageRead, StatusDone, nil)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		for i, err := range errs {
			if err != nil {
				r.fail(diag.IORead, inputs[i].path, err)
				r.errs = multierr.Append(r.errs, err)
			}
		}
		span.WithExtra("files", strconv.Itoa(len(inputs)))
		return fmt.Sprintf("%d files", len(inputs)), nil
	})
	if err != nil {
		return nil, err
	}
	return inputs, nil
}

func (r *run) jobs(n int) int {
	if n < 1 {
		return 1
	}
	return min(r.req.Jobs, n)
}

// decode runs every buffer through its decoder in parallel and merges the
// events in input order.
func (r *run) decode(ctx context.Context, inputs []*input, width decode.Width) ([]chrome.Event, error) {
	results := make([]*decode.Result, len(inputs))
	r.res.Buffers = make([]BufferResult, len(inputs))

	err := r.stage(StageDecode, func(stage *selftrace.Span, _ int) (string, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.jobs(len(inputs)))
		for i, in := range inputs {
			i, in := i, in
			r.res.Buffers[i] = BufferResult{Path: in.path, TID: in.tid, Format: in.format, Bytes: len(in.data)}
			if in.data == nil {
				r.res.Buffers[i].Err = errors.New("not read")
				emitFile(r.req.Progress, in.path, StageDecode, StatusSkipped, nil)
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.decodeOne(in, width, stage.ID())
				results[i] = res
				r.res.Buffers[i].Err = err
				if err != nil && !r.req.KeepGoing {
					r.report(in.path, err)
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	var events []chrome.Event
	for i, res := range results {
		buf := &r.res.Buffers[i]
		if buf.Err != nil && inputs[i].data != nil {
			r.report(buf.Path, buf.Err)
			r.errs = multierr.Append(r.errs, buf.Err)
		}
		if res == nil {
			continue
		}
		buf.Events = len(res.Events)
		buf.Warnings = res.Warnings
		buf.TIDs = threadsOf(res.Events, buf.TID, buf.Format)
		for _, w := range res.Warnings {
			r.warn(buf.Path, w)
		}
		events = append(events, res.Events...)
	}
	return events, nil
}

func (r *run) decodeOne(in *input, width decode.Width, parent uint64) (*decode.Result, error) {
	span := selftrace.Begin(r.tracer, selftrace.ScopeBuffer, "buffer:"+filepath.Base(in.path), parent)
	emitFile(r.req.Progress, in.path, StageDecode, StatusWorking, nil)

	opts := decode.Options{
		Epoch:          r.req.Epoch,
		Width:          width,
		PID:            r.req.PID,
		TID:            in.tid,
		Leftover:       r.req.Leftover,
		Buffer:         in.path,
		NormalizeNames: r.req.NormalizeNames,
	}
	var (
		res *decode.Result
		err error
	)
	if in.format == config.FormatText {
		res, err = decode.DecodeText(in.data, opts)
	} else {
		res, err = decode.Decode(in.data, opts)
	}

	if res != nil {
		span.WithExtra("events", strconv.Itoa(len(res.Events)))
		span.WithExtra("warnings", strconv.Itoa(len(res.Warnings)))
	}
	if err != nil {
		span.End(err.Error())
		emitFile(r.req.Progress, in.path, StageDecode, StatusError, err)
		return res, err
	}
	span.End("")
	emitFile(r.req.Progress, in.path, StageDecode, StatusDone, nil)
	return res, nil
}

// threadsOf lists the thread ids a buffer produced. Binary buffers carry
// one thread; text buffers may interleave several.
func threadsOf(events []chrome.Event, tid int, format config.Format) []int {
	if format != config.FormatText {
		return []int{tid}
	}
	seen := make(map[int]struct{})
	var tids []int
	for _, ev := range events {
		if _, ok := seen[ev.TID]; ok {
			continue
		}
		seen[ev.TID] = struct{}{}
		tids = append(tids, ev.TID)
	}
	sort.Ints(tids)
	return tids
}

// report files a fatal buffer error as a diagnostic.
func (r *run) report(buffer string, err error) {
	var (
		derr *decode.Error
		perr *decode.ParseError
	)
	switch {
	case errors.As(err, &derr):
		code := diag.DecMalformedRecord
		switch derr.Kind {
		case decode.KindStackUnderflow:
			code = diag.DecStackUnderflow
		case decode.KindNonUTF8Text:
			code = diag.DecNonUTF8Text
		case decode.KindUnknownFlag:
			code = diag.DecUnknownFlag
		}
		r.reporter.Report(diag.Diagnostic{
			Severity: diag.SevError,
			Code:     code,
			Message:  err.Error(),
			Location: diag.Location{Buffer: buffer, Offset: derr.Offset, Line: derr.Line},
		})
	case errors.As(err, &perr):
		r.reporter.Report(diag.Diagnostic{
			Severity: diag.SevError,
			Code:     diag.DecTextSyntax,
			Message:  perr.Reason,
			Location: diag.Location{Buffer: buffer, Offset: -1, Line: perr.Line},
		})
	default:
		r.fail(diag.UnknownCode, buffer, err)
	}
}

func (r *run) warn(buffer string, w decode.Warning) {
	code := diag.DecLeftoverStack
	if w.Kind == decode.WarnTruncatedBuffer {
		code = diag.DecTruncatedBuffer
	}
	r.reporter.Report(diag.Diagnostic{
		Severity: diag.SevWarning,
		Code:     code,
		Message:  w.String(),
		Location: diag.Location{Buffer: buffer, Offset: w.Offset},
	})
}
