package convert

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"x2trace/internal/chrome"
	"x2trace/internal/diag"
	"x2trace/internal/selftrace"
)

// StdoutPath selects standard output as the trace destination.
const StdoutPath = "-"

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (r *run) write(events []chrome.Event) error {
	opts := chrome.WriteOptions{
		Container: r.req.Container,
		Indent:    r.req.Indent,
	}
	err := r.stage(StageWrite, func(span *selftrace.Span, _ int) (string, error) {
		n, err := WriteTrace(r.req.Output, r.req.Stdout, events, opts)
		r.res.OutputBytes = n
		if err != nil {
			r.fail(diag.IOWrite, r.req.Output, err)
			return "", err
		}
		r.res.OutputPath = r.req.Output
		span.WithExtra("events", fmt.Sprint(len(events)))
		return fmt.Sprintf("%d events", len(events)), nil
	})
	return err
}

const outputMode os.FileMode = 0o644

// WriteTrace writes events to path, or to stdout when path is "-". A file
// is written next to its destination and renamed into place, so a failed
// run never leaves a half-written trace behind.
func WriteTrace(path string, stdout io.Writer, events []chrome.Event, opts chrome.WriteOptions) (int64, error) {
	if path == StdoutPath {
		if stdout == nil {
			stdout = os.Stdout
		}
		cw := &countingWriter{w: stdout}
		err := chrome.Write(cw, events, opts)
		return cw.n, err
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	tmp := f.Name()
	cw := &countingWriter{w: f}
	bw := bufio.NewWriterSize(cw, 256*1024)
	if err := chrome.Write(bw, events, opts); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	// CreateTemp makes the file 0600; a trace is an ordinary output file.
	if err := f.Chmod(outputMode); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return cw.n, nil
}
