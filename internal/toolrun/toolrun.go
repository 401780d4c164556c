// Package toolrun runs the external programs x2trace depends on (a
// disassembler and the `file` probe) and captures their output.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Output is everything a finished tool produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner runs one external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// Failure is returned when a tool ran but exited non-zero.
type Failure struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: exit code %d", f.Tool, f.ExitCode)
	if s := strings.TrimSpace(f.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Exec runs commands as local subprocesses.
type Exec struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env, when non-empty, replaces the environment of the subprocess.
	Env []string
	Log *zap.Logger
}

// Run starts name with args and waits for it. If ctx ends first the
// process and its children are killed and ctx.Err() is returned.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Output, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Dir = e.Dir
	cmd.Env = e.Env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	log.Debug("starting tool", zap.Strings("argv", cmd.Args))
	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("start %s: %w", name, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return Output{}, ctx.Err()
	}

	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, fmt.Errorf("wait %s: %w", name, waitErr)
		}
		out.ExitCode = exitErr.ExitCode()
		return out, &Failure{Tool: name, ExitCode: out.ExitCode, Stderr: stderr.String()}
	}
	log.Debug("tool finished", zap.String("tool", name), zap.Int("stdout_bytes", stdout.Len()))
	return out, nil
}
