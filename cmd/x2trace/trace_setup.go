package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"x2trace/internal/selftrace"
)

// setupTracing inspects trace-related flags and initializes the tracer.
// It returns a cleanup function and an error if initialization fails.
func setupTracing(cmd *cobra.Command, log *zap.Logger) (func(), error) {
	root := cmd.Root()

	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := root.PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := selftrace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	// --trace without a level traces stages
	if level == selftrace.LevelOff && traceOutput != "" {
		level = selftrace.LevelStage
	}
	if level == selftrace.LevelOff {
		cmd.SetContext(selftrace.WithTracer(cmd.Context(), selftrace.Nop))
		return func() {}, nil
	}

	mode, err := selftrace.ParseMode(modeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}

	tracer, err := selftrace.New(selftrace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeatInterval,
		Logger:     log.Named("trace"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	span := selftrace.Begin(tracer, selftrace.ScopeCommand, cmd.CommandPath(), 0)
	ctx := selftrace.WithTracer(cmd.Context(), tracer)
	ctx = selftrace.WithSpan(ctx, span)
	cmd.SetContext(ctx)

	var heartbeat *selftrace.Heartbeat
	if heartbeatInterval > 0 {
		heartbeat = selftrace.StartHeartbeat(tracer, heartbeatInterval)
	}
	sess.ring = selftrace.RingOf(tracer)

	cleanup := func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
		span.End("")
		// ring-only traces are written at exit
		if mode == selftrace.ModeRing && sess.ring != nil {
			if err := dumpRing(traceOutput); err != nil {
				fmt.Fprintf(os.Stderr, "trace: dump error: %v\n", err)
			}
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "trace: close error: %v\n", err)
		}
		sess.ring = nil
	}
	return cleanup, nil
}

func dumpRing(path string) error {
	if path == "" || path == "-" {
		return sess.ring.Dump(os.Stderr, selftrace.FormatText)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sess.ring.Dump(f, selftrace.FormatForPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// dumpTraceOnPanic writes the ring buffer, if any, to stderr before
// re-panicking, so the last spans before a crash are visible.
func dumpTraceOnPanic() {
	r := recover()
	if r == nil {
		return
	}
	if sess.ring != nil {
		fmt.Fprintln(os.Stderr, "panic: last trace events:")
		_ = sess.ring.Dump(os.Stderr, selftrace.FormatText)
	}
	panic(r)
}
