// Command x2trace converts function-call instrumentation captures into
// Chrome Trace Event JSON.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"x2trace/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "x2trace",
	Short: "Convert call-instrumentation captures to Chrome traces",
	Long: `x2trace decodes per-thread function-call captures (binary or text),
pairs enter and exit records into call spans, optionally names them from a
disassembly of the traced binary, and writes Chrome Trace Event JSON for
chrome://tracing or Perfetto.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupSession,
}

// main registers subcommands and persistent flags, runs the root command
// under an interrupt-cancelled context and exits 1 on error.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(symbolizeCmd)
	rootCmd.AddCommand(mapsCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(outlierCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to x2trace.toml (default: nearest one up from the working directory)")
	pf.Var(newEnum("info", "debug", "info", "warn", "error"), "log-level", "log level (debug|info|warn|error)")
	pf.Var(newEnum("auto", "auto", "on", "off"), "color", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress non-essential output")
	pf.Bool("timings", false, "show timing information")
	pf.Int("max-warnings", 100, "maximum number of warnings to keep (0 = unlimited)")
	pf.String("trace", "", "write a self-trace of x2trace to this file (- for stderr)")
	pf.Var(newEnum("off", "off", "error", "stage", "buffer", "debug"), "trace-level", "self-trace level (off|error|stage|buffer|debug)")
	pf.Var(newEnum("stream", "stream", "ring", "both", "log"), "trace-mode", "self-trace storage (stream|ring|both|log)")
	pf.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	pf.Duration("trace-heartbeat", 0, "emit a self-trace heartbeat at this interval (0 = off)")
	pf.String("cpu-profile", "", "write a CPU profile to this file")
	pf.String("mem-profile", "", "write a heap profile to this file on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace to this file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
		os.Exit(1)
	}
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
