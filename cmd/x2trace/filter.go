package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"x2trace/internal/analyze"
	"x2trace/internal/chrome"
	"x2trace/internal/convert"
)

var filterCmd = &cobra.Command{
	Use:   "filter [flags] <trace.json|->",
	Short: "Cut a trace down to a time window and a set of functions",
	Long: `Keep the spans of a Chrome trace that overlap a time window and whose
names match --include but not --exclude. The window is given in
milliseconds from the first event. B/E pairs are kept or dropped together;
metadata events are always kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runFilter,
}

func init() {
	f := filterCmd.Flags()
	f.Float64P("begin", "b", 0, "window start in ms from the first event")
	f.Float64P("end", "e", analyze.DefaultWindowEnd.Seconds()*1000, "window end in ms from the first event")
	f.String("include", "", "keep only names matching this regex (anchored at the start)")
	f.String("exclude", "", "drop names matching this regex (anchored at the start)")
	f.StringP("output", "o", convert.StdoutPath, "output file (- for stdout)")
	f.Var(newEnum("input", "input", "array", "object"), "container", "output JSON container (input|array|object)")
	f.Bool("indent", false, "indent the output JSON")
}

func runFilter(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	flags := cmd.Flags()
	begin, err := flags.GetFloat64("begin")
	if err != nil {
		return fmt.Errorf("failed to get begin flag: %w", err)
	}
	end, err := flags.GetFloat64("end")
	if err != nil {
		return fmt.Errorf("failed to get end flag: %w", err)
	}
	opts := analyze.FilterOptions{Begin: msDuration(begin), End: msDuration(end)}
	include, err := flags.GetString("include")
	if err != nil {
		return fmt.Errorf("failed to get include flag: %w", err)
	}
	if opts.Include, err = analyze.CompileNamePattern(include); err != nil {
		return fmt.Errorf("--include: %w", err)
	}
	exclude, err := flags.GetString("exclude")
	if err != nil {
		return fmt.Errorf("failed to get exclude flag: %w", err)
	}
	if opts.Exclude, err = analyze.CompileNamePattern(exclude); err != nil {
		return fmt.Errorf("--exclude: %w", err)
	}
	output, err := flags.GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	containerFlag, err := flags.GetString("container")
	if err != nil {
		return fmt.Errorf("failed to get container flag: %w", err)
	}
	indent, err := flags.GetBool("indent")
	if err != nil {
		return fmt.Errorf("failed to get indent flag: %w", err)
	}

	events, container, err := readTraceFile(cmd, args[0])
	if err != nil {
		return err
	}
	kept, err := analyze.Filter(events, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	if containerFlag != "input" {
		if container, err = chrome.ParseContainer(containerFlag); err != nil {
			return err
		}
	}
	if _, err := convert.WriteTrace(output, cmd.OutOrStdout(), kept, chrome.WriteOptions{
		Container: container,
		Indent:    indent,
	}); err != nil {
		return err
	}
	sess.log.Info("filtered trace",
		zap.String("input", args[0]),
		zap.Int("kept", len(kept)),
		zap.Int("total", len(events)))
	return nil
}

// readTraceFile reads a Chrome trace from path, or stdin for "-".
func readTraceFile(cmd *cobra.Command, path string) ([]chrome.Event, chrome.Container, error) {
	if path == convert.StdoutPath {
		return chrome.Read(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, chrome.ContainerArray, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()
	events, container, err := chrome.Read(f)
	if err != nil {
		return nil, container, fmt.Errorf("%s: %w", path, err)
	}
	return events, container, nil
}

// msDuration converts a millisecond flag value.
func msDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}
