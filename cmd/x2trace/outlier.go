package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"x2trace/internal/analyze"
)

var outlierCmd = &cobra.Command{
	Use:   "outlier [flags] <trace.json|->",
	Short: "Report calls that take far longer than usual",
	Long: `Measure every call span of a Chrome trace per function and report the
calls whose distance from the function's median duration is at least --th
median absolute deviations. Functions called fewer than --call times and
outliers shorter than --min milliseconds are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runOutlier,
}

func init() {
	def := analyze.DefaultOutlierOptions()
	f := outlierCmd.Flags()
	f.Float64("min", float64(def.Min)/float64(time.Millisecond), "minimum outlier duration in ms")
	f.Float64("th", def.Threshold, "outlier threshold in median absolute deviations")
	f.Int("call", def.MinCalls, "minimum number of calls per function")
	f.Var(newEnum("text", "text", "json"), "output-format", "output format (text|json)")
}

func runOutlier(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	flags := cmd.Flags()
	minMS, err := flags.GetFloat64("min")
	if err != nil {
		return fmt.Errorf("failed to get min flag: %w", err)
	}
	th, err := flags.GetFloat64("th")
	if err != nil {
		return fmt.Errorf("failed to get th flag: %w", err)
	}
	minCalls, err := flags.GetInt("call")
	if err != nil {
		return fmt.Errorf("failed to get call flag: %w", err)
	}
	format, err := flags.GetString("output-format")
	if err != nil {
		return fmt.Errorf("failed to get output-format flag: %w", err)
	}

	events, _, err := readTraceFile(cmd, args[0])
	if err != nil {
		return err
	}
	report := analyze.Outliers(events, analyze.OutlierOptions{
		Threshold: th,
		Min:       msDuration(minMS),
		MinCalls:  minCalls,
	}, sess.log)

	if format == "json" {
		return renderOutliersJSON(cmd.OutOrStdout(), report)
	}
	renderOutliersText(cmd.OutOrStdout(), report)
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func renderOutliersText(out io.Writer, report []analyze.FunctionOutliers) {
	label := color.New(color.FgGreen, color.Bold).SprintFunc()
	name := color.New(color.FgMagenta, color.Bold).SprintFunc()
	for _, fn := range report {
		fmt.Fprintf(out, "%s: %s (%s calls)\n", label("name"), name(fn.Name), humanize.Comma(int64(fn.Calls)))
		fmt.Fprintf(out, "%s: %.3f  %s: %.3f\n", label("median(ms)"), millis(fn.Median), label("mad(ms)"), millis(fn.MAD))
		fmt.Fprintf(out, "%s:\n", label("outliers(ms)"))
		for _, c := range fn.Outliers {
			fmt.Fprintf(out, "  %.3f at %.3f\n", millis(c.Duration), millis(c.Start))
		}
		fmt.Fprintln(out)
	}
}

type outlierCallJSON struct {
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
}

type outlierJSON struct {
	Name     string            `json:"name"`
	Calls    int               `json:"calls"`
	MedianMS float64           `json:"median_ms"`
	MADMS    float64           `json:"mad_ms"`
	Outliers []outlierCallJSON `json:"outliers"`
}

func renderOutliersJSON(out io.Writer, report []analyze.FunctionOutliers) error {
	payload := make([]outlierJSON, 0, len(report))
	for _, fn := range report {
		o := outlierJSON{
			Name:     fn.Name,
			Calls:    fn.Calls,
			MedianMS: millis(fn.Median),
			MADMS:    millis(fn.MAD),
			Outliers: make([]outlierCallJSON, 0, len(fn.Outliers)),
		}
		for _, c := range fn.Outliers {
			o.Outliers = append(o.Outliers, outlierCallJSON{StartMS: millis(c.Start), DurationMS: millis(c.Duration)})
		}
		payload = append(payload, o)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
