package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"x2trace/internal/chrome"
	"x2trace/internal/config"
	"x2trace/internal/convert"
	"x2trace/internal/decode"
	"x2trace/internal/diag"
	"x2trace/internal/observ"
	"x2trace/internal/symcache"
	"x2trace/internal/toolrun"
)

// ObjdumpEnv overrides the configured disassembler command.
const ObjdumpEnv = "OBJDUMP"

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <input>...",
	Short: "Convert captures to a Chrome trace",
	Long: `Convert one or more per-thread captures into a single Chrome trace.
Each input is one thread; its thread id is the last number in the file name.
Files ending in .txt or .log are read as text, everything else as binary.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringP("output", "o", "out.json", "trace file to write (- for stdout)")
	f.String("bin", "", "binary the captures came from; enables symbolization")
	f.String("objdump", "", "disassembler command (default $OBJDUMP or objdump)")
	f.String("base-offset", "", "hex load address added to listing addresses")
	f.String("proc-maps", "", "memory map (/proc/<pid>/maps copy) to read the load address from")
	f.String("module", "", "module name in --proc-maps (default: base name of --bin)")
	f.Var(newEnum("current", "current", "legacy"), "epoch", "binary record layout (current|legacy)")
	f.Var(newEnum("auto", "auto", "32", "64"), "width", "address width of the traced program (auto|32|64)")
	f.Var(newEnum("auto", "auto", "binary", "text"), "format", "input format (auto|binary|text)")
	f.Var(newEnum("drop", "drop", "flush"), "leftover", "calls still open at end of input (drop|flush)")
	f.Int("pid", 1, "process id written to every event")
	f.Int("jobs", 0, "max parallel decoders (0=auto)")
	f.Bool("keep-going", false, "keep partial results of broken inputs and report all failures")
	f.Var(newEnum("array", "array", "object"), "container", "JSON container (array|object)")
	f.Bool("indent", true, "indent the JSON output")
	f.Bool("thread-names", false, "label threads with their input file names")
	f.Bool("normalize-names", false, "apply Unicode NFC to names from text payloads")
	f.Bool("no-cache", false, "do not read or write the symbol cache")
	f.Var(newEnum("auto", "auto", "on", "off"), "ui", "progress view (auto|on|off)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	req, err := buildConvertRequest(cmd, args)
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	showTimings, err := rootBool(cmd, "timings")
	if err != nil {
		return err
	}

	var res convert.Result
	if shouldUseTUI(mode, req.Output == convert.StdoutPath, sess.quiet) {
		res, err = runConvertWithUI(cmd.Context(), "converting", req)
	} else {
		res, err = convert.Run(cmd.Context(), req)
	}

	stderr := cmd.ErrOrStderr()
	if res.OutputPath != "" && !sess.quiet {
		printConvertSummary(stderr, res)
	}
	if res.Diagnostics != nil && res.Diagnostics.Dropped() > 0 {
		fmt.Fprintf(stderr, "%d more diagnostics not shown (raise --max-warnings)\n", res.Diagnostics.Dropped())
	}
	if showTimings {
		printStageTimings(stderr, res.Timings, req.Timer)
	}
	return err
}

// buildConvertRequest merges x2trace.toml with the command line; flags
// that were set explicitly win.
func buildConvertRequest(cmd *cobra.Command, args []string) (*convert.Request, error) {
	flags := cmd.Flags()
	cc := sess.cfg.Convert

	output, err := stringSetting(flags, "output", cc.Output)
	if err != nil {
		return nil, err
	}
	epochValue, err := stringSetting(flags, "epoch", cc.Epoch)
	if err != nil {
		return nil, err
	}
	epoch, err := decode.ParseEpoch(epochValue)
	if err != nil {
		return nil, err
	}
	widthValue, err := stringSetting(flags, "width", cc.Width)
	if err != nil {
		return nil, err
	}
	width, err := decode.ParseWidth(widthValue)
	if err != nil {
		return nil, err
	}
	formatValue, err := stringSetting(flags, "format", cc.Format)
	if err != nil {
		return nil, err
	}
	format, err := config.ParseFormat(formatValue)
	if err != nil {
		return nil, err
	}
	leftoverValue, err := stringSetting(flags, "leftover", cc.Leftover)
	if err != nil {
		return nil, err
	}
	leftover, err := decode.ParseLeftoverPolicy(leftoverValue)
	if err != nil {
		return nil, err
	}
	containerValue, err := stringSetting(flags, "container", cc.Container)
	if err != nil {
		return nil, err
	}
	container, err := chrome.ParseContainer(containerValue)
	if err != nil {
		return nil, err
	}
	pid, err := intSetting(flags, "pid", cc.PID)
	if err != nil {
		return nil, err
	}
	jobs, err := intSetting(flags, "jobs", cc.Jobs)
	if err != nil {
		return nil, err
	}
	if jobs < 0 {
		return nil, fmt.Errorf("--jobs must be >= 0, got %d", jobs)
	}
	keepGoing, err := boolSetting(flags, "keep-going", cc.KeepGoing)
	if err != nil {
		return nil, err
	}
	indent, err := boolSetting(flags, "indent", cc.Indent)
	if err != nil {
		return nil, err
	}
	threadNames, err := boolSetting(flags, "thread-names", cc.ThreadNames)
	if err != nil {
		return nil, err
	}
	normalize, err := boolSetting(flags, "normalize-names", cc.NormalizeNames)
	if err != nil {
		return nil, err
	}
	maxWarnings, err := intSetting(cmd.Root().PersistentFlags(), "max-warnings", cc.MaxWarnings)
	if err != nil {
		return nil, err
	}

	symbols, cache, err := symbolSettings(flags)
	if err != nil {
		return nil, err
	}

	return &convert.Request{
		Inputs:         args,
		Output:         output,
		Stdout:         cmd.OutOrStdout(),
		Format:         format,
		Epoch:          epoch,
		Width:          width,
		Leftover:       leftover,
		PID:            pid,
		Jobs:           jobs,
		KeepGoing:      keepGoing,
		NormalizeNames: normalize,
		MaxWarnings:    maxWarnings,
		Container:      container,
		Indent:         indent,
		ThreadNames:    threadNames,
		Symbols:        symbols,
		Runner:         toolRunner(),
		Cache:          cache,
		Log:            sess.log,
		Timer:          observ.NewTimer(),
	}, nil
}

func toolRunner() toolrun.Runner {
	return &toolrun.Exec{Log: sess.log.Named("tool")}
}

// symbolSettings reads the symbolization flags shared by convert and
// symbolize. It returns nil options when no binary is configured.
func symbolSettings(flags *pflag.FlagSet) (*convert.SymbolOptions, *symcache.Cache, error) {
	sc := sess.cfg.Symbols

	binary, err := stringSetting(flags, "bin", sc.Binary)
	if err != nil {
		return nil, nil, err
	}
	if binary == "" {
		return nil, nil, nil
	}
	objdump, err := objdumpCommand(flags, sc.Objdump, os.Getenv(ObjdumpEnv))
	if err != nil {
		return nil, nil, err
	}
	offsetValue, err := stringSetting(flags, "base-offset", sc.BaseOffset)
	if err != nil {
		return nil, nil, err
	}
	offset, hasOffset, err := baseOffsetSetting(offsetValue)
	if err != nil {
		return nil, nil, err
	}
	procMaps, err := stringSetting(flags, "proc-maps", sc.ProcMaps)
	if err != nil {
		return nil, nil, err
	}
	module, err := stringSetting(flags, "module", sc.Module)
	if err != nil {
		return nil, nil, err
	}
	if hasOffset && procMaps != "" {
		sess.log.Warn("--base-offset wins over --proc-maps", zap.String("proc_maps", procMaps))
	}

	opts := &convert.SymbolOptions{
		Binary:        binary,
		Objdump:       objdump,
		BaseOffset:    offset,
		HasBaseOffset: hasOffset,
		ProcMaps:      procMaps,
		Module:        module,
	}

	noCache, err := flags.GetBool("no-cache")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get no-cache flag: %w", err)
	}
	if noCache || !sc.Cache {
		return opts, nil, nil
	}
	cache, err := symcache.Open(sc.CacheDir)
	if err != nil {
		sess.log.Warn("symbol cache unavailable", zap.Error(err))
		return opts, nil, nil
	}
	return opts, cache, nil
}

// baseOffsetSetting parses a --base-offset or [symbols].base_offset value.
// An explicit "0" counts as given.
func baseOffsetSetting(value string) (uint64, bool, error) {
	if strings.TrimSpace(value) == "" {
		return 0, false, nil
	}
	offset, err := config.ParseOffset(value)
	if err != nil {
		return 0, false, fmt.Errorf("--base-offset: %w", err)
	}
	return offset, true, nil
}

// objdumpCommand picks the disassembler: --objdump, then $OBJDUMP, then
// [symbols].objdump, then the default.
func objdumpCommand(flags *pflag.FlagSet, configured, env string) (string, error) {
	if flags.Changed("objdump") {
		v, err := flags.GetString("objdump")
		if err != nil {
			return "", fmt.Errorf("failed to get objdump flag: %w", err)
		}
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("--objdump is empty")
		}
		return v, nil
	}
	if strings.TrimSpace(env) != "" {
		return env, nil
	}
	if configured != "" {
		return configured, nil
	}
	return toolrun.DefaultObjdump, nil
}

func printConvertSummary(out io.Writer, res convert.Result) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	dest := res.OutputPath
	if dest == convert.StdoutPath {
		dest = "stdout"
	}
	size, _ := safecast.Conv[uint64](res.OutputBytes)
	line := fmt.Sprintf("%s %s: %s events, %s from %d inputs",
		ok("wrote"), dest, humanize.Comma(int64(res.Events)), humanize.IBytes(size), len(res.Buffers))
	if s := res.Symbols; s.Requested > 0 {
		line += fmt.Sprintf("; symbols %d/%d resolved", s.Resolved, s.Requested)
		if s.CacheHits > 0 {
			line += fmt.Sprintf(" (%d cached)", s.CacheHits)
		}
	}
	if res.Diagnostics != nil {
		var errs, warns int
		for _, d := range res.Diagnostics.Items() {
			switch d.Severity {
			case diag.SevError:
				errs++
			case diag.SevWarning:
				warns++
			}
		}
		if errs > 0 {
			line += "; " + color.RedString("%d errors", errs)
		}
		if warns > 0 {
			line += "; " + color.YellowString("%d warnings", warns)
		}
	}
	fmt.Fprintln(out, line)
}
