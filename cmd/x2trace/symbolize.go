package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"x2trace/internal/convert"
	"x2trace/internal/symbolize"
)

var symbolizeCmd = &cobra.Command{
	Use:   "symbolize --bin <file> [flags] <addr>...",
	Short: "Resolve code addresses to function names",
	Long: `Resolve hex code addresses against a disassembly of --bin. Only the
first address of a function resolves; addresses inside a function body are
reported as unknown.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSymbolize,
}

func init() {
	f := symbolizeCmd.Flags()
	f.String("bin", "", "binary to disassemble")
	f.String("objdump", "", "disassembler command (default $OBJDUMP or objdump)")
	f.String("base-offset", "", "hex load address added to listing addresses")
	f.String("proc-maps", "", "memory map to read the load address from")
	f.String("module", "", "module name in --proc-maps (default: base name of --bin)")
	f.Bool("no-cache", false, "do not read or write the symbol cache")
	f.Var(newEnum("text", "text", "json"), "output-format", "output format (text|json)")
}

func runSymbolize(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	symbols, cache, err := symbolSettings(cmd.Flags())
	if err != nil {
		return err
	}
	if symbols == nil {
		return fmt.Errorf("--bin is required")
	}
	format, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return fmt.Errorf("failed to get output-format flag: %w", err)
	}

	req := &convert.Request{
		Symbols: symbols,
		Runner:  toolRunner(),
		Cache:   cache,
		Log:     sess.log,
	}
	table, _, err := convert.Symbols(cmd.Context(), req, args)
	if err != nil {
		return err
	}

	addrs := symbolize.NormalizeAddresses(args)
	if format == "json" {
		return renderSymbolsJSON(cmd.OutOrStdout(), addrs, table)
	}
	renderSymbolsText(cmd.OutOrStdout(), addrs, table)
	return nil
}

func renderSymbolsText(out io.Writer, addrs []string, table map[string]symbolize.Info) {
	for _, a := range addrs {
		key := symbolize.Key(a)
		info, ok := table[key]
		if !ok {
			fmt.Fprintf(out, "%-18s ??\n", key)
			continue
		}
		if info.FileLocation != "" {
			fmt.Fprintf(out, "%-18s %s %s\n", key, info.FunctionName, info.FileLocation)
		} else {
			fmt.Fprintf(out, "%-18s %s\n", key, info.FunctionName)
		}
	}
}

func renderSymbolsJSON(out io.Writer, addrs []string, table map[string]symbolize.Info) error {
	payload := struct {
		Resolved   []symbolize.Info `json:"resolved"`
		Unresolved []string         `json:"unresolved"`
	}{Resolved: []symbolize.Info{}, Unresolved: []string{}}
	for _, a := range addrs {
		if info, ok := table[symbolize.Key(a)]; ok {
			payload.Resolved = append(payload.Resolved, info)
		} else {
			payload.Unresolved = append(payload.Unresolved, symbolize.Key(a))
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
