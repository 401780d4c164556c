package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"x2trace/internal/symbolize"
)

var mapsCmd = &cobra.Command{
	Use:   "maps <maps-file|->",
	Short: "List module load addresses from a process memory map",
	Long: `Print the load address of every file-backed module in a copy of
/proc/<pid>/maps. The value for the traced binary is what convert uses as
its base offset.`,
	Args: cobra.ExactArgs(1),
	RunE: runMaps,
}

func runMaps(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open memory map: %w", err)
		}
		defer f.Close()
		in = f
	}
	bases, err := symbolize.ParseProcMaps(in)
	if err != nil {
		return err
	}
	if len(bases) == 0 {
		return fmt.Errorf("%s: no file-backed mappings", args[0])
	}
	renderMaps(cmd.OutOrStdout(), bases)
	return nil
}

func renderMaps(out io.Writer, bases map[string]uint64) {
	names := make([]string, 0, len(bases))
	for name := range bases {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if bases[names[i]] != bases[names[j]] {
			return bases[names[i]] < bases[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(out, "0x%-16x %s\n", bases[name], name)
	}
}
