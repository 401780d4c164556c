package toolrun

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/shlex"
)

// DefaultObjdump is the disassembler command used when none is configured.
const DefaultObjdump = "objdump"

// ObjdumpArgs make objdump print one line per instruction, prefixed with
// its address and enclosing symbol, with source locations interleaved.
var ObjdumpArgs = []string{"--disassemble", "--prefix-addresses", "--line-numbers"}

// SplitCommand turns a shell-like command string into argv.
func SplitCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

// Disassemble runs the disassembler command on binary and returns its
// listing. command may carry extra arguments, e.g. "llvm-objdump -C".
func Disassemble(ctx context.Context, r Runner, command, binary string) ([]byte, error) {
	if command == "" {
		command = DefaultObjdump
	}
	argv, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	args := append(append(argv[1:len(argv):len(argv)], ObjdumpArgs...), binary)
	out, err := r.Run(ctx, argv[0], args...)
	if err != nil {
		return nil, fmt.Errorf("disassemble %s: %w", binary, err)
	}
	return out.Stdout, nil
}

// Probe runs `file` on binary and returns its output.
func Probe(ctx context.Context, r Runner, binary string) (string, error) {
	out, err := r.Run(ctx, "file", binary)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", binary, err)
	}
	return string(out.Stdout), nil
}
