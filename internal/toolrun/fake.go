package toolrun

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake answers Run from canned outputs keyed by tool name. It records
// every call. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	Outputs map[string]Output
	Calls   [][]string
}

// Run implements Runner. A non-zero canned ExitCode yields a *Failure,
// an unknown tool yields a *Failure with exit code 127.
func (f *Fake) Run(ctx context.Context, name string, args ...string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, append([]string{name}, args...))

	out, ok := f.Outputs[name]
	if !ok {
		return Output{ExitCode: 127}, &Failure{Tool: name, ExitCode: 127, Stderr: fmt.Sprintf("%s: not found", name)}
	}
	if out.ExitCode != 0 {
		return out, &Failure{Tool: name, ExitCode: out.ExitCode, Stderr: string(out.Stderr)}
	}
	return out, nil
}

// CallLines returns the recorded calls joined with spaces.
func (f *Fake) CallLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = strings.Join(c, " ")
	}
	return lines
}
