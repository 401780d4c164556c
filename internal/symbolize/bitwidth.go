package symbolize

import (
	"fmt"
	"strings"

	"x2trace/internal/decode"
)

// ParseBitWidth reads the address width out of `file <binary>` output.
func ParseBitWidth(output string) (decode.Width, error) {
	switch {
	case strings.Contains(output, "32-bit"):
		return decode.Width32, nil
	case strings.Contains(output, "64-bit"):
		return decode.Width64, nil
	}
	return 0, fmt.Errorf("symbolize: cannot tell ELF class from %q", strings.TrimSpace(output))
}
