package convert

import (
	"path/filepath"
	"strconv"
)

// TIDFromName returns the last run of decimal digits in the base name of
// path, so "trace.1234.bin" is thread 1234. Names without digits (or
// with more digits than fit an int) get fallback.
func TIDFromName(path string, fallback int) int {
	base := filepath.Base(path)
	end := -1
	for i := len(base) - 1; i >= 0; i-- {
		if isDigit(base[i]) {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return fallback
	}
	start := end - 1
	for start > 0 && isDigit(base[start-1]) {
		start--
	}
	tid, err := strconv.Atoi(base[start:end])
	if err != nil {
		return fallback
	}
	return tid
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
