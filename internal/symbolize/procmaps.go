package symbolize

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// ParseProcMaps reads a /proc/<pid>/maps listing and returns the load base
// of every file-backed module, keyed by file base name. Only mappings at
// file offset 0 count, and the first one per name wins. Lines that do not
// parse, or map anonymous memory, are skipped.
func ParseProcMaps(r io.Reader) (map[string]uint64, error) {
	bases := make(map[string]uint64)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name, begin, ok := parseMapsLine(sc.Text())
		if !ok {
			continue
		}
		if _, dup := bases[name]; dup {
			continue
		}
		bases[name] = begin
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read maps: %w", err)
	}
	return bases, nil
}

// address perms offset dev inode pathname
func parseMapsLine(line string) (name string, begin uint64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return "", 0, false
	}
	lo, _, found := strings.Cut(fields[0], "-")
	if !found {
		return "", 0, false
	}
	begin, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return "", 0, false
	}
	off, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil || off != 0 {
		return "", 0, false
	}
	path := strings.Join(fields[5:], " ")
	if !strings.HasPrefix(path, "/") {
		return "", 0, false
	}
	path = strings.TrimSuffix(path, " (deleted)")
	return filepath.Base(path), begin, true
}
