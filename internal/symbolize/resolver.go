// Package symbolize maps raw code addresses to function names using a
// disassembly listing, and parses the auxiliary tool outputs the mapping
// needs (process memory maps, ELF bit width).
package symbolize

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Info is what is known about one resolved address.
type Info struct {
	Address      string `msgpack:"address" json:"address"`
	FileLocation string `msgpack:"file_location" json:"file_location,omitempty"`
	FunctionName string `msgpack:"function_name" json:"function_name"`
}

// AddressParseError reports a listing line whose address is not hex.
type AddressParseError struct {
	Text string
}

func (e *AddressParseError) Error() string {
	return fmt.Sprintf("symbolize: malformed address in listing line %q", e.Text)
}

// NormalizeAddresses strips "0x", lowercases, de-duplicates and sorts the
// addresses numerically. Entries that are not hex are dropped.
func NormalizeAddresses(addrs []string) []string {
	seen := make(map[uint64]struct{}, len(addrs))
	vals := make([]uint64, 0, len(addrs))
	for _, a := range addrs {
		v, err := parseAddress(a)
		if err != nil {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.FormatUint(v, 16)
	}
	return out
}

// Key is the result key of a normalized address.
func Key(addr string) string {
	return "0x" + addr
}

func parseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(s, 16, 64)
}

type target struct {
	text string
	val  uint64
}

// Resolve scans listing once, matching symbol boundaries against
// addresses. The listing must be in ascending address order, which is how
// objdump prints it. Each listing address is shifted by baseOffset before
// comparison. Addresses without an exact boundary are absent from the
// result; only a malformed listing address is an error.
func Resolve(addresses []string, listing io.Reader, baseOffset uint64) (map[string]Info, error) {
	targets := make([]target, 0, len(addresses))
	for _, a := range NormalizeAddresses(addresses) {
		v, _ := strconv.ParseUint(a, 16, 64)
		targets = append(targets, target{text: a, val: v})
	}
	out := make(map[string]Info)
	if len(targets) == 0 {
		return out, nil
	}

	sc := bufio.NewScanner(listing)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	fileLocation := ""
	next := 0
	for next < len(targets) && sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "/") {
			fileLocation = strings.TrimSpace(line)
			continue
		}
		addrField, name, ok := boundary(line)
		if !ok {
			continue
		}
		v, err := parseAddress(addrField)
		if err != nil {
			return nil, &AddressParseError{Text: line}
		}
		v += baseOffset

		for next < len(targets) && v > targets[next].val {
			next++
		}
		if next < len(targets) && v == targets[next].val {
			key := Key(targets[next].text)
			out[key] = Info{
				Address:      key,
				FileLocation: fileLocation,
				FunctionName: name,
			}
			next++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("symbolize: read listing: %w", err)
	}
	return out, nil
}

// boundary reports whether line opens a symbol: "<hex> <name>" with an
// optional trailing colon, leading zeros or spaces allowed. Lines whose
// name carries a "+offset" sit inside a function and are not boundaries.
func boundary(line string) (addr, name string, ok bool) {
	if line == "" || !(line[0] == '0' || line[0] == ' ' || line[0] == '\t') {
		return "", "", false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	sym := strings.TrimSuffix(fields[1], ":")
	if len(sym) < 3 || sym[0] != '<' || sym[len(sym)-1] != '>' {
		return "", "", false
	}
	sym = sym[1 : len(sym)-1]
	if strings.Contains(sym, "+") {
		return "", "", false
	}
	return fields[0], sym, true
}
