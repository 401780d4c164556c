package decode

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fortio.org/safecast"

	"x2trace/internal/chrome"
)

// ArgCaller holds the caller address of text-format calls.
const ArgCaller = "caller"

// DecodeText reconstructs call events from the line-oriented format
// described by TextGrammar. Unlike Decode, one buffer may interleave
// several threads; each tid gets its own stack. Only PID, Leftover and
// Buffer of opts are used. Errors carry the 1-based line number in Line
// and the byte offset of the line start in Offset.
func DecodeText(buf []byte, opts Options) (*Result, error) {
	res := &Result{}
	stacks := make(map[int][]chrome.Event)

	// end counts consumed bytes, terminators included, so error offsets
	// stay exact for CRLF input too.
	end := 0
	sc := bufio.NewScanner(bytes.NewReader(buf))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		end += advance
		return advance, token, err
	})

	lineNo := 0
	offset := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		lineStart := offset
		offset = end

		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, perr := parseTextLine(line)
		if perr != nil {
			perr.Buffer = opts.Buffer
			perr.Line = lineNo
			res.Offset = lineStart
			return res, perr
		}

		if rec.enter {
			ev := chrome.Event{
				Name:      AddressName(rec.callee),
				Category:  CategoryCall,
				Phase:     chrome.PhaseBegin,
				Timestamp: rec.ts,
				PID:       opts.PID,
				TID:       rec.tid,
			}
			ev.SetArg(ArgCaller, AddressName(rec.caller))
			stacks[rec.tid] = append(stacks[rec.tid], ev)
			continue
		}

		stack := stacks[rec.tid]
		if len(stack) == 0 {
			res.Offset = lineStart
			return res, &Error{Buffer: opts.Buffer, Offset: lineStart, Line: lineNo, Kind: KindStackUnderflow}
		}
		begin := stack[len(stack)-1]
		stacks[rec.tid] = stack[:len(stack)-1]
		if rec.ts < begin.Timestamp {
			res.Offset = lineStart
			return res, &Error{Buffer: opts.Buffer, Offset: lineStart, Line: lineNo, Kind: KindMalformedRecord}
		}
		res.Events = append(res.Events, complete(begin, rec.ts))
	}
	if err := sc.Err(); err != nil {
		res.Offset = offset
		return res, fmt.Errorf("%s: read text trace: %w", opts.Buffer, err)
	}
	res.Offset = len(buf)

	tids := make([]int, 0, len(stacks))
	for tid, stack := range stacks {
		if len(stack) > 0 {
			tids = append(tids, tid)
		}
	}
	sort.Ints(tids)
	for _, tid := range tids {
		stack := stacks[tid]
		res.Warnings = append(res.Warnings, Warning{
			Kind:   WarnLeftoverStack,
			Offset: res.Offset,
			Count:  len(stack),
			TID:    tid,
		})
		if opts.Leftover == LeftoverFlush {
			res.Events = append(res.Events, stack...)
		}
	}
	return res, nil
}

type textRecord struct {
	tid    int
	ts     time.Duration
	enter  bool
	caller uint64
	callee uint64
}

func parseTextLine(line string) (textRecord, *ParseError) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return textRecord{}, &ParseError{Text: line, Reason: fmt.Sprintf("want 5 fields, got %d", len(fields))}
	}
	var rec textRecord

	tid, err := strconv.Atoi(fields[0])
	if err != nil {
		return textRecord{}, &ParseError{Text: line, Reason: "bad tid"}
	}
	rec.tid = tid

	ts, err := parseMicros(fields[1])
	if err != nil {
		return textRecord{}, &ParseError{Text: line, Reason: "bad timestamp"}
	}
	rec.ts = ts

	switch fields[2] {
	case "enter":
		rec.enter = true
	case "exit":
	default:
		return textRecord{}, &ParseError{Text: line, Reason: "bad direction"}
	}

	if rec.caller, err = parseHex(fields[3]); err != nil {
		return textRecord{}, &ParseError{Text: line, Reason: "bad caller address"}
	}
	if rec.callee, err = parseHex(fields[4]); err != nil {
		return textRecord{}, &ParseError{Text: line, Reason: "bad callee address"}
	}
	return rec, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// parseMicros reads a non-negative decimal microsecond count exactly;
// digits past nanosecond precision are dropped.
func parseMicros(s string) (time.Duration, error) {
	whole, frac, _ := strings.Cut(s, ".")
	us, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	var ns uint64
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		frac += strings.Repeat("0", 3-len(frac))
		if ns, err = strconv.ParseUint(frac, 10, 64); err != nil {
			return 0, err
		}
	}
	total, err := safecast.Conv[int64](us*1000 + ns)
	if err != nil || us > (1<<63-1)/1000 {
		return 0, fmt.Errorf("timestamp %s out of range", s)
	}
	return time.Duration(total), nil
}
