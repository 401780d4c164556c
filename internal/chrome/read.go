package chrome

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

type inEvent struct {
	Name     string                     `json:"name"`
	Category string                     `json:"cat"`
	Phase    Phase                      `json:"ph"`
	TS       json.Number                `json:"ts"`
	Dur      json.Number                `json:"dur"`
	PID      json.RawMessage            `json:"pid"`
	TID      json.RawMessage            `json:"tid"`
	Scope    Scope                      `json:"s"`
	ID       json.RawMessage            `json:"id"`
	Args     map[string]json.RawMessage `json:"args"`
}

// UnmarshalJSON reads an event written by this package or by another
// producer. Non-string args and ids are kept as their compact JSON text.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in inEvent
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ev := Event{
		Name:     in.Name,
		Category: in.Category,
		Phase:    in.Phase,
		Scope:    in.Scope,
	}
	var err error
	if in.TS != "" {
		if ev.Timestamp, err = ParseMicros(string(in.TS)); err != nil {
			return fmt.Errorf("ts: %w", err)
		}
	}
	if in.Dur != "" {
		if ev.Duration, err = ParseMicros(string(in.Dur)); err != nil {
			return fmt.Errorf("dur: %w", err)
		}
	}
	if ev.PID, err = intField(in.PID); err != nil {
		return fmt.Errorf("pid: %w", err)
	}
	if ev.TID, err = intField(in.TID); err != nil {
		return fmt.Errorf("tid: %w", err)
	}
	ev.ID = textField(in.ID)
	for k, v := range in.Args {
		ev.SetArg(k, textField(v))
	}
	*e = ev
	return nil
}

func intField(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s is not an integer", raw)
	}
	return v, nil
}

func textField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ParseMicros is the inverse of Micros: it reads a microsecond count,
// keeping nanosecond precision for decimal input. Exponent notation goes
// through float64.
func ParseMicros(s string) (time.Duration, error) {
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		ns := math.Round(f * 1000)
		if math.Abs(ns) >= math.MaxInt64 {
			return 0, fmt.Errorf("%s out of range", s)
		}
		return time.Duration(ns), nil
	}

	neg := strings.HasPrefix(s, "-")
	whole, frac, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	us, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad microsecond value %q", s)
	}
	if us > math.MaxInt64/1000 {
		return 0, fmt.Errorf("%s out of range", s)
	}
	var ns uint64
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		frac += strings.Repeat("0", 3-len(frac))
		if ns, err = strconv.ParseUint(frac, 10, 64); err != nil {
			return 0, fmt.Errorf("bad microsecond value %q", s)
		}
	}
	d := time.Duration(us*1000 + ns)
	if neg {
		d = -d
	}
	return d, nil
}

type inFile struct {
	TraceEvents     []Event `json:"traceEvents"`
	DisplayTimeUnit string  `json:"displayTimeUnit"`
}

// Read parses a trace file in either container and reports which one it
// was.
func Read(r io.Reader) ([]Event, Container, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ContainerArray, fmt.Errorf("read trace: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ContainerArray, fmt.Errorf("read trace: empty input")
	}
	switch data[0] {
	case '[':
		var events []Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, ContainerArray, fmt.Errorf("decode trace: %w", err)
		}
		return events, ContainerArray, nil
	case '{':
		var f inFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, ContainerObject, fmt.Errorf("decode trace: %w", err)
		}
		return f.TraceEvents, ContainerObject, nil
	}
	return nil, ContainerArray, fmt.Errorf("decode trace: want a JSON array or object, got %q", data[0])
}
