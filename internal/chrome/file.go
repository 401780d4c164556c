package chrome

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Container selects the top-level JSON shape of a trace file.
type Container uint8

const (
	// ContainerArray writes a bare array of events.
	ContainerArray Container = iota
	// ContainerObject writes {"traceEvents": [...]}.
	ContainerObject
)

// String returns the flag spelling of c.
func (c Container) String() string {
	switch c {
	case ContainerArray:
		return "array"
	case ContainerObject:
		return "object"
	default:
		return "unknown"
	}
}

// ParseContainer converts a flag value to a Container.
func ParseContainer(s string) (Container, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "array":
		return ContainerArray, nil
	case "object":
		return ContainerObject, nil
	default:
		return ContainerArray, fmt.Errorf("invalid container: %q (expected: array|object)", s)
	}
}

// WriteOptions controls File output.
type WriteOptions struct {
	Container Container
	Indent    bool
	// DisplayTimeUnit is only written for ContainerObject ("ms" or "ns").
	DisplayTimeUnit string
}

type objectFile struct {
	TraceEvents     []Event `json:"traceEvents"`
	DisplayTimeUnit string  `json:"displayTimeUnit,omitempty"`
}

// Write serializes events to w in the requested container.
func Write(w io.Writer, events []Event, opts WriteOptions) error {
	if events == nil {
		events = []Event{}
	}

	var root any = events
	if opts.Container == ContainerObject {
		root = objectFile{TraceEvents: events, DisplayTimeUnit: opts.DisplayTimeUnit}
	}

	var (
		data []byte
		err  error
	)
	if opts.Indent {
		data, err = json.MarshalIndent(root, "", "  ")
	} else {
		data, err = json.Marshal(root)
	}
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}
